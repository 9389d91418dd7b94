package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/infrastructure/payment"
	"storefront-orders/internal/observability"
	"storefront-orders/internal/repo/memory"
)

const webhookSecret = "whsec_test"

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, e domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) named(name string) []domain.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Event
	for _, e := range p.events {
		if e.EventName() == name {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store    *memory.Store
	gateway  *payment.MockGateway
	events   *recordingPublisher
	metrics  *observability.Metrics
	orders   OrderService
	recon    ReconciliationService
	customer domain.Actor
	admin    domain.Actor
}

func newFixture(t *testing.T, pricing domain.PricingPolicy) *fixture {
	t.Helper()
	f := &fixture{
		store:    memory.NewStore(),
		gateway:  payment.NewMockGateway(webhookSecret),
		events:   &recordingPublisher{},
		metrics:  observability.NewMetrics(prometheus.NewRegistry()),
		customer: domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer, Email: "ada@example.com"},
		admin:    domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin, Email: "ops@example.com"},
	}
	tel := observability.NewTelemetry(zaptest.NewLogger(t), f.metrics, nil)
	ledger := NewInventoryLedger()
	discounts := NewDiscountCalculator()

	f.orders = NewOrderService(f.store, ledger, discounts, pricing, f.events, tel)
	f.recon = NewReconciliationService(f.store, f.gateway, ledger, discounts, nil, f.events, tel, ReconciliationConfig{
		Currency:    "NGN",
		CallbackURL: "https://shop.test/callback",
		Pricing:     pricing,
		VerifyBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 2)
		},
	})
	return f
}

func (f *fixture) addProduct(t *testing.T, name string, price int64, stock int) *domain.Product {
	t.Helper()
	p := &domain.Product{
		ID:                uuid.New(),
		Name:              name,
		SKU:               "SKU-" + name,
		Price:             decimal.NewFromInt(price),
		StockQuantity:     stock,
		LowStockThreshold: 2,
		TrackQuantity:     true,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	require.NoError(t, f.store.Repos().Inventory.CreateProduct(context.Background(), p))
	return p
}

func (f *fixture) addPercentCoupon(t *testing.T, code string, percent int64) *domain.Coupon {
	t.Helper()
	c := &domain.Coupon{
		ID:        uuid.New(),
		Code:      code,
		Type:      domain.DiscountPercentage,
		Value:     decimal.NewFromInt(percent),
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, f.store.Repos().Coupons.CreateCoupon(context.Background(), c))
	return c
}

func (f *fixture) stock(t *testing.T, id uuid.UUID) int {
	t.Helper()
	p, err := f.store.Repos().Inventory.FindProduct(context.Background(), id)
	require.NoError(t, err)
	return p.StockQuantity
}

func (f *fixture) order(t *testing.T, id uuid.UUID) *domain.Order {
	t.Helper()
	o, err := f.store.Repos().Orders.FindById(context.Background(), id)
	require.NoError(t, err)
	return o
}

func (f *fixture) payment(t *testing.T, ref string) *domain.Payment {
	t.Helper()
	p, err := f.store.Repos().Payments.FindByReference(context.Background(), ref)
	require.NoError(t, err)
	return p
}

func line(p *domain.Product, qty int) domain.CartLine {
	return domain.CartLine{ProductID: p.ID, CategoryID: p.CategoryID, Name: p.Name, UnitPrice: p.Price, Quantity: qty}
}

func checkoutRequest(lines ...domain.CartLine) CheckoutRequest {
	return CheckoutRequest{
		Cart:            domain.Cart{Lines: lines},
		ShippingAddress: domain.Address{Name: "Ada", Street: "1 Marina", City: "Lagos", Country: "NG"},
		BillingAddress:  domain.Address{Name: "Ada", Street: "1 Marina", City: "Lagos", Country: "NG"},
	}
}

// paidOrder checks out a single line and settles its payment.
func (f *fixture) paidOrder(t *testing.T, p *domain.Product, qty int) *CheckoutResult {
	t.Helper()
	ctx := context.Background()
	res, err := f.recon.Checkout(ctx, f.customer, checkoutRequest(line(p, qty)))
	require.NoError(t, err)
	_, err = f.recon.VerifyPayment(ctx, res.Payment.Reference)
	require.NoError(t, err)
	return res
}

var errSinkDown = errors.New("sink down")

var farFuture = time.Now().Add(24 * time.Hour)
