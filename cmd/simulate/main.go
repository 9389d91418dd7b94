package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/infrastructure/payment"
	"storefront-orders/internal/logging"
	"storefront-orders/internal/notify"
	"storefront-orders/internal/observability"
	"storefront-orders/internal/repo/memory"
	"storefront-orders/internal/service"
	"storefront-orders/internal/worker"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const webhookSecret = "whsec_simulation"

type world struct {
	store     *memory.Store
	gateway   *payment.MockGateway
	bus       *notify.Bus
	orders    service.OrderService
	recon     service.ReconciliationService
	confirmed atomic.Int64
	admin     domain.Actor
}

func newWorld(ctx context.Context, logger *zap.Logger, gateway *payment.MockGateway) *world {
	w := &world{
		store:   memory.NewStore(),
		gateway: gateway,
		admin:   domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin},
	}
	tel := observability.NewTelemetry(logger, nil, nil)

	w.bus = notify.NewBus(logger, tel.Metrics)
	w.bus.Subscribe(domain.EventOrderConfirmed, func(context.Context, domain.Event) error {
		w.confirmed.Add(1)
		return nil
	})
	w.bus.Start(ctx)

	ledger, discounts := service.NewInventoryLedger(), service.NewDiscountCalculator()
	w.orders = service.NewOrderService(w.store, ledger, discounts, domain.PricingPolicy{}, w.bus, tel)
	w.recon = service.NewReconciliationService(w.store, gateway, ledger, discounts, nil, w.bus, tel, service.ReconciliationConfig{
		Currency: "NGN",
		// A client poll gets one shot; the sweeper is what cleans up after timeouts.
		VerifyBackOff: func() backoff.BackOff { return &backoff.StopBackOff{} },
	})
	return w
}

func (w *world) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = w.bus.Stop(ctx)
}

func (w *world) product(name string, price int64, stock int) *domain.Product {
	p := &domain.Product{
		ID:                uuid.New(),
		Name:              name,
		Price:             decimal.NewFromInt(price),
		StockQuantity:     stock,
		LowStockThreshold: 2,
		TrackQuantity:     true,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	if err := w.store.Repos().Inventory.CreateProduct(context.Background(), p); err != nil {
		panic(err)
	}
	return p
}

func (w *world) stock(id uuid.UUID) int {
	p, err := w.store.Repos().Inventory.FindProduct(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return p.StockQuantity
}

func customer() domain.Actor {
	return domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer, Email: "buyer@example.com"}
}

func checkout(p *domain.Product, qty int) service.CheckoutRequest {
	return service.CheckoutRequest{
		Cart: domain.Cart{Lines: []domain.CartLine{{
			ProductID: p.ID, Name: p.Name, UnitPrice: p.Price, Quantity: qty,
		}}},
		ShippingAddress: domain.Address{Name: "Buyer", City: "Lagos", Country: "NG"},
	}
}

func main() {
	logger := logging.MustNew("storefront-simulate", "simulation")
	defer logger.Sync()
	// Use case records are noisy here; only warnings reach the terminal.
	logger = logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel))
	zap.ReplaceGlobals(logger)

	ctx := context.Background()
	scenarios := []struct {
		name string
		run  func(context.Context, *zap.Logger) error
	}{
		{"last unit, many buyers", lastUnitRace},
		{"client poll racing the webhook", pollVersusWebhook},
		{"phantom charges and the sweeper", phantomCharges},
		{"bounded refunds", boundedRefunds},
	}

	failed := false
	for _, s := range scenarios {
		fmt.Printf("--- %s ---\n", s.name)
		if err := s.run(ctx, logger); err != nil {
			fmt.Printf("    FAILED: %v\n", err)
			failed = true
			continue
		}
		fmt.Println("    ok")
	}
	if failed {
		os.Exit(1)
	}
}

func lastUnitRace(ctx context.Context, logger *zap.Logger) error {
	w := newWorld(ctx, logger, payment.NewMockGateway(webhookSecret))
	defer w.stop()
	p := w.product("last-kettle", 45000, 1)

	const buyers = 20
	var (
		wg        sync.WaitGroup
		won, lost atomic.Int64
	)
	for range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := w.recon.Checkout(ctx, customer(), checkout(p, 1))
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, domain.ErrInsufficientStock):
				lost.Add(1)
			default:
				fmt.Printf("    unexpected: %v\n", err)
			}
		}()
	}
	wg.Wait()

	fmt.Printf("    %d buyers: %d order, %d out of stock, stock left %d\n", buyers, won.Load(), lost.Load(), w.stock(p.ID))
	if won.Load() != 1 || w.stock(p.ID) != 0 {
		return fmt.Errorf("oversold: %d orders for one unit", won.Load())
	}
	return nil
}

func pollVersusWebhook(ctx context.Context, logger *zap.Logger) error {
	w := newWorld(ctx, logger, payment.NewMockGateway(webhookSecret))
	p := w.product("kettle", 45000, 50)

	const orders = 10
	for range orders {
		res, err := w.recon.Checkout(ctx, customer(), checkout(p, 1))
		if err != nil {
			return err
		}
		body, sig := w.gateway.SignedWebhook(payment.WebhookChargeSuccess, res.Payment.Reference)

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			_, _ = w.recon.VerifyPayment(ctx, res.Payment.Reference)
		}()
		go func() {
			defer wg.Done()
			_ = w.recon.HandleWebhook(ctx, body, sig)
		}()
		go func() {
			defer wg.Done()
			// Redelivered webhook.
			_ = w.recon.HandleWebhook(ctx, body, sig)
		}()
		wg.Wait()
	}
	w.stop()

	fmt.Printf("    %d orders, %d confirmations delivered\n", orders, w.confirmed.Load())
	if w.confirmed.Load() != orders {
		return fmt.Errorf("expected exactly %d confirmations, got %d", orders, w.confirmed.Load())
	}
	return nil
}

func phantomCharges(ctx context.Context, logger *zap.Logger) error {
	w := newWorld(ctx, logger, payment.NewRandomMockGateway(webhookSecret, 5*time.Millisecond))
	defer w.stop()
	p := w.product("kettle", 45000, 100)

	counts := map[domain.PaymentStatus]int{}
	timeouts := 0
	for i := range 30 {
		res, err := w.recon.Checkout(ctx, customer(), checkout(p, 1))
		if err != nil {
			return err
		}
		out, err := w.recon.VerifyPayment(ctx, res.Payment.Reference)
		switch {
		case errors.Is(err, domain.ErrGatewayUnavailable):
			timeouts++
			fmt.Printf("    [%02d] %s poll timed out, payment left pending\n", i+1, res.Order.OrderNumber)
		case errors.Is(err, domain.ErrPaymentVerificationFailure):
			counts[domain.PaymentFailed]++
		case err != nil:
			return err
		default:
			counts[out.Payment.Status]++
		}
	}
	fmt.Printf("    after polling: %d paid, %d failed, %d unresolved\n",
		counts[domain.PaymentSuccess], counts[domain.PaymentFailed], timeouts)

	repos := w.store.Repos()
	sweeper := worker.NewReconciliationWorker(repos.Payments, repos.Refunds, w.recon, worker.Config{
		Interval:   time.Second,
		StaleAfter: time.Millisecond,
	}, logger)
	time.Sleep(5 * time.Millisecond)
	res, err := sweeper.Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("    sweeper: found %d, collected %d, failed %d, still pending %d\n",
		res.Found, res.Settled, res.Failed, res.Pending+res.Skipped)

	if res.Found != timeouts || res.Settled != timeouts {
		return fmt.Errorf("sweeper resolved %d of %d phantom charges", res.Settled, timeouts)
	}
	expected := 100 - counts[domain.PaymentSuccess] - timeouts
	if got := w.stock(p.ID); got != expected {
		return fmt.Errorf("stock %d, expected %d", got, expected)
	}
	return nil
}

func boundedRefunds(ctx context.Context, logger *zap.Logger) error {
	w := newWorld(ctx, logger, payment.NewMockGateway(webhookSecret))
	defer w.stop()
	p := w.product("blender", 50000, 5)

	res, err := w.recon.Checkout(ctx, customer(), checkout(p, 1))
	if err != nil {
		return err
	}
	if _, err := w.recon.VerifyPayment(ctx, res.Payment.Reference); err != nil {
		return err
	}

	steps := []struct {
		amount int64
		ok     bool
	}{{20000, true}, {40000, false}, {30000, true}, {1, false}}
	for _, s := range steps {
		_, err := w.recon.RefundOrder(ctx, w.admin, res.Order.ID, service.RefundRequest{Amount: decimal.NewFromInt(s.amount)})
		fmt.Printf("    refund %d: %v\n", s.amount, errOrOK(err))
		if (err == nil) != s.ok {
			return fmt.Errorf("refund %d: unexpected result %v", s.amount, err)
		}
	}

	pay, err := w.recon.GetPayment(ctx, w.admin, res.Payment.Reference)
	if err != nil {
		return err
	}
	fmt.Printf("    payment %s refunded %s of %s\n", pay.Status, pay.RefundedAmount, pay.Amount)
	if pay.Status != domain.PaymentRefunded {
		return fmt.Errorf("payment status %s", pay.Status)
	}
	return nil
}

func errOrOK(err error) string {
	if err == nil {
		return "accepted"
	}
	return "rejected (" + err.Error() + ")"
}
