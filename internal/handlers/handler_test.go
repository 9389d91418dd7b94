package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/infrastructure/payment"
	"storefront-orders/internal/observability"
	"storefront-orders/internal/repo/memory"
	"storefront-orders/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, domain.Event) error { return nil }

type api struct {
	t        *testing.T
	router   *gin.Engine
	store    *memory.Store
	gateway  *payment.MockGateway
	customer domain.Actor
	admin    domain.Actor
}

func newAPI(t *testing.T) *api {
	t.Helper()
	reg := prometheus.NewRegistry()
	tel := observability.NewTelemetry(zaptest.NewLogger(t), observability.NewMetrics(reg), nil)
	a := &api{
		t:        t,
		store:    memory.NewStore(),
		gateway:  payment.NewMockGateway("whsec_test"),
		customer: domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer, Email: "ada@example.com"},
		admin:    domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin},
	}
	ledger, discounts := service.NewInventoryLedger(), service.NewDiscountCalculator()
	orders := service.NewOrderService(a.store, ledger, discounts, domain.PricingPolicy{}, nopPublisher{}, tel)
	recon := service.NewReconciliationService(a.store, a.gateway, ledger, discounts, nil, nopPublisher{}, tel,
		service.ReconciliationConfig{
			Currency: "NGN",
			VerifyBackOff: func() backoff.BackOff {
				return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 1)
			},
		})
	a.router = NewHandler(orders, recon, zaptest.NewLogger(t), Options{Metrics: reg}).Router()
	return a
}

func (a *api) product(price int64, stock int) *domain.Product {
	p := &domain.Product{
		ID:                uuid.New(),
		Name:              "kettle",
		Price:             decimal.NewFromInt(price),
		StockQuantity:     stock,
		LowStockThreshold: 2,
		TrackQuantity:     true,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	require.NoError(a.t, a.store.Repos().Inventory.CreateProduct(context.Background(), p))
	return p
}

func (a *api) do(method, path string, actor *domain.Actor, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set(headerActorID, actor.ID.String())
		req.Header.Set(headerActorRole, string(actor.Role))
		req.Header.Set(headerActorEmail, actor.Email)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func checkoutBody(p *domain.Product, qty int, coupon string) gin.H {
	return gin.H{
		"lines":            []domain.CartLine{{ProductID: p.ID, Name: p.Name, UnitPrice: p.Price, Quantity: qty}},
		"coupon_code":      coupon,
		"shipping_address": domain.Address{Name: "Ada", City: "Lagos", Country: "NG"},
	}
}

type errorResponse struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details"`
}

func (a *api) paidOrder(p *domain.Product, qty int) checkoutResponse {
	a.t.Helper()
	w := a.do(http.MethodPost, "/checkout", &a.customer, checkoutBody(p, qty, ""))
	require.Equal(a.t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[checkoutResponse](a.t, w)
	w = a.do(http.MethodGet, "/payments/"+res.Payment.Reference+"/verify", &a.customer, nil)
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	return res
}

func TestCheckoutAndVerify(t *testing.T) {
	a := newAPI(t)
	p := a.product(45000, 5)
	require.NoError(t, a.store.Repos().Coupons.CreateCoupon(context.Background(), &domain.Coupon{
		ID: uuid.New(), Code: "SAVE10", Type: domain.DiscountPercentage, Value: decimal.NewFromInt(10), Active: true,
	}))

	w := a.do(http.MethodPost, "/checkout", &a.customer, checkoutBody(p, 2, "save10"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	res := decode[checkoutResponse](t, w)
	assert.True(t, decimal.NewFromInt(90000).Equal(res.Order.Subtotal))
	assert.True(t, decimal.NewFromInt(9000).Equal(res.Order.Discount))
	assert.True(t, decimal.NewFromInt(81000).Equal(res.Order.Total))
	assert.Equal(t, domain.OrderPending, res.Order.Status)
	assert.NotEmpty(t, res.AuthorizationURL)
	assert.NotEmpty(t, w.Header().Get(headerRequestID))

	w = a.do(http.MethodGet, "/payments/"+res.Payment.Reference+"/verify", &a.customer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode[verifyResponse](t, w)
	assert.Equal(t, domain.PaymentSuccess, out.Payment.Status)
	assert.Equal(t, domain.OrderConfirmed, out.Order.Status)
	assert.False(t, out.Replayed)

	w = a.do(http.MethodGet, "/payments/"+res.Payment.Reference+"/verify", &a.customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[verifyResponse](t, w).Replayed)
}

func TestCheckoutInsufficientStockIsConflict(t *testing.T) {
	a := newAPI(t)
	p := a.product(1000, 1)

	w := a.do(http.MethodPost, "/checkout", &a.customer, checkoutBody(p, 3, ""))
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode[errorResponse](t, w)
	assert.Equal(t, "INSUFFICIENT_STOCK", body.Code)
	shortages, ok := body.Details["shortages"].([]any)
	require.True(t, ok)
	require.Len(t, shortages, 1)
	assert.EqualValues(t, 1, shortages[0].(map[string]any)["available"])
}

func TestCheckoutRejectsMalformedBody(t *testing.T) {
	a := newAPI(t)
	w := a.do(http.MethodPost, "/checkout", &a.customer, gin.H{"lines": []any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckoutGatewayOutage(t *testing.T) {
	a := newAPI(t)
	p := a.product(1000, 3)
	a.gateway.SetInitOutcome(payment.OutcomeUnavailable)

	w := a.do(http.MethodPost, "/checkout", &a.customer, checkoutBody(p, 1, ""))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "GATEWAY_UNAVAILABLE", decode[errorResponse](t, w).Code)

	a.gateway.SetInitOutcome(payment.OutcomeDeclined)
	w = a.do(http.MethodPost, "/checkout", &a.customer, checkoutBody(p, 1, ""))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestIllegalTransitionCarriesAllowedSet(t *testing.T) {
	a := newAPI(t)
	res := a.paidOrder(a.product(1000, 5), 1)

	w := a.do(http.MethodPatch, "/admin/orders/"+res.Order.ID.String()+"/status", &a.admin, gin.H{"status": "delivered"})
	require.Equal(t, http.StatusConflict, w.Code)
	body := decode[errorResponse](t, w)
	assert.Equal(t, "ILLEGAL_TRANSITION", body.Code)
	assert.ElementsMatch(t, []any{"processing", "cancelled"}, body.Details["allowed_transitions"])

	w = a.do(http.MethodPatch, "/admin/orders/"+res.Order.ID.String()+"/status", &a.admin, gin.H{"status": "processing"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.OrderProcessing, decode[orderResponse](t, w).Status)
}

func TestRefundBoundOverHTTP(t *testing.T) {
	a := newAPI(t)
	res := a.paidOrder(a.product(50000, 5), 1)
	path := "/admin/orders/" + res.Order.ID.String() + "/refunds"

	w := a.do(http.MethodPost, path, &a.admin, gin.H{"amount": "20000", "reason": "damaged"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(http.MethodPost, path, &a.admin, gin.H{"amount": "40000"})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode[errorResponse](t, w)
	assert.Equal(t, "AMOUNT_EXCEEDS_REFUNDABLE", body.Code)
	assert.True(t, decimal.NewFromInt(30000).Equal(decimal.RequireFromString(body.Details["refundable"].(string))))

	w = a.do(http.MethodPost, path, &a.admin, gin.H{"amount": 30000})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, domain.RefundSuccess, decode[refundResponse](t, w).Status)

	w = a.do(http.MethodGet, "/payments/"+res.Payment.Reference, &a.customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.PaymentRefunded, decode[paymentResponse](t, w).Status)

	w = a.do(http.MethodGet, "/orders/"+res.Order.ID.String()+"/refunds", &a.customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[map[string][]refundResponse](t, w)["refunds"], 2)

	w = a.do(http.MethodPost, path, &a.customer, gin.H{"amount": "1"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookSignature(t *testing.T) {
	a := newAPI(t)
	p := a.product(1000, 5)
	w := a.do(http.MethodPost, "/checkout", &a.customer, checkoutBody(p, 1, ""))
	require.Equal(t, http.StatusCreated, w.Code)
	ref := decode[checkoutResponse](t, w).Payment.Reference

	payload, sig := a.gateway.SignedWebhook(payment.WebhookChargeSuccess, ref)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(payload))
	req.Header.Set(headerPaystackSig, strings.Repeat("0", len(sig)))
	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/webhooks/payment", bytes.NewReader(payload))
	req.Header.Set(headerPaystackSig, sig)
	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	got, err := a.store.Repos().Payments.FindByReference(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentSuccess, got.Status)
}

func TestActorAndOwnership(t *testing.T) {
	a := newAPI(t)
	res := a.paidOrder(a.product(1000, 5), 1)
	path := "/orders/" + res.Order.ID.String()

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, path, nil, nil).Code)

	stranger := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, path, &stranger, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/payments/"+res.Payment.Reference+"/verify", &stranger, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/orders/not-a-uuid", &a.customer, nil).Code)

	w := a.do(http.MethodGet, path, &a.customer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, res.Order.OrderNumber, decode[orderResponse](t, w).OrderNumber)

	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/admin/orders/"+res.Order.ID.String()+"/archive", &a.customer, nil).Code)
	assert.Equal(t, http.StatusNoContent, a.do(http.MethodPost, "/admin/orders/"+res.Order.ID.String()+"/archive", &a.admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, path, &a.customer, nil).Code)
}

func TestCustomerCancelRestoresStock(t *testing.T) {
	a := newAPI(t)
	p := a.product(1000, 5)
	res := a.paidOrder(p, 2)

	w := a.do(http.MethodPost, "/orders/"+res.Order.ID.String()+"/cancel", &a.customer, gin.H{"reason": "changed my mind"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	o := decode[orderResponse](t, w)
	assert.Equal(t, domain.OrderCancelled, o.Status)
	assert.Empty(t, o.AllowedTransitions)

	got, err := a.store.Repos().Inventory.FindProduct(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.StockQuantity)
}

func TestPreviewAndStockBands(t *testing.T) {
	a := newAPI(t)
	p := a.product(1000, 2)

	w := a.do(http.MethodPost, "/cart/preview", &a.customer, checkoutBody(p, 2, "NOPE"))
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode[errorResponse](t, w)
	assert.Equal(t, "INVALID_COUPON", body.Code)
	assert.Equal(t, "not_found", body.Details["reason"])

	w = a.do(http.MethodPost, "/cart/preview", &a.customer, checkoutBody(p, 2, ""))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decimal.NewFromInt(2000).Equal(decode[quoteResponse](t, w).Total))

	w = a.do(http.MethodGet, "/admin/products?band=low_stock", &a.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	products := decode[struct {
		Products []productResponse `json:"products"`
	}](t, w).Products
	require.Len(t, products, 1)
	assert.Equal(t, p.ID, products[0].ID)

	assert.Equal(t, http.StatusUnprocessableEntity, a.do(http.MethodGet, "/admin/products?band=plenty", &a.admin, nil).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	a := newAPI(t)
	a.paidOrder(a.product(1000, 5), 1)

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/health", nil, nil).Code)

	w := a.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "usecase_requests_total")
}
