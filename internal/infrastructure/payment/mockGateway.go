package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type mockTxn struct {
	reference string
	gatewayID string
	amount    int64
	currency  string
	outcome   OutcomeStatus
	// phantom transactions charge the customer but time out on the first verify.
	phantom     bool
	verifyCalls int
	refunded    int64
}

// MockGateway is an in-process processor. In random mode it draws a fixed mix of
// outcomes: 70% paid, 20% declined, 10% paid but the first verification times out.
type MockGateway struct {
	mu      sync.RWMutex
	secret  string
	random  bool
	latency time.Duration
	txns    map[string]*mockTxn

	initOutcome    OutcomeStatus
	verifyDefault  OutcomeStatus
	verifyOverride map[string]OutcomeStatus
	refundOutcome  OutcomeStatus
	initCalls      int
	refundCalls    int
}

// NewMockGateway returns a deterministic gateway: every call succeeds until told otherwise.
func NewMockGateway(secret string) *MockGateway {
	return &MockGateway{
		secret:         secret,
		txns:           make(map[string]*mockTxn),
		initOutcome:    OutcomeSucceeded,
		verifyDefault:  OutcomeSucceeded,
		verifyOverride: make(map[string]OutcomeStatus),
		refundOutcome:  OutcomeSucceeded,
	}
}

// NewRandomMockGateway returns a gateway that draws outcomes per transaction.
func NewRandomMockGateway(secret string, latency time.Duration) *MockGateway {
	g := NewMockGateway(secret)
	g.random = true
	g.latency = latency
	return g
}

var _ Gateway = (*MockGateway)(nil)

func (g *MockGateway) SetInitOutcome(s OutcomeStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.initOutcome = s
}

func (g *MockGateway) SetVerifyOutcome(reference string, s OutcomeStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyOverride[reference] = s
}

func (g *MockGateway) SetDefaultVerifyOutcome(s OutcomeStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyDefault = s
}

func (g *MockGateway) SetRefundOutcome(s OutcomeStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundOutcome = s
}

func (g *MockGateway) SetLatency(d time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.latency = d
}

func (g *MockGateway) VerifyCalls(reference string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if t, ok := g.txns[reference]; ok {
		return t.verifyCalls
	}
	return 0
}

func (g *MockGateway) InitCalls() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.initCalls
}

func (g *MockGateway) RefundCalls() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.refundCalls
}

// Refunded returns the minor-unit amount refunded against a transaction.
func (g *MockGateway) Refunded(reference string) int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if t, ok := g.txns[reference]; ok {
		return t.refunded
	}
	return 0
}

func (g *MockGateway) wait(ctx context.Context) error {
	g.mu.RLock()
	d := g.latency
	g.mu.RUnlock()
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func unavailable(err error) Result {
	return Result{Status: OutcomeUnavailable, FailureReason: err.Error()}
}

func (g *MockGateway) InitializeTransaction(ctx context.Context, req InitializeRequest) AuthorizationHandle {
	if err := g.wait(ctx); err != nil {
		return AuthorizationHandle{Result: unavailable(err), Reference: req.Reference}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.initCalls++

	if g.initOutcome != OutcomeSucceeded {
		return AuthorizationHandle{
			Result:    Result{Status: g.initOutcome, FailureReason: "initialization " + string(g.initOutcome)},
			Reference: req.Reference,
		}
	}

	// Idempotent on reference.
	t, ok := g.txns[req.Reference]
	if !ok {
		t = &mockTxn{
			reference: req.Reference,
			gatewayID: uuid.NewString(),
			amount:    domain.ToMinorUnits(req.Amount),
			currency:  req.Currency,
			outcome:   OutcomePending,
		}
		if g.random {
			switch chance := rand.IntN(100); {
			case chance < 70:
				t.outcome = OutcomeSucceeded
			case chance < 90:
				t.outcome = OutcomeDeclined
			default:
				t.outcome = OutcomeSucceeded
				t.phantom = true
			}
		}
		g.txns[req.Reference] = t
	}

	return AuthorizationHandle{
		Result:           Result{Status: OutcomeSucceeded, GatewayRef: t.gatewayID},
		Reference:        req.Reference,
		AuthorizationURL: "https://checkout.mock/pay/" + req.Reference,
		AccessCode:       t.gatewayID,
	}
}

func (g *MockGateway) VerifyTransaction(ctx context.Context, reference string) TransactionOutcome {
	if err := g.wait(ctx); err != nil {
		return TransactionOutcome{Result: unavailable(err), Reference: reference}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	t, ok := g.txns[reference]
	if !ok {
		return TransactionOutcome{
			Result:    Result{Status: OutcomeDeclined, FailureReason: "transaction not found"},
			Reference: reference,
		}
	}
	t.verifyCalls++

	status := t.outcome
	if !g.random {
		status = g.verifyDefault
		if s, ok := g.verifyOverride[reference]; ok {
			status = s
		}
	} else if t.phantom && t.verifyCalls == 1 {
		status = OutcomeUnavailable
	}

	raw, _ := json.Marshal(map[string]any{"reference": reference, "status": status, "amount": t.amount})
	out := TransactionOutcome{
		Result:    Result{Status: status, GatewayRef: t.gatewayID, RawPayload: string(raw)},
		Reference: reference,
		Amount:    t.amount,
		Currency:  t.currency,
		Method:    domain.PaymentMethod{Channel: "card", CardType: "visa", Last4: "4081", Bank: "Mock Bank"},
	}
	switch status {
	case OutcomeSucceeded:
		now := time.Now().UTC()
		out.PaidAt = &now
	case OutcomeDeclined:
		out.FailureReason = "Card Declined"
	case OutcomeUnavailable:
		out.FailureReason = "Connection Timeout"
	}
	return out
}

func (g *MockGateway) CreateRefund(ctx context.Context, gatewayRef string, amount decimal.Decimal, _ string) RefundOutcome {
	if err := g.wait(ctx); err != nil {
		return RefundOutcome{Result: unavailable(err)}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.refundCalls++

	if g.refundOutcome != OutcomeSucceeded {
		return RefundOutcome{Result: Result{Status: g.refundOutcome, FailureReason: "refund " + string(g.refundOutcome)}}
	}
	for _, t := range g.txns {
		if t.gatewayID != gatewayRef {
			continue
		}
		minor := domain.ToMinorUnits(amount)
		if t.refunded+minor > t.amount {
			return RefundOutcome{Result: Result{Status: OutcomeDeclined, FailureReason: "refund exceeds transaction amount"}}
		}
		t.refunded += minor
		return RefundOutcome{Result: Result{Status: OutcomeSucceeded, GatewayRef: "rf_" + uuid.NewString()}}
	}
	return RefundOutcome{Result: Result{Status: OutcomeDeclined, FailureReason: "transaction not found"}}
}

func (g *MockGateway) VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	return parseWebhook(g.secret, payload, signature)
}

// SignedWebhook builds a webhook body for reference and signs it with the gateway secret.
func (g *MockGateway) SignedWebhook(event, reference string) ([]byte, string) {
	payload := []byte(fmt.Sprintf(`{"event":%q,"data":{"reference":%q}}`, event, reference))
	return payload, Sign(g.secret, payload)
}
