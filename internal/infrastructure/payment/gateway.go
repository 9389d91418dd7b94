package payment

import (
	"context"
	"time"

	"storefront-orders/internal/domain"

	"github.com/shopspring/decimal"
)

// DefaultTimeout bounds every call to the payment processor.
const DefaultTimeout = 30 * time.Second

type OutcomeStatus string

const (
	OutcomeSucceeded   OutcomeStatus = "succeeded"
	OutcomeDeclined    OutcomeStatus = "declined"
	OutcomePending     OutcomeStatus = "pending"
	OutcomeUnavailable OutcomeStatus = "unavailable"
)

// Result is the normalized shape every gateway call returns. Transport failures never surface as
// errors; they come back as OutcomeUnavailable with the cause in FailureReason.
type Result struct {
	Status        OutcomeStatus
	GatewayRef    string
	RawPayload    string
	FailureReason string
}

func (r Result) Succeeded() bool { return r.Status == OutcomeSucceeded }

func (r Result) Unavailable() bool { return r.Status == OutcomeUnavailable }

type InitializeRequest struct {
	Reference     string
	OrderNumber   string
	Amount        decimal.Decimal
	Currency      string
	CustomerEmail string
	CallbackURL   string
}

type AuthorizationHandle struct {
	Result
	Reference        string
	AuthorizationURL string
	AccessCode       string
}

type TransactionOutcome struct {
	Result
	Reference string
	// Amount is in the gateway's minor unit.
	Amount   int64
	Currency string
	Method   domain.PaymentMethod
	PaidAt   *time.Time
}

type RefundOutcome struct {
	Result
}

// WebhookEvent is a signature-verified notification from the processor.
type WebhookEvent struct {
	Event     string
	Reference string
	Raw       []byte
}

const (
	WebhookChargeSuccess = "charge.success"
	WebhookChargeFailed  = "charge.failed"
)

// Gateway abstracts the external payment processor.
type Gateway interface {
	InitializeTransaction(ctx context.Context, req InitializeRequest) AuthorizationHandle
	VerifyTransaction(ctx context.Context, reference string) TransactionOutcome
	CreateRefund(ctx context.Context, gatewayRef string, amount decimal.Decimal, currency string) RefundOutcome
	// VerifyWebhook authenticates payload against signature and decodes it.
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
}
