package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentProcessing        PaymentStatus = "processing"
	PaymentSuccess           PaymentStatus = "success"
	PaymentFailed            PaymentStatus = "failed"
	PaymentCancelled         PaymentStatus = "cancelled"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

// Payment statuses only move forward.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:           {PaymentProcessing, PaymentSuccess, PaymentFailed, PaymentCancelled},
	PaymentProcessing:        {PaymentSuccess, PaymentFailed, PaymentCancelled},
	PaymentSuccess:           {PaymentPartiallyRefunded, PaymentRefunded},
	PaymentPartiallyRefunded: {PaymentPartiallyRefunded, PaymentRefunded},
	PaymentFailed:            {},
	PaymentCancelled:         {},
	PaymentRefunded:          {},
}

func (s PaymentStatus) CanTransitionTo(to PaymentStatus) bool {
	return slices.Contains(paymentTransitions[s], to)
}

// Settled reports whether verification has already produced a final outcome for the payment.
func (s PaymentStatus) Settled() bool {
	return s != PaymentPending && s != PaymentProcessing
}

// Collected reports whether funds were captured, including payments since refunded.
func (s PaymentStatus) Collected() bool {
	switch s {
	case PaymentSuccess, PaymentPartiallyRefunded, PaymentRefunded:
		return true
	}
	return false
}

type PaymentMethod struct {
	Channel  string `json:"channel,omitempty"`
	CardType string `json:"card_type,omitempty"`
	Last4    string `json:"last4,omitempty"`
	Bank     string `json:"bank,omitempty"`
}

type Payment struct {
	ID               uuid.UUID
	OrderID          uuid.UUID
	Reference        string
	GatewayRef       string
	AuthorizationURL string
	Amount           decimal.Decimal
	Currency         string
	Status           PaymentStatus
	Method           PaymentMethod
	RefundedAmount   decimal.Decimal
	FailureReason    string
	GatewayResponse  string
	PaidAt           *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Refundable is the amount not yet returned to the customer.
func (p *Payment) Refundable() decimal.Decimal {
	return p.Amount.Sub(p.RefundedAmount)
}

// StatusAfterRefund returns the status the payment takes once refunded reaches the given total.
func (p *Payment) StatusAfterRefund(refunded decimal.Decimal) PaymentStatus {
	if refunded.GreaterThanOrEqual(p.Amount) {
		return PaymentRefunded
	}
	return PaymentPartiallyRefunded
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	c.PaidAt = cloneTime(p.PaidAt)
	return &c
}

// NewPaymentReference generates a client-side idempotency key for a payment attempt.
func NewPaymentReference() string {
	return "PAY-" + uuid.NewString()
}
