package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type RefundStatus string

const (
	RefundPending    RefundStatus = "pending"
	RefundProcessing RefundStatus = "processing"
	RefundSuccess    RefundStatus = "success"
	RefundFailed     RefundStatus = "failed"
)

func (s RefundStatus) IsTerminal() bool {
	return s == RefundSuccess || s == RefundFailed
}

type Refund struct {
	ID            uuid.UUID
	Reference     string
	OrderID       uuid.UUID
	PaymentID     uuid.UUID
	Amount        decimal.Decimal
	Currency      string
	Status        RefundStatus
	Reason        string
	AdminNotes    string
	ProcessedBy   uuid.UUID
	GatewayRef    string
	FailureReason string
	ProcessedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (r *Refund) Clone() *Refund {
	if r == nil {
		return nil
	}
	c := *r
	c.ProcessedAt = cloneTime(r.ProcessedAt)
	return &c
}

func NewRefundReference() string {
	return "RFD-" + uuid.NewString()
}
