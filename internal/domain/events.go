package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EventOrderStatusChanged = "order.status_changed"
	EventOrderConfirmed     = "order.confirmed"
	EventRefundProcessed    = "refund.processed"
)

// Event is any domain event with a name identifier.
type Event interface {
	EventName() string
}

// EventHandler processes a published event.
type EventHandler func(ctx context.Context, e Event) error

// Publisher hands events to the notification sink. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type OrderStatusChanged struct {
	OrderID            uuid.UUID   `json:"order_id"`
	OrderNumber        string      `json:"order_number"`
	CustomerID         uuid.UUID   `json:"customer_id"`
	CustomerEmail      string      `json:"customer_email"`
	OldStatus          OrderStatus `json:"old_status"`
	NewStatus          OrderStatus `json:"new_status"`
	TrackingNumber     string      `json:"tracking_number,omitempty"`
	CancellationReason string      `json:"cancellation_reason,omitempty"`
	Exceptional        bool        `json:"exceptional,omitempty"`
	OccurredAt         time.Time   `json:"occurred_at"`
}

func (OrderStatusChanged) EventName() string { return EventOrderStatusChanged }

func NewOrderStatusChanged(o *Order, old OrderStatus) OrderStatusChanged {
	e := OrderStatusChanged{
		OrderID:        o.ID,
		OrderNumber:    o.OrderNumber,
		CustomerID:     o.CustomerID,
		CustomerEmail:  o.CustomerEmail,
		OldStatus:      old,
		NewStatus:      o.Status,
		TrackingNumber: o.TrackingNumber,
		Exceptional:    old.IsExceptional(o.Status),
		OccurredAt:     time.Now().UTC(),
	}
	if o.Status == OrderCancelled {
		e.CancellationReason = o.CancellationReason
	}
	return e
}

type OrderConfirmedEvent struct {
	OrderID       uuid.UUID       `json:"order_id"`
	OrderNumber   string          `json:"order_number"`
	CustomerID    uuid.UUID       `json:"customer_id"`
	CustomerEmail string          `json:"customer_email"`
	Total         decimal.Decimal `json:"total"`
	Currency      string          `json:"currency"`
	OccurredAt    time.Time       `json:"occurred_at"`
}

func (OrderConfirmedEvent) EventName() string { return EventOrderConfirmed }

func NewOrderConfirmed(o *Order) OrderConfirmedEvent {
	return OrderConfirmedEvent{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		CustomerID:    o.CustomerID,
		CustomerEmail: o.CustomerEmail,
		Total:         o.Total,
		Currency:      o.Currency,
		OccurredAt:    time.Now().UTC(),
	}
}

type RefundProcessed struct {
	OrderID       uuid.UUID          `json:"order_id"`
	OrderNumber   string             `json:"order_number"`
	CustomerEmail string             `json:"customer_email"`
	Reference     string             `json:"reference"`
	Amount        decimal.Decimal    `json:"amount"`
	Currency      string             `json:"currency"`
	PaymentStatus OrderPaymentStatus `json:"payment_status"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

func (RefundProcessed) EventName() string { return EventRefundProcessed }

func NewRefundProcessed(o *Order, r *Refund) RefundProcessed {
	return RefundProcessed{
		OrderID:       o.ID,
		OrderNumber:   o.OrderNumber,
		CustomerEmail: o.CustomerEmail,
		Reference:     r.Reference,
		Amount:        r.Amount,
		Currency:      r.Currency,
		PaymentStatus: o.PaymentStatus,
		OccurredAt:    time.Now().UTC(),
	}
}
