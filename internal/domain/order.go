package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderConfirmed, OrderCancelled},
	OrderConfirmed:  {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped, OrderCancelled},
	OrderShipped:    {OrderDelivered, OrderCancelled},
	OrderDelivered:  {OrderRefunded},
	OrderCancelled:  {},
	OrderRefunded:   {},
}

// OrderStatuses lists every order status in lifecycle order.
func OrderStatuses() []OrderStatus {
	return []OrderStatus{
		OrderPending, OrderConfirmed, OrderProcessing, OrderShipped,
		OrderDelivered, OrderCancelled, OrderRefunded,
	}
}

func (s OrderStatus) Valid() bool {
	_, ok := orderTransitions[s]
	return ok
}

// AllowedTransitions returns the statuses reachable from s in one step.
func (s OrderStatus) AllowedTransitions() []OrderStatus {
	return slices.Clone(orderTransitions[s])
}

func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	return slices.Contains(orderTransitions[s], to)
}

func (s OrderStatus) IsTerminal() bool {
	return s.Valid() && len(orderTransitions[s]) == 0
}

// IsExceptional reports whether moving from s to to is allowed but needs operator attention.
func (s OrderStatus) IsExceptional(to OrderStatus) bool {
	return s == OrderShipped && to == OrderCancelled
}

// OrderPaymentStatus is the payment axis of an order. It evolves independently of OrderStatus.
type OrderPaymentStatus string

const (
	OrderPaymentPending           OrderPaymentStatus = "pending"
	OrderPaymentPaid              OrderPaymentStatus = "paid"
	OrderPaymentFailed            OrderPaymentStatus = "failed"
	OrderPaymentRefunded          OrderPaymentStatus = "refunded"
	OrderPaymentPartiallyRefunded OrderPaymentStatus = "partially_refunded"
)

type Address struct {
	Name       string `json:"name"`
	Phone      string `json:"phone"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
}

// OrderItem is an immutable snapshot of a cart line at purchase time.
type OrderItem struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	ProductID   uuid.UUID
	ProductName string
	UnitPrice   decimal.Decimal
	Quantity    int
	Discount    decimal.Decimal
	Tax         decimal.Decimal
	LineTotal   decimal.Decimal
}

type Order struct {
	ID                 uuid.UUID
	OrderNumber        string
	CustomerID         uuid.UUID
	CustomerEmail      string
	Items              []OrderItem
	Subtotal           decimal.Decimal
	DiscountAmount     decimal.Decimal
	ShippingAmount     decimal.Decimal
	TaxAmount          decimal.Decimal
	Total              decimal.Decimal
	Currency           string
	CouponCode         string
	BillingAddress     Address
	ShippingAddress    Address
	Status             OrderStatus
	PaymentStatus      OrderPaymentStatus
	InventoryHeld      bool
	TrackingNumber     string
	CancellationReason string
	AdminNotes         string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ShippedAt          *time.Time
	DeliveredAt        *time.Time
	CancelledAt        *time.Time
	DeletedAt          *time.Time
}

// Visible reports whether the order has not been archived.
func (o *Order) Visible() bool {
	return o.DeletedAt == nil
}

// CheckTotals verifies total = subtotal - discount + shipping + tax.
func (o *Order) CheckTotals() error {
	want := o.Subtotal.Sub(o.DiscountAmount).Add(o.ShippingAmount).Add(o.TaxAmount)
	if !want.Equal(o.Total) {
		return validationf("order total %s does not match breakdown %s", o.Total, want)
	}
	if o.DiscountAmount.GreaterThan(o.Subtotal) {
		return validationf("discount %s exceeds subtotal %s", o.DiscountAmount, o.Subtotal)
	}
	return nil
}

// Transition moves the order to status to. Requesting the current status is a no-op and reports
// changed=false. Tracking number and reason are recorded when provided.
func (o *Order) Transition(to OrderStatus, reason, tracking string, at time.Time) (changed bool, err error) {
	if !to.Valid() {
		return false, validationf("unknown order status %q", to)
	}
	if o.Status == to {
		return false, nil
	}
	if !o.Status.CanTransitionTo(to) {
		return false, &IllegalTransitionError{From: o.Status, To: to, Allowed: o.Status.AllowedTransitions()}
	}

	o.Status = to
	o.UpdatedAt = at
	if tracking != "" {
		o.TrackingNumber = tracking
	}
	switch to {
	case OrderShipped:
		o.ShippedAt = &at
	case OrderDelivered:
		o.DeliveredAt = &at
	case OrderCancelled:
		o.CancelledAt = &at
		o.CancellationReason = reason
	}
	return true, nil
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = slices.Clone(o.Items)
	c.ShippedAt = cloneTime(o.ShippedAt)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	c.CancelledAt = cloneTime(o.CancelledAt)
	c.DeletedAt = cloneTime(o.DeletedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
