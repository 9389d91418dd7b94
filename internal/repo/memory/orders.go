package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
)

type orderRepo struct{ t *txn }

func (r *orderRepo) CreateOrder(_ context.Context, order *domain.Order) error {
	d, unlock := r.t.lock()
	defer unlock()

	if _, exists := d.orders[order.ID]; exists {
		return fmt.Errorf("order %s: %w", order.ID, domain.ErrConflict)
	}
	seq := r.t.store.orderSeq.Add(1)
	order.OrderNumber = fmt.Sprintf("ORD-%s-%06d", order.CreatedAt.UTC().Format("20060102"), seq)
	for i := range order.Items {
		order.Items[i].OrderID = order.ID
	}
	d.orders[order.ID] = order.Clone()
	return nil
}

func (r *orderRepo) FindById(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	d, unlock := r.t.lock()
	defer unlock()

	o, ok := d.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o.Clone(), nil
}

func (r *orderRepo) FindByIdForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.FindById(ctx, id)
}

func (r *orderRepo) UpdateOrderStatus(_ context.Context, order *domain.Order, from domain.OrderStatus) error {
	d, unlock := r.t.lock()
	defer unlock()

	cur, ok := d.orders[order.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Status != from {
		return fmt.Errorf("order %s no longer %s: %w", order.ID, from, domain.ErrConflict)
	}
	cur.Status = order.Status
	cur.TrackingNumber = order.TrackingNumber
	cur.CancellationReason = order.CancellationReason
	cur.AdminNotes = order.AdminNotes
	cur.ShippedAt = order.ShippedAt
	cur.DeliveredAt = order.DeliveredAt
	cur.CancelledAt = order.CancelledAt
	cur.UpdatedAt = order.UpdatedAt
	d.orders[order.ID] = cur.Clone()
	return nil
}

func (r *orderRepo) UpdatePaymentStatus(_ context.Context, id uuid.UUID, status domain.OrderPaymentStatus) error {
	d, unlock := r.t.lock()
	defer unlock()

	o, ok := d.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	o.PaymentStatus = status
	o.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *orderRepo) SetInventoryHeld(_ context.Context, id uuid.UUID, held bool) (bool, error) {
	d, unlock := r.t.lock()
	defer unlock()

	o, ok := d.orders[id]
	if !ok || o.InventoryHeld == held {
		return false, nil
	}
	o.InventoryHeld = held
	return true, nil
}

func (r *orderRepo) Archive(_ context.Context, id uuid.UUID, at time.Time) error {
	d, unlock := r.t.lock()
	defer unlock()

	o, ok := d.orders[id]
	if !ok || o.DeletedAt != nil {
		return domain.ErrNotFound
	}
	o.DeletedAt = &at
	o.UpdatedAt = at
	return nil
}

func (r *orderRepo) CountPaidWithCoupon(_ context.Context, customerID uuid.UUID, code string) (int, error) {
	d, unlock := r.t.lock()
	defer unlock()

	n := 0
	for _, o := range d.orders {
		if o.CustomerID != customerID || !strings.EqualFold(o.CouponCode, code) {
			continue
		}
		switch o.PaymentStatus {
		case domain.OrderPaymentPaid, domain.OrderPaymentPartiallyRefunded, domain.OrderPaymentRefunded:
			n++
		}
	}
	return n, nil
}
