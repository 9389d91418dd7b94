package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type refundRepo struct{ t *txn }

func (r *refundRepo) CreateRefund(_ context.Context, rf *domain.Refund) error {
	d, unlock := r.t.lock()
	defer unlock()

	if _, exists := d.refunds[rf.Reference]; exists {
		return fmt.Errorf("refund %s: %w", rf.Reference, domain.ErrConflict)
	}
	d.refunds[rf.Reference] = rf.Clone()
	return nil
}

func (r *refundRepo) FindByReference(_ context.Context, reference string) (*domain.Refund, error) {
	d, unlock := r.t.lock()
	defer unlock()

	rf, ok := d.refunds[reference]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rf.Clone(), nil
}

func (r *refundRepo) ListByOrder(_ context.Context, orderID uuid.UUID) ([]domain.Refund, error) {
	d, unlock := r.t.lock()
	defer unlock()

	var out []domain.Refund
	for _, rf := range d.refunds {
		if rf.OrderID == orderID {
			out = append(out, *rf.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *refundRepo) SumOpenByPayment(_ context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	d, unlock := r.t.lock()
	defer unlock()

	sum := decimal.Zero
	for _, rf := range d.refunds {
		if rf.PaymentID == paymentID && !rf.Status.IsTerminal() {
			sum = sum.Add(rf.Amount)
		}
	}
	return sum, nil
}

func (r *refundRepo) Finish(_ context.Context, rf *domain.Refund) (bool, error) {
	d, unlock := r.t.lock()
	defer unlock()

	cur, ok := d.refunds[rf.Reference]
	if !ok || cur.Status.IsTerminal() {
		return false, nil
	}
	cur.Status = rf.Status
	cur.GatewayRef = rf.GatewayRef
	cur.FailureReason = rf.FailureReason
	if rf.ProcessedAt != nil {
		at := *rf.ProcessedAt
		cur.ProcessedAt = &at
	}
	cur.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *refundRepo) FindStalePending(_ context.Context, before time.Time, limit int) ([]domain.Refund, error) {
	d, unlock := r.t.lock()
	defer unlock()

	var out []domain.Refund
	for _, rf := range d.refunds {
		if !rf.Status.IsTerminal() && rf.CreatedAt.Before(before) {
			out = append(out, *rf.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
