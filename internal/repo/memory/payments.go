package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type paymentRepo struct{ t *txn }

func (r *paymentRepo) CreatePayment(_ context.Context, p *domain.Payment) error {
	d, unlock := r.t.lock()
	defer unlock()

	if _, exists := d.payments[p.Reference]; exists {
		return fmt.Errorf("payment %s: %w", p.Reference, domain.ErrConflict)
	}
	if _, ok := d.orders[p.OrderID]; !ok {
		return fmt.Errorf("payment order %s: %w", p.OrderID, domain.ErrNotFound)
	}
	d.payments[p.Reference] = p.Clone()
	return nil
}

func (r *paymentRepo) FindByReference(_ context.Context, reference string) (*domain.Payment, error) {
	d, unlock := r.t.lock()
	defer unlock()

	p, ok := d.payments[reference]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *paymentRepo) FindByReferenceForUpdate(ctx context.Context, reference string) (*domain.Payment, error) {
	return r.FindByReference(ctx, reference)
}

func (r *paymentRepo) FindCollectedByOrder(_ context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	d, unlock := r.t.lock()
	defer unlock()

	for _, p := range d.payments {
		if p.OrderID == orderID && p.Status.Collected() {
			return p.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *paymentRepo) FindLatestByOrder(_ context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	d, unlock := r.t.lock()
	defer unlock()

	var latest *domain.Payment
	for _, p := range d.payments {
		if p.OrderID != orderID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	return latest.Clone(), nil
}

func (r *paymentRepo) SetGatewayDetails(_ context.Context, reference, gatewayRef, authorizationURL string) error {
	d, unlock := r.t.lock()
	defer unlock()

	p, ok := d.payments[reference]
	if !ok {
		return domain.ErrNotFound
	}
	if gatewayRef != "" {
		p.GatewayRef = gatewayRef
	}
	p.AuthorizationURL = authorizationURL
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *paymentRepo) Complete(_ context.Context, reference string, c repo.PaymentCompletion) (bool, error) {
	d, unlock := r.t.lock()
	defer unlock()

	p, ok := d.payments[reference]
	if !ok || p.Status.Settled() {
		return false, nil
	}
	if c.Status.Collected() {
		for _, other := range d.payments {
			if other.OrderID == p.OrderID && other.Status.Collected() {
				return false, fmt.Errorf("order %s already has a collected payment: %w", p.OrderID, domain.ErrConflict)
			}
		}
	}
	p.Status = c.Status
	if c.GatewayRef != "" {
		p.GatewayRef = c.GatewayRef
	}
	p.Method = c.Method
	p.FailureReason = c.FailureReason
	p.GatewayResponse = c.GatewayResponse
	if c.PaidAt != nil {
		at := *c.PaidAt
		p.PaidAt = &at
	}
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *paymentRepo) ApplyRefund(_ context.Context, id uuid.UUID, amount decimal.Decimal, status domain.PaymentStatus) (bool, error) {
	d, unlock := r.t.lock()
	defer unlock()

	for _, p := range d.payments {
		if p.ID != id {
			continue
		}
		if p.Status != domain.PaymentSuccess && p.Status != domain.PaymentPartiallyRefunded {
			return false, nil
		}
		next := p.RefundedAmount.Add(amount)
		if next.GreaterThan(p.Amount) {
			return false, nil
		}
		p.RefundedAmount = next
		p.Status = status
		p.UpdatedAt = time.Now().UTC()
		return true, nil
	}
	return false, nil
}

func (r *paymentRepo) FindStalePending(_ context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	d, unlock := r.t.lock()
	defer unlock()

	var out []domain.Payment
	for _, p := range d.payments {
		if !p.Status.Settled() && p.CreatedAt.Before(before) {
			out = append(out, *p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
