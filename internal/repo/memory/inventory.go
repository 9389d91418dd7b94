package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
)

type inventoryRepo struct{ t *txn }

func (r *inventoryRepo) CreateProduct(_ context.Context, p *domain.Product) error {
	d, unlock := r.t.lock()
	defer unlock()

	if _, exists := d.products[p.ID]; exists {
		return fmt.Errorf("product %s: %w", p.ID, domain.ErrConflict)
	}
	d.products[p.ID] = p.Clone()
	return nil
}

func (r *inventoryRepo) FindProduct(_ context.Context, id uuid.UUID) (*domain.Product, error) {
	d, unlock := r.t.lock()
	defer unlock()

	p, ok := d.products[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p.Clone(), nil
}

func (r *inventoryRepo) DecrementStock(_ context.Context, id uuid.UUID, quantity int) (bool, error) {
	d, unlock := r.t.lock()
	defer unlock()

	p, ok := d.products[id]
	if !ok || p.DeletedAt != nil || !p.CanFulfil(quantity) {
		return false, nil
	}
	if p.TrackQuantity {
		p.StockQuantity -= quantity
	}
	p.SalesCount += quantity
	p.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *inventoryRepo) RestoreStock(_ context.Context, id uuid.UUID, quantity int) error {
	d, unlock := r.t.lock()
	defer unlock()

	p, ok := d.products[id]
	if !ok {
		return domain.ErrNotFound
	}
	if p.TrackQuantity {
		p.StockQuantity += quantity
	}
	p.SalesCount = max(p.SalesCount-quantity, 0)
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inventoryRepo) ListByBand(_ context.Context, band domain.StockBand, limit int) ([]domain.Product, error) {
	d, unlock := r.t.lock()
	defer unlock()

	var out []domain.Product
	for _, p := range d.products {
		if p.DeletedAt == nil && p.Band() == band {
			out = append(out, *p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
