package memory

import (
	"context"
	"fmt"
	"time"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
)

type couponRepo struct{ t *txn }

func (r *couponRepo) CreateCoupon(_ context.Context, c *domain.Coupon) error {
	d, unlock := r.t.lock()
	defer unlock()

	code := domain.NormalizeCouponCode(c.Code)
	for _, existing := range d.coupons {
		if domain.NormalizeCouponCode(existing.Code) == code {
			return fmt.Errorf("coupon %s: %w", code, domain.ErrConflict)
		}
	}
	cp := c.Clone()
	cp.Code = code
	d.coupons[c.ID] = cp
	return nil
}

func (r *couponRepo) FindByCode(_ context.Context, code string) (*domain.Coupon, error) {
	d, unlock := r.t.lock()
	defer unlock()

	code = domain.NormalizeCouponCode(code)
	for _, c := range d.coupons {
		if c.Visible() && domain.NormalizeCouponCode(c.Code) == code {
			return c.Clone(), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *couponRepo) IncrementUsage(_ context.Context, id uuid.UUID) (bool, error) {
	d, unlock := r.t.lock()
	defer unlock()

	c, ok := d.coupons[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if c.UsageLimit != nil && c.TimesUsed >= *c.UsageLimit {
		return false, nil
	}
	c.TimesUsed++
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}
