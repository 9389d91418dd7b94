package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/repo"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AppliedDiscount is the result of validating a coupon against a cart.
type AppliedDiscount struct {
	Coupon *domain.Coupon
	Code   string
	Amount decimal.Decimal
}

// Eligible reports whether the discount is shared by the line.
func (a AppliedDiscount) Eligible(l domain.CartLine) bool {
	return a.Coupon == nil || a.Coupon.AppliesTo(l)
}

// DiscountCalculator validates coupon codes. It never changes usage counters; those move only
// when a paid order is recorded.
type DiscountCalculator struct {
	now func() time.Time
}

func NewDiscountCalculator() *DiscountCalculator {
	return &DiscountCalculator{now: time.Now}
}

// Calculate returns a zero discount for an empty code.
func (c *DiscountCalculator) Calculate(ctx context.Context, r repo.Repos, customerID uuid.UUID, code string, lines []domain.CartLine) (AppliedDiscount, error) {
	code = domain.NormalizeCouponCode(code)
	if code == "" {
		return AppliedDiscount{Amount: decimal.Zero}, nil
	}

	coupon, err := r.Coupons.FindByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return AppliedDiscount{}, &domain.CouponError{Code: code, Reason: domain.CouponNotFound}
	}
	if err != nil {
		return AppliedDiscount{}, fmt.Errorf("find coupon %s: %w", code, err)
	}

	uses := 0
	if coupon.UsageLimitPerUser != nil && customerID != uuid.Nil {
		uses, err = r.Orders.CountPaidWithCoupon(ctx, customerID, code)
		if err != nil {
			return AppliedDiscount{}, fmt.Errorf("count coupon uses: %w", err)
		}
	}

	amount, err := coupon.Evaluate(lines, uses, c.now())
	if err != nil {
		return AppliedDiscount{}, err
	}
	return AppliedDiscount{Coupon: coupon, Code: coupon.Code, Amount: amount}, nil
}

// RecordUsage counts one use of the coupon attached to a paid order. A coupon that reached its
// limit in the meantime is reported but does not undo the payment.
func (c *DiscountCalculator) RecordUsage(ctx context.Context, r repo.Repos, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	coupon, err := r.Coupons.FindByCode(ctx, code)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return r.Coupons.IncrementUsage(ctx, coupon.ID)
}
