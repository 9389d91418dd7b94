package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

type Coupon struct {
	ID                uuid.UUID
	Code              string
	Description       string
	Type              DiscountType
	Value             decimal.Decimal
	MinOrderAmount    decimal.Decimal
	MaxDiscount       decimal.NullDecimal
	UsageLimit        *int
	UsageLimitPerUser *int
	TimesUsed         int
	Active            bool
	StartsAt          *time.Time
	ExpiresAt         *time.Time
	ProductIDs        []uuid.UUID
	CategoryIDs       []uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
}

// NormalizeCouponCode folds a code to its canonical, case-insensitive form.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c *Coupon) Visible() bool { return c.DeletedAt == nil }

func (c *Coupon) restricted() bool {
	return len(c.ProductIDs) > 0 || len(c.CategoryIDs) > 0
}

// AppliesTo reports whether the coupon covers the line. An unrestricted coupon covers every line.
func (c *Coupon) AppliesTo(l CartLine) bool {
	if !c.restricted() {
		return true
	}
	return slices.Contains(c.ProductIDs, l.ProductID) ||
		(l.CategoryID != uuid.Nil && slices.Contains(c.CategoryIDs, l.CategoryID))
}

// Evaluate validates the coupon against a cart and returns the discount it grants.
// userUses is the number of completed orders the customer already placed with this code.
func (c *Coupon) Evaluate(lines []CartLine, userUses int, now time.Time) (decimal.Decimal, error) {
	reject := func(r CouponRejection) (decimal.Decimal, error) {
		return decimal.Zero, &CouponError{Code: c.Code, Reason: r}
	}

	switch {
	case !c.Active || !c.Visible():
		return reject(CouponInactive)
	case c.StartsAt != nil && now.Before(*c.StartsAt):
		return reject(CouponNotStarted)
	case c.ExpiresAt != nil && !now.Before(*c.ExpiresAt):
		return reject(CouponExpired)
	case c.UsageLimit != nil && c.TimesUsed >= *c.UsageLimit:
		return reject(CouponUsageExhausted)
	case c.UsageLimitPerUser != nil && userUses >= *c.UsageLimitPerUser:
		return reject(CouponUserLimit)
	}

	subtotal := decimal.Zero
	eligible := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Amount())
		if c.AppliesTo(l) {
			eligible = eligible.Add(l.Amount())
		}
	}
	if subtotal.LessThan(c.MinOrderAmount) {
		return reject(CouponBelowMinimum)
	}
	if !eligible.IsPositive() {
		return reject(CouponNotApplicable)
	}

	var discount decimal.Decimal
	switch c.Type {
	case DiscountPercentage:
		discount = eligible.Mul(c.Value).Div(decimal.NewFromInt(100))
		if c.MaxDiscount.Valid && discount.GreaterThan(c.MaxDiscount.Decimal) {
			discount = c.MaxDiscount.Decimal
		}
	case DiscountFixed:
		discount = decimal.Min(c.Value, eligible)
	default:
		return reject(CouponNotApplicable)
	}
	return RoundMoney(discount), nil
}

func (c *Coupon) Clone() *Coupon {
	if c == nil {
		return nil
	}
	cp := *c
	cp.ProductIDs = slices.Clone(c.ProductIDs)
	cp.CategoryIDs = slices.Clone(c.CategoryIDs)
	cp.StartsAt = cloneTime(c.StartsAt)
	cp.ExpiresAt = cloneTime(c.ExpiresAt)
	cp.DeletedAt = cloneTime(c.DeletedAt)
	if c.UsageLimit != nil {
		v := *c.UsageLimit
		cp.UsageLimit = &v
	}
	if c.UsageLimitPerUser != nil {
		v := *c.UsageLimitPerUser
		cp.UsageLimitPerUser = &v
	}
	return &cp
}
