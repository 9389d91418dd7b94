package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound                   = errors.New("not found")
	ErrConflict                   = errors.New("concurrent modification")
	ErrForbidden                  = errors.New("forbidden")
	ErrValidation                 = errors.New("validation failed")
	ErrInsufficientStock          = errors.New("inventory: insufficient stock")
	ErrIllegalTransition          = errors.New("order: illegal status transition")
	ErrInvalidCoupon              = errors.New("coupon: not applicable")
	ErrPaymentInitFailure         = errors.New("payment: initialization failed")
	ErrPaymentVerificationFailure = errors.New("payment: verification failed")
	ErrIneligible                 = errors.New("refund: order is not eligible")
	ErrAmountExceedsRefundable    = errors.New("refund: amount exceeds refundable balance")
	ErrInvalidWebhookSignature    = errors.New("webhook: invalid signature")
	ErrGatewayUnavailable         = errors.New("payment: gateway unavailable")
	ErrRefundDeclined             = errors.New("refund: declined by gateway")
)

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Validationf builds an ErrValidation error with a formatted detail.
func Validationf(format string, args ...any) error {
	return validationf(format, args...)
}

// StockShortage describes one line that could not be reserved.
type StockShortage struct {
	ProductID uuid.UUID `json:"product_id"`
	Name      string    `json:"name,omitempty"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
}

type InsufficientStockError struct {
	Shortages []StockShortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		label := s.Name
		if label == "" {
			label = s.ProductID.String()
		}
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", label, s.Requested, s.Available))
	}
	return ErrInsufficientStock.Error() + ": " + strings.Join(parts, ", ")
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

type IllegalTransitionError struct {
	From    OrderStatus
	To      OrderStatus
	Allowed []OrderStatus
}

func (e *IllegalTransitionError) Error() string {
	allowed := make([]string, 0, len(e.Allowed))
	for _, s := range e.Allowed {
		allowed = append(allowed, string(s))
	}
	return fmt.Sprintf("%s: %s -> %s (allowed: [%s])", ErrIllegalTransition, e.From, e.To, strings.Join(allowed, ", "))
}

func (e *IllegalTransitionError) Is(target error) bool { return target == ErrIllegalTransition }

type AmountExceedsRefundableError struct {
	Requested  decimal.Decimal
	Refundable decimal.Decimal
}

func (e *AmountExceedsRefundableError) Error() string {
	return fmt.Sprintf("%s: requested %s, refundable %s", ErrAmountExceedsRefundable, e.Requested.StringFixed(2), e.Refundable.StringFixed(2))
}

func (e *AmountExceedsRefundableError) Is(target error) bool {
	return target == ErrAmountExceedsRefundable
}

type CouponRejection string

const (
	CouponNotFound       CouponRejection = "not_found"
	CouponInactive       CouponRejection = "inactive"
	CouponNotStarted     CouponRejection = "not_started"
	CouponExpired        CouponRejection = "expired"
	CouponBelowMinimum   CouponRejection = "below_minimum"
	CouponUsageExhausted CouponRejection = "usage_exhausted"
	CouponUserLimit      CouponRejection = "user_limit_reached"
	CouponNotApplicable  CouponRejection = "not_applicable"
)

type CouponError struct {
	Code   string
	Reason CouponRejection
}

func (e *CouponError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrInvalidCoupon, e.Code, e.Reason)
}

func (e *CouponError) Is(target error) bool { return target == ErrInvalidCoupon }
