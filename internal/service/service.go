package service

import (
	"context"
	"errors"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/logging"
	"storefront-orders/internal/observability"

	"go.uber.org/zap"
)

var outcomeStatuses = []struct {
	err      error
	status   string
	rejected bool
}{
	{domain.ErrGatewayUnavailable, "GATEWAY_UNAVAILABLE", false},
	{domain.ErrPaymentInitFailure, "PAYMENT_INIT_FAILED", true},
	{domain.ErrPaymentVerificationFailure, "PAYMENT_NOT_SUCCESSFUL", true},
	{domain.ErrRefundDeclined, "REFUND_DECLINED", true},
	{domain.ErrInsufficientStock, "INSUFFICIENT_STOCK", true},
	{domain.ErrIllegalTransition, "ILLEGAL_TRANSITION", true},
	{domain.ErrInvalidCoupon, "INVALID_COUPON", true},
	{domain.ErrIneligible, "REFUND_INELIGIBLE", true},
	{domain.ErrAmountExceedsRefundable, "AMOUNT_EXCEEDS_REFUNDABLE", true},
	{domain.ErrInvalidWebhookSignature, "INVALID_SIGNATURE", true},
	{domain.ErrValidation, "VALIDATION_FAILED", true},
	{domain.ErrNotFound, "NOT_FOUND", true},
	{domain.ErrForbidden, "FORBIDDEN", true},
	{domain.ErrConflict, "CONFLICT", false},
	{context.Canceled, "CONTEXT_CANCELED", false},
	{context.DeadlineExceeded, "CONTEXT_DEADLINE", false},
}

// finish classifies err onto the run and closes it.
func finish(run *observability.Run, err error) {
	if err != nil {
		status, rejected := "INTERNAL", false
		for _, o := range outcomeStatuses {
			if errors.Is(err, o.err) {
				status, rejected = o.status, o.rejected
				break
			}
		}
		if rejected {
			run.Reject(status)
		} else {
			run.Fail(status)
		}
	}
	run.End(err)
}

// publish hands events to the notification sink after commit. Failures are logged, never returned.
func publish(ctx context.Context, pub domain.Publisher, events ...domain.Event) {
	if pub == nil {
		return
	}
	for _, e := range events {
		if err := pub.Publish(context.WithoutCancel(ctx), e); err != nil {
			logging.FromContext(ctx).Warn("notification_publish_failed",
				zap.String("event", e.EventName()),
				zap.Error(err),
			)
		}
	}
}
