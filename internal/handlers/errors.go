package handlers

import (
	"context"
	"errors"
	"net/http"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/logging"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorBody struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// Checked in order: a failed init that was caused by an outage is reported as the outage.
var errorStatuses = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrGatewayUnavailable, http.StatusServiceUnavailable, "GATEWAY_UNAVAILABLE"},
	{domain.ErrPaymentInitFailure, http.StatusBadGateway, "PAYMENT_INIT_FAILED"},
	{domain.ErrInvalidWebhookSignature, http.StatusUnauthorized, "INVALID_SIGNATURE"},
	{domain.ErrInsufficientStock, http.StatusConflict, "INSUFFICIENT_STOCK"},
	{domain.ErrIllegalTransition, http.StatusConflict, "ILLEGAL_TRANSITION"},
	{domain.ErrConflict, http.StatusConflict, "CONFLICT"},
	{domain.ErrInvalidCoupon, http.StatusUnprocessableEntity, "INVALID_COUPON"},
	{domain.ErrIneligible, http.StatusUnprocessableEntity, "REFUND_INELIGIBLE"},
	{domain.ErrAmountExceedsRefundable, http.StatusUnprocessableEntity, "AMOUNT_EXCEEDS_REFUNDABLE"},
	{domain.ErrRefundDeclined, http.StatusUnprocessableEntity, "REFUND_DECLINED"},
	{domain.ErrPaymentVerificationFailure, http.StatusUnprocessableEntity, "PAYMENT_NOT_SUCCESSFUL"},
	{domain.ErrValidation, http.StatusUnprocessableEntity, "VALIDATION_FAILED"},
	{domain.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
}

func writeDomainError(c *gin.Context, err error) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			c.JSON(e.status, errorBody{Error: err.Error(), Code: e.code, Details: errorDetails(err)})
			return
		}
	}
	logging.FromContext(c.Request.Context()).Error("unhandled_error", zap.Error(err))
	c.JSON(http.StatusInternalServerError, errorBody{Error: "internal error", Code: "INTERNAL"})
}

func errorDetails(err error) any {
	var (
		stock      *domain.InsufficientStockError
		transition *domain.IllegalTransitionError
		refundable *domain.AmountExceedsRefundableError
		coupon     *domain.CouponError
	)
	switch {
	case errors.As(err, &stock):
		return gin.H{"shortages": stock.Shortages}
	case errors.As(err, &transition):
		return gin.H{"from": transition.From, "to": transition.To, "allowed_transitions": transition.Allowed}
	case errors.As(err, &refundable):
		return gin.H{"requested": refundable.Requested, "refundable": refundable.Refundable}
	case errors.As(err, &coupon):
		return gin.H{"coupon_code": coupon.Code, "reason": coupon.Reason}
	}
	return nil
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, errorBody{Error: err.Error(), Code: "BAD_REQUEST"})
}
