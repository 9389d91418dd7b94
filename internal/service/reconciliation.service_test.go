package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/infrastructure/payment"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCheckoutWithPercentageCoupon(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	ctx := context.Background()
	p := f.addProduct(t, "kettle", 45000, 5)
	f.addPercentCoupon(t, "SAVE10", 10)

	req := checkoutRequest(line(p, 2))
	req.Cart.CouponCode = "save10"
	res, err := f.recon.Checkout(ctx, f.customer, req)
	require.NoError(t, err)

	o := res.Order
	assert.True(t, dec("90000").Equal(o.Subtotal))
	assert.True(t, dec("9000").Equal(o.DiscountAmount))
	assert.True(t, dec("81000").Equal(o.Total))
	assert.Equal(t, "SAVE10", o.CouponCode)
	assert.Equal(t, domain.OrderPending, o.Status)
	assert.Equal(t, domain.OrderPaymentPending, o.PaymentStatus)
	assert.NotEmpty(t, o.OrderNumber)
	assert.Equal(t, 3, f.stock(t, p.ID))

	stored := f.payment(t, res.Payment.Reference)
	assert.Equal(t, domain.PaymentPending, stored.Status)
	assert.True(t, dec("81000").Equal(stored.Amount))
	assert.NotEmpty(t, stored.GatewayRef)
	assert.NotEmpty(t, res.AuthorizationURL)
}

func TestCheckoutRestrictedCouponDiscountsCoveredLinesOnly(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	ctx := context.Background()
	kettle := f.addProduct(t, "kettle", 100, 5)
	toaster := f.addProduct(t, "toaster", 100, 5)
	require.NoError(t, f.store.Repos().Coupons.CreateCoupon(ctx, &domain.Coupon{
		ID:         uuid.New(),
		Code:       "KETTLE50",
		Type:       domain.DiscountPercentage,
		Value:      dec("50"),
		Active:     true,
		ProductIDs: []uuid.UUID{kettle.ID},
	}))

	req := checkoutRequest(line(kettle, 1), line(toaster, 1))
	req.Cart.CouponCode = "KETTLE50"
	res, err := f.recon.Checkout(ctx, f.customer, req)
	require.NoError(t, err)

	o := res.Order
	assert.True(t, dec("50").Equal(o.DiscountAmount))
	require.Len(t, o.Items, 2)
	assert.True(t, dec("50").Equal(o.Items[0].Discount), o.Items[0].Discount.String())
	assert.True(t, o.Items[1].Discount.IsZero(), o.Items[1].Discount.String())
	assert.True(t, dec("100").Equal(o.Items[1].LineTotal))
}

func TestCheckoutAddsShippingAndTax(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{
		ShippingFlat: dec("1500"),
		TaxRate:      dec("7.5"),
	})
	p := f.addProduct(t, "kettle", 45000, 5)
	f.addPercentCoupon(t, "SAVE10", 10)

	req := checkoutRequest(line(p, 2))
	req.Cart.CouponCode = "SAVE10"
	res, err := f.recon.Checkout(context.Background(), f.customer, req)
	require.NoError(t, err)

	o := res.Order
	assert.True(t, dec("1500").Equal(o.ShippingAmount))
	assert.True(t, dec("6075").Equal(o.TaxAmount))
	assert.True(t, dec("88575").Equal(o.Total))
	require.NoError(t, o.CheckTotals())
}

func TestCheckoutRollsBackWhenSecondLineIsShort(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	a := f.addProduct(t, "a", 1000, 5)
	b := f.addProduct(t, "b", 2000, 1)

	_, err := f.recon.Checkout(context.Background(), f.customer, checkoutRequest(line(a, 2), line(b, 3)))
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	var short *domain.InsufficientStockError
	require.True(t, errors.As(err, &short))
	require.Len(t, short.Shortages, 1)
	assert.Equal(t, b.ID, short.Shortages[0].ProductID)
	assert.Equal(t, 3, short.Shortages[0].Requested)
	assert.Equal(t, 1, short.Shortages[0].Available)

	assert.Equal(t, 5, f.stock(t, a.ID))
	assert.Equal(t, 1, f.stock(t, b.ID))
	assert.Zero(t, f.gateway.InitCalls())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StockShortages))
}

func TestCheckoutRollsBackWhenGatewayInitFails(t *testing.T) {
	tests := []struct {
		name        string
		outcome     payment.OutcomeStatus
		unavailable bool
	}{
		{"declined", payment.OutcomeDeclined, false},
		{"unavailable", payment.OutcomeUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, domain.PricingPolicy{})
			p := f.addProduct(t, "a", 1000, 4)
			f.gateway.SetInitOutcome(tt.outcome)

			_, err := f.recon.Checkout(context.Background(), f.customer, checkoutRequest(line(p, 2)))
			require.ErrorIs(t, err, domain.ErrPaymentInitFailure)
			assert.Equal(t, tt.unavailable, errors.Is(err, domain.ErrGatewayUnavailable))
			assert.Equal(t, 4, f.stock(t, p.ID))

			stale, err := f.store.Repos().Payments.FindStalePending(context.Background(), farFuture, 10)
			require.NoError(t, err)
			assert.Empty(t, stale)
		})
	}
}

func TestCheckoutRejectsInvalidCoupon(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	p := f.addProduct(t, "a", 1000, 4)

	req := checkoutRequest(line(p, 1))
	req.Cart.CouponCode = "NOPE"
	_, err := f.recon.Checkout(context.Background(), f.customer, req)

	var ce *domain.CouponError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, domain.CouponNotFound, ce.Reason)
	assert.Equal(t, 4, f.stock(t, p.ID))
}

func TestConcurrentCheckoutsForLastUnit(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	p := f.addProduct(t, "last", 5000, 1)

	const buyers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		short     int
	)
	for range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.recon.Checkout(context.Background(), f.customer, checkoutRequest(line(p, 1)))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientStock):
				short++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, buyers-1, short)
	assert.Equal(t, 0, f.stock(t, p.ID))
}

func TestVerifyPaymentConfirmsOrderOnce(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	ctx := context.Background()
	p := f.addProduct(t, "a", 1000, 3)
	c := f.addPercentCoupon(t, "SAVE10", 10)

	req := checkoutRequest(line(p, 1))
	req.Cart.CouponCode = "SAVE10"
	res, err := f.recon.Checkout(ctx, f.customer, req)
	require.NoError(t, err)

	out, err := f.recon.VerifyPayment(ctx, res.Payment.Reference)
	require.NoError(t, err)
	assert.False(t, out.Replayed)
	assert.Equal(t, domain.PaymentSuccess, out.Payment.Status)
	assert.NotNil(t, out.Payment.PaidAt)
	assert.Equal(t, domain.OrderConfirmed, out.Order.Status)
	assert.Equal(t, domain.OrderPaymentPaid, out.Order.PaymentStatus)

	again, err := f.recon.VerifyPayment(ctx, res.Payment.Reference)
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, 1, f.gateway.VerifyCalls(res.Payment.Reference))

	assert.Len(t, f.events.named(domain.EventOrderConfirmed), 1)
	assert.Len(t, f.events.named(domain.EventOrderStatusChanged), 1)
	assert.Equal(t, 2, f.stock(t, p.ID))

	coupon, err := f.store.Repos().Coupons.FindByCode(ctx, "SAVE10")
	require.NoError(t, err)
	assert.Equal(t, c.ID, coupon.ID)
	assert.Equal(t, 1, coupon.TimesUsed)
}

func TestPollAndWebhookRaceSettleOnce(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	ctx := context.Background()
	p := f.addProduct(t, "a", 1000, 3)

	res, err := f.recon.Checkout(ctx, f.customer, checkoutRequest(line(p, 1)))
	require.NoError(t, err)
	ref := res.Payment.Reference
	body, sig := f.gateway.SignedWebhook(payment.WebhookChargeSuccess, ref)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = f.recon.VerifyPayment(ctx, ref)
				return
			}
			errs[i] = f.recon.HandleWebhook(ctx, body, sig)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.gateway.VerifyCalls(ref))
	assert.Equal(t, domain.PaymentSuccess, f.payment(t, ref).Status)
	assert.Len(t, f.events.named(domain.EventOrderConfirmed), 1)
	assert.Equal(t, 2, f.stock(t, p.ID))
}

func TestVerifyFailureReleasesStockAndAllowsRetry(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	ctx := context.Background()
	p := f.addProduct(t, "a", 1000, 3)

	res, err := f.recon.Checkout(ctx, f.customer, checkoutRequest(line(p, 2)))
	require.NoError(t, err)
	require.Equal(t, 1, f.stock(t, p.ID))

	f.gateway.SetVerifyOutcome(res.Payment.Reference, payment.OutcomeDeclined)
	out, err := f.recon.VerifyPayment(ctx, res.Payment.Reference)
	require.ErrorIs(t, err, domain.ErrPaymentVerificationFailure)
	require.NotNil(t, out)
	assert.Equal(t, domain.PaymentFailed, out.Payment.Status)
	assert.Equal(t, domain.OrderPending, out.Order.Status)
	assert.Equal(t, domain.OrderPaymentFailed, out.Order.PaymentStatus)
	assert.False(t, out.Order.InventoryHeld)
	assert.Equal(t, 3, f.stock(t, p.ID))

	// A replay reports the same failure and restores nothing twice.
	_, err = f.recon.VerifyPayment(ctx, res.Payment.Reference)
	require.ErrorIs(t, err, domain.ErrPaymentVerificationFailure)
	assert.Equal(t, 3, f.stock(t, p.ID))

	retry, err := f.recon.RetryPayment(ctx, f.customer, res.Order.ID)
	require.NoError(t, err)
	assert.NotEqual(t, res.Payment.Reference, retry.Payment.Reference)
	assert.Equal(t, 1, f.stock(t, p.ID))

	out, err = f.recon.VerifyPayment(ctx, retry.Payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, out.Order.Status)
	assert.Equal(t, 1, f.stock(t, p.ID))
}

func TestRetryPaymentRequiresFailedPayment(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	p := f.addProduct(t, "a", 1000, 3)
	res, err := f.recon.Checkout(context.Background(), f.customer, checkoutRequest(line(p, 1)))
	require.NoError(t, err)

	_, err = f.recon.RetryPayment(context.Background(), f.customer, res.Order.ID)
	assert.ErrorIs(t, err, domain.ErrIneligible)
}

func TestVerifyAmountMismatchFailsPayment(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	ctx := context.Background()
	p := f.addProduct(t, "a", 1000, 3)
	res, err := f.recon.Checkout(ctx, f.customer, checkoutRequest(line(p, 1)))
	require.NoError(t, err)

	gw := &mismatchGateway{MockGateway: f.gateway}
	svc := f.recon.(*reconciliationService)
	svc.gateway = gw

	_, err = f.recon.VerifyPayment(ctx, res.Payment.Reference)
	require.ErrorIs(t, err, domain.ErrPaymentVerificationFailure)
	stored := f.payment(t, res.Payment.Reference)
	assert.Equal(t, domain.PaymentFailed, stored.Status)
	assert.Equal(t, reasonAmountMismatch, stored.FailureReason)
	assert.Equal(t, 3, f.stock(t, p.ID))
}

type mismatchGateway struct {
	*payment.MockGateway
}

func (g *mismatchGateway) VerifyTransaction(ctx context.Context, reference string) payment.TransactionOutcome {
	out := g.MockGateway.VerifyTransaction(ctx, reference)
	out.Amount = 1
	return out
}

func TestVerifyPendingAndUnavailableChangeNothing(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	ctx := context.Background()
	p := f.addProduct(t, "a", 1000, 3)
	res, err := f.recon.Checkout(ctx, f.customer, checkoutRequest(line(p, 1)))
	require.NoError(t, err)
	ref := res.Payment.Reference

	f.gateway.SetVerifyOutcome(ref, payment.OutcomePending)
	out, err := f.recon.VerifyPayment(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentPending, out.Payment.Status)

	f.gateway.SetVerifyOutcome(ref, payment.OutcomeUnavailable)
	_, err = f.recon.VerifyPayment(ctx, ref)
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	// One pending call plus the initial attempt and two retries.
	assert.Equal(t, 4, f.gateway.VerifyCalls(ref))

	assert.Equal(t, domain.PaymentPending, f.payment(t, ref).Status)
	assert.Equal(t, 2, f.stock(t, p.ID))
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	ctx := context.Background()
	p := f.addProduct(t, "a", 1000, 3)
	res, err := f.recon.Checkout(ctx, f.customer, checkoutRequest(line(p, 1)))
	require.NoError(t, err)

	body, _ := f.gateway.SignedWebhook(payment.WebhookChargeSuccess, res.Payment.Reference)
	for _, sig := range []string{"", "deadbeef", payment.Sign("other-secret", body)} {
		err := f.recon.HandleWebhook(ctx, body, sig)
		require.ErrorIs(t, err, domain.ErrInvalidWebhookSignature)
	}
	assert.Zero(t, f.gateway.VerifyCalls(res.Payment.Reference))
	assert.Equal(t, domain.PaymentPending, f.payment(t, res.Payment.Reference).Status)
}

func TestHandleWebhookIgnoresOtherEvents(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	body, sig := f.gateway.SignedWebhook("transfer.success", "PAY-unknown")
	require.NoError(t, f.recon.HandleWebhook(context.Background(), body, sig))

	body, sig = f.gateway.SignedWebhook(payment.WebhookChargeSuccess, "PAY-unknown")
	require.NoError(t, f.recon.HandleWebhook(context.Background(), body, sig))
}

func TestRefundBound(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	ctx := context.Background()
	p := f.addProduct(t, "a", 50000, 3)
	res := f.paidOrder(t, p, 1)

	_, err := f.recon.RefundOrder(ctx, f.admin, res.Order.ID, RefundRequest{Amount: dec("20000"), Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderPaymentPartiallyRefunded, f.order(t, res.Order.ID).PaymentStatus)

	_, err = f.recon.RefundOrder(ctx, f.admin, res.Order.ID, RefundRequest{Amount: dec("40000")})
	var exceeds *domain.AmountExceedsRefundableError
	require.ErrorAs(t, err, &exceeds)
	assert.True(t, dec("30000").Equal(exceeds.Refundable))
	assert.True(t, dec("20000").Equal(f.payment(t, res.Payment.Reference).RefundedAmount))

	rf, err := f.recon.RefundOrder(ctx, f.admin, res.Order.ID, RefundRequest{Amount: dec("30000")})
	require.NoError(t, err)
	assert.Equal(t, domain.RefundSuccess, rf.Status)
	assert.Equal(t, f.admin.ID, rf.ProcessedBy)

	pay := f.payment(t, res.Payment.Reference)
	assert.True(t, dec("50000").Equal(pay.RefundedAmount))
	assert.Equal(t, domain.PaymentRefunded, pay.Status)

	o := f.order(t, res.Order.ID)
	assert.Equal(t, domain.OrderPaymentRefunded, o.PaymentStatus)
	assert.Equal(t, domain.OrderRefunded, o.Status)
	assert.Len(t, f.events.named(domain.EventRefundProcessed), 2)

	_, err = f.recon.RefundOrder(ctx, f.admin, res.Order.ID, RefundRequest{Amount: dec("1")})
	assert.ErrorIs(t, err, domain.ErrIneligible)

	refunds, err := f.recon.ListRefunds(ctx, f.customer, res.Order.ID)
	require.NoError(t, err)
	assert.Len(t, refunds, 2)
}

func TestRefundRequiresCollectedPayment(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	p := f.addProduct(t, "a", 1000, 3)
	res, err := f.recon.Checkout(context.Background(), f.customer, checkoutRequest(line(p, 1)))
	require.NoError(t, err)

	_, err = f.recon.RefundOrder(context.Background(), f.admin, res.Order.ID, RefundRequest{Amount: dec("10")})
	assert.ErrorIs(t, err, domain.ErrIneligible)

	_, err = f.recon.RefundOrder(context.Background(), f.customer, res.Order.ID, RefundRequest{Amount: dec("10")})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestRefundGatewayFailureLeavesPaymentUntouched(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	ctx := context.Background()
	p := f.addProduct(t, "a", 1000, 3)
	res := f.paidOrder(t, p, 1)

	f.gateway.SetRefundOutcome(payment.OutcomeUnavailable)
	rf, err := f.recon.RefundOrder(ctx, f.admin, res.Order.ID, RefundRequest{Amount: dec("400")})
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	require.NotNil(t, rf)
	assert.Equal(t, domain.RefundFailed, rf.Status)

	f.gateway.SetRefundOutcome(payment.OutcomeDeclined)
	_, err = f.recon.RefundOrder(ctx, f.admin, res.Order.ID, RefundRequest{Amount: dec("400")})
	require.ErrorIs(t, err, domain.ErrRefundDeclined)

	pay := f.payment(t, res.Payment.Reference)
	assert.True(t, pay.RefundedAmount.IsZero())
	assert.Equal(t, domain.PaymentSuccess, pay.Status)
	assert.Equal(t, domain.OrderPaymentPaid, f.order(t, res.Order.ID).PaymentStatus)

	// Failed refunds do not hold capacity.
	f.gateway.SetRefundOutcome(payment.OutcomeSucceeded)
	_, err = f.recon.RefundOrder(ctx, f.admin, res.Order.ID, RefundRequest{Amount: dec("1000")})
	require.NoError(t, err)
}

func TestGetPaymentChecksOwnership(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	p := f.addProduct(t, "a", 1000, 3)
	res, err := f.recon.Checkout(context.Background(), f.customer, checkoutRequest(line(p, 1)))
	require.NoError(t, err)

	got, err := f.recon.GetPayment(context.Background(), f.customer, res.Payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, res.Payment.ID, got.ID)

	stranger := domain.Actor{ID: f.admin.ID, Role: domain.RoleCustomer}
	_, err = f.recon.GetPayment(context.Background(), stranger, res.Payment.Reference)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
