package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/infrastructure/payment"
	"storefront-orders/internal/lock"
	"storefront-orders/internal/logging"
	"storefront-orders/internal/observability"
	"storefront-orders/internal/repo"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	reasonAmountMismatch    = "amount_mismatch"
	reasonCurrencyMismatch  = "currency_mismatch"
	reasonAbandoned         = "abandoned"
	reasonRefundUnconfirmed = "refund_unconfirmed"
)

type CheckoutRequest struct {
	Cart            domain.Cart
	CustomerEmail   string
	ShippingAddress domain.Address
	BillingAddress  domain.Address
}

type CheckoutResult struct {
	Order            *domain.Order
	Payment          *domain.Payment
	AuthorizationURL string
}

// PaymentOutcome is what verification settled on. Replayed is set when another caller had
// already settled the payment and nothing was changed by this call.
type PaymentOutcome struct {
	Payment  *domain.Payment
	Order    *domain.Order
	Replayed bool
}

type RefundRequest struct {
	Amount     decimal.Decimal
	Reason     string
	AdminNotes string
}

type ReconciliationConfig struct {
	Currency    string
	CallbackURL string
	Pricing     domain.PricingPolicy
	// VerifyBackOff builds the retry policy for read-only verification calls.
	VerifyBackOff func() backoff.BackOff
}

type ReconciliationService interface {
	Checkout(ctx context.Context, actor domain.Actor, req CheckoutRequest) (*CheckoutResult, error)
	VerifyPayment(ctx context.Context, reference string) (*PaymentOutcome, error)
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
	RefundOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID, req RefundRequest) (*domain.Refund, error)
	RetryPayment(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*CheckoutResult, error)
	ExpirePayment(ctx context.Context, reference, reason string) (*PaymentOutcome, error)
	FailStaleRefund(ctx context.Context, reference, reason string) (*domain.Refund, error)
	GetPayment(ctx context.Context, actor domain.Actor, reference string) (*domain.Payment, error)
	ListRefunds(ctx context.Context, actor domain.Actor, orderID uuid.UUID) ([]domain.Refund, error)
}

type reconciliationService struct {
	store     repo.Store
	gateway   payment.Gateway
	ledger    *InventoryLedger
	discounts *DiscountCalculator
	locker    lock.Locker
	publisher domain.Publisher
	tel       *observability.Telemetry
	cfg       ReconciliationConfig
	now       func() time.Time
}

func NewReconciliationService(
	store repo.Store,
	gateway payment.Gateway,
	ledger *InventoryLedger,
	discounts *DiscountCalculator,
	locker lock.Locker,
	publisher domain.Publisher,
	tel *observability.Telemetry,
	cfg ReconciliationConfig,
) ReconciliationService {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if tel == nil {
		tel = observability.Nop()
	}
	if cfg.Currency == "" {
		cfg.Currency = domain.DefaultCurrency
	}
	cfg.Currency = domain.NormalizeCurrency(cfg.Currency)
	if cfg.VerifyBackOff == nil {
		cfg.VerifyBackOff = defaultVerifyBackOff
	}
	return &reconciliationService{
		store:     store,
		gateway:   gateway,
		ledger:    ledger,
		discounts: discounts,
		locker:    locker,
		publisher: publisher,
		tel:       tel,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func defaultVerifyBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	return backoff.WithMaxRetries(b, 3)
}

// Checkout prices the cart, reserves stock, records the order and its first payment attempt and
// initializes the gateway transaction in one unit of work. Any failure leaves nothing behind.
func (s *reconciliationService) Checkout(ctx context.Context, actor domain.Actor, req CheckoutRequest) (res *CheckoutResult, err error) {
	ctx, run := s.tel.Start(ctx, "checkout", "Checkout", attribute.String("customer.id", actor.ID.String()))
	defer func() { finish(run, err) }()

	if actor.ID == uuid.Nil {
		return nil, domain.Validationf("checkout requires a customer")
	}
	if err := req.Cart.Validate(); err != nil {
		return nil, err
	}
	if req.Cart.Currency != "" && domain.NormalizeCurrency(req.Cart.Currency) != s.cfg.Currency {
		return nil, domain.Validationf("currency %s is not accepted", req.Cart.Currency)
	}
	email := strings.TrimSpace(req.CustomerEmail)
	if email == "" {
		email = actor.Email
	}
	if email == "" {
		return nil, domain.Validationf("customer email is required")
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, r repo.Repos) error {
		applied, err := s.discounts.Calculate(ctx, r, actor.ID, req.Cart.CouponCode, req.Cart.Lines)
		if err != nil {
			return err
		}
		quote := s.cfg.Pricing.Quote(req.Cart.Lines, applied.Amount, applied.Eligible)

		now := s.now()
		order := &domain.Order{
			ID:              uuid.New(),
			CustomerID:      actor.ID,
			CustomerEmail:   email,
			Items:           quote.Items,
			Subtotal:        quote.Subtotal,
			DiscountAmount:  quote.Discount,
			ShippingAmount:  quote.Shipping,
			TaxAmount:       quote.Tax,
			Total:           quote.Total,
			Currency:        s.cfg.Currency,
			CouponCode:      applied.Code,
			BillingAddress:  req.BillingAddress,
			ShippingAddress: req.ShippingAddress,
			Status:          domain.OrderPending,
			PaymentStatus:   domain.OrderPaymentPending,
			InventoryHeld:   true,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		for i := range order.Items {
			order.Items[i].OrderID = order.ID
		}
		if err := order.CheckTotals(); err != nil {
			return err
		}

		if _, err := s.ledger.ReserveLines(ctx, r, req.Cart.Lines); err != nil {
			var short *domain.InsufficientStockError
			if errors.As(err, &short) {
				s.tel.Metrics.ShortageObserved(len(short.Shortages))
			}
			return err
		}
		if err := r.Orders.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		p, err := s.startPayment(ctx, r, order)
		if err != nil {
			return err
		}
		res = &CheckoutResult{Order: order, Payment: p, AuthorizationURL: p.AuthorizationURL}
		return nil
	})
	if err != nil {
		return nil, err
	}

	run.With(
		zap.String("order_id", res.Order.ID.String()),
		zap.String("order_number", res.Order.OrderNumber),
		zap.String("payment_reference", res.Payment.Reference),
		zap.String("total", res.Order.Total.StringFixed(2)),
	)
	return res, nil
}

// startPayment records a pending payment attempt for the order and opens the gateway transaction.
func (s *reconciliationService) startPayment(ctx context.Context, r repo.Repos, order *domain.Order) (*domain.Payment, error) {
	now := s.now()
	p := &domain.Payment{
		ID:             uuid.New(),
		OrderID:        order.ID,
		Reference:      domain.NewPaymentReference(),
		Amount:         order.Total,
		Currency:       order.Currency,
		Status:         domain.PaymentPending,
		RefundedAmount: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := r.Payments.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment: %w", err)
	}

	handle := s.gateway.InitializeTransaction(ctx, payment.InitializeRequest{
		Reference:     p.Reference,
		OrderNumber:   order.OrderNumber,
		Amount:        p.Amount,
		Currency:      p.Currency,
		CustomerEmail: order.CustomerEmail,
		CallbackURL:   s.cfg.CallbackURL,
	})
	if !handle.Succeeded() {
		if handle.Unavailable() {
			return nil, fmt.Errorf("%w: %w: %s", domain.ErrPaymentInitFailure, domain.ErrGatewayUnavailable, handle.FailureReason)
		}
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentInitFailure, handle.FailureReason)
	}

	p.GatewayRef = handle.GatewayRef
	p.AuthorizationURL = handle.AuthorizationURL
	if err := r.Payments.SetGatewayDetails(ctx, p.Reference, p.GatewayRef, p.AuthorizationURL); err != nil {
		return nil, fmt.Errorf("store gateway details: %w", err)
	}
	return p, nil
}

// VerifyPayment settles a payment from the gateway's view of it. Poll and webhook callers share
// this path; a payment already settled is returned as is without touching the gateway.
func (s *reconciliationService) VerifyPayment(ctx context.Context, reference string) (out *PaymentOutcome, err error) {
	ctx, run := s.tel.Start(ctx, "payment.verify", "VerifyPayment", attribute.String("payment.reference", reference))
	defer func() { finish(run, err) }()
	return s.verify(ctx, run, reference, "")
}

// ExpirePayment asks the gateway one last time about a payment that has been pending for too long.
// A final answer settles it as usual; one that is still pending fails the payment with reason and
// releases its stock.
func (s *reconciliationService) ExpirePayment(ctx context.Context, reference, reason string) (out *PaymentOutcome, err error) {
	ctx, run := s.tel.Start(ctx, "payment.expire", "ExpirePayment", attribute.String("payment.reference", reference))
	defer func() { finish(run, err) }()
	if reason == "" {
		reason = reasonAbandoned
	}
	return s.verify(ctx, run, reference, reason)
}

// verify holds the payment lock while it settles reference. A non-empty expireReason turns a
// pending gateway answer into a failure.
func (s *reconciliationService) verify(ctx context.Context, run *observability.Run, reference, expireReason string) (*PaymentOutcome, error) {
	run.With(zap.String("payment_reference", reference))

	release, err := s.locker.Acquire(ctx, "payment:"+reference)
	if err != nil {
		return nil, fmt.Errorf("acquire payment lock: %w", err)
	}
	defer release()

	p, err := s.store.Repos().Payments.FindByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("find payment %s: %w", reference, err)
	}
	if p.Status.Settled() {
		run.Status("IDEMPOTENT_REPLAY")
		return s.settledOutcome(ctx, p, true)
	}

	tx := s.verifyWithRetry(ctx, reference)
	switch {
	case tx.Unavailable():
		return nil, fmt.Errorf("verify %s: %w: %s", reference, domain.ErrGatewayUnavailable, tx.FailureReason)
	case tx.Status == payment.OutcomePending && expireReason == "":
		run.Status("PENDING")
		order, err := s.store.Repos().Orders.FindById(ctx, p.OrderID)
		if err != nil {
			return nil, err
		}
		return &PaymentOutcome{Payment: p, Order: order}, nil
	}

	completion := repo.PaymentCompletion{
		Status:          domain.PaymentSuccess,
		GatewayRef:      tx.GatewayRef,
		Method:          tx.Method,
		GatewayResponse: tx.RawPayload,
		PaidAt:          tx.PaidAt,
	}
	if completion.GatewayRef == "" {
		completion.GatewayRef = p.GatewayRef
	}
	switch {
	case tx.Status == payment.OutcomePending:
		completion.Status, completion.FailureReason, completion.PaidAt = domain.PaymentFailed, expireReason, nil
		run.Status("EXPIRED")
	case !tx.Succeeded():
		completion.Status = domain.PaymentFailed
		completion.FailureReason = tx.FailureReason
		if completion.FailureReason == "" {
			completion.FailureReason = string(tx.Status)
		}
		completion.PaidAt = nil
	case tx.Amount != domain.ToMinorUnits(p.Amount):
		completion.Status, completion.FailureReason, completion.PaidAt = domain.PaymentFailed, reasonAmountMismatch, nil
		run.Logger().Warn("gateway_amount_mismatch",
			zap.Int64("expected_minor", domain.ToMinorUnits(p.Amount)),
			zap.Int64("reported_minor", tx.Amount),
		)
	case tx.Currency != "" && domain.NormalizeCurrency(tx.Currency) != p.Currency:
		completion.Status, completion.FailureReason, completion.PaidAt = domain.PaymentFailed, reasonCurrencyMismatch, nil
	case completion.PaidAt == nil:
		now := s.now()
		completion.PaidAt = &now
	}

	var (
		events   []domain.Event
		replayed bool
	)
	err = s.store.WithTx(ctx, func(ctx context.Context, r repo.Repos) error {
		events, replayed = nil, false

		order, err := r.Orders.FindByIdForUpdate(ctx, p.OrderID)
		if err != nil {
			return err
		}
		won, err := r.Payments.Complete(ctx, reference, completion)
		if err != nil {
			return fmt.Errorf("complete payment: %w", err)
		}
		if !won {
			replayed = true
			return nil
		}
		if completion.Status == domain.PaymentSuccess {
			events, err = s.applyPaid(ctx, r, order)
			return err
		}
		return s.applyFailed(ctx, r, order, completion.FailureReason)
	})
	if err != nil {
		return nil, err
	}
	if replayed {
		run.Status("IDEMPOTENT_REPLAY")
	}
	publish(ctx, s.publisher, events...)

	p, err = s.store.Repos().Payments.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	return s.settledOutcome(ctx, p, replayed)
}

func (s *reconciliationService) verifyWithRetry(ctx context.Context, reference string) payment.TransactionOutcome {
	var (
		out     payment.TransactionOutcome
		attempt int
	)
	op := func() error {
		attempt++
		out = s.gateway.VerifyTransaction(ctx, reference)
		if out.Unavailable() {
			return errors.New(out.FailureReason)
		}
		return nil
	}
	onRetry := func(err error, next time.Duration) {
		logging.FromContext(ctx).Warn("gateway_verify_retry",
			zap.Int("attempt", attempt),
			zap.Duration("next_in", next),
			zap.Error(err),
		)
	}
	_ = backoff.RetryNotify(op, backoff.WithContext(s.cfg.VerifyBackOff(), ctx), onRetry)
	return out
}

// applyPaid marks the order paid, counts the coupon use and confirms a pending order.
func (s *reconciliationService) applyPaid(ctx context.Context, r repo.Repos, order *domain.Order) ([]domain.Event, error) {
	log := logging.FromContext(ctx)
	if err := r.Orders.UpdatePaymentStatus(ctx, order.ID, domain.OrderPaymentPaid); err != nil {
		return nil, err
	}
	order.PaymentStatus = domain.OrderPaymentPaid

	if order.CouponCode != "" {
		counted, err := s.discounts.RecordUsage(ctx, r, order.CouponCode)
		if err != nil {
			return nil, fmt.Errorf("record coupon usage: %w", err)
		}
		if !counted {
			log.Warn("coupon_usage_not_counted", zap.String("coupon_code", order.CouponCode))
		}
	}

	switch order.Status {
	case domain.OrderPending:
	case domain.OrderCancelled:
		log.Warn("payment_collected_for_cancelled_order",
			zap.String("order_id", order.ID.String()),
			zap.String("order_number", order.OrderNumber),
		)
		return nil, nil
	default:
		return nil, nil
	}

	changed, err := transitionOrder(ctx, r, s.ledger, order, StatusUpdate{Status: domain.OrderConfirmed}, s.now())
	if err != nil {
		return nil, err
	}
	events := []domain.Event{domain.NewOrderConfirmed(order)}
	if changed != nil {
		events = append(events, *changed)
	}
	return events, nil
}

// applyFailed leaves the order pending and releases its stock so it can be retried or abandoned.
func (s *reconciliationService) applyFailed(ctx context.Context, r repo.Repos, order *domain.Order, reason string) error {
	logging.FromContext(ctx).Info("payment_failed",
		zap.String("order_id", order.ID.String()),
		zap.String("failure_reason", reason),
	)
	if order.PaymentStatus != domain.OrderPaymentPending && order.PaymentStatus != domain.OrderPaymentFailed {
		return nil
	}
	if err := r.Orders.UpdatePaymentStatus(ctx, order.ID, domain.OrderPaymentFailed); err != nil {
		return err
	}
	order.PaymentStatus = domain.OrderPaymentFailed
	return releaseHeldStock(ctx, r, s.ledger, order)
}

func (s *reconciliationService) settledOutcome(ctx context.Context, p *domain.Payment, replayed bool) (*PaymentOutcome, error) {
	order, err := s.store.Repos().Orders.FindById(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	out := &PaymentOutcome{Payment: p, Order: order, Replayed: replayed}
	if !p.Status.Collected() {
		return out, fmt.Errorf("payment %s %s (%s): %w", p.Reference, p.Status, p.FailureReason, domain.ErrPaymentVerificationFailure)
	}
	return out, nil
}

// HandleWebhook authenticates a gateway notification and settles the payment it names. The
// payload's own status is never trusted; the gateway is asked again.
func (s *reconciliationService) HandleWebhook(ctx context.Context, payload []byte, signature string) (err error) {
	ctx, run := s.tel.Start(ctx, "payment.webhook", "HandleWebhook")
	defer func() { finish(run, err) }()

	evt, err := s.gateway.VerifyWebhook(payload, signature)
	if err != nil {
		return err
	}
	run.With(zap.String("webhook_event", evt.Event), zap.String("payment_reference", evt.Reference))

	if evt.Event != payment.WebhookChargeSuccess && evt.Event != payment.WebhookChargeFailed {
		run.Status("IGNORED")
		return nil
	}
	if evt.Reference == "" {
		return domain.Validationf("webhook %s carries no reference", evt.Event)
	}

	_, err = s.VerifyPayment(ctx, evt.Reference)
	switch {
	case errors.Is(err, domain.ErrPaymentVerificationFailure):
		run.Status("PAYMENT_NOT_SUCCESSFUL")
		return nil
	case errors.Is(err, domain.ErrNotFound):
		run.Status("UNKNOWN_REFERENCE")
		return nil
	}
	return err
}

// RefundOrder returns part or all of an order's collected payment. The refund is recorded as
// pending before the gateway is called and is always finished as success or failed afterwards.
func (s *reconciliationService) RefundOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID, req RefundRequest) (refund *domain.Refund, err error) {
	ctx, run := s.tel.Start(ctx, "refund", "RefundOrder",
		attribute.String("order.id", orderID.String()),
		attribute.String("refund.amount", req.Amount.StringFixed(2)),
	)
	defer func() { finish(run, err) }()

	if !actor.IsAdmin() {
		return nil, fmt.Errorf("refund order: %w", domain.ErrForbidden)
	}
	amount := domain.RoundMoney(req.Amount)
	if !amount.IsPositive() {
		return nil, domain.Validationf("refund amount must be greater than zero")
	}

	var pay *domain.Payment
	err = s.store.WithTx(ctx, func(ctx context.Context, r repo.Repos) error {
		order, err := r.Orders.FindByIdForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		p, err := r.Payments.FindCollectedByOrder(ctx, order.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("order %s has no successful payment: %w", order.OrderNumber, domain.ErrIneligible)
		}
		if err != nil {
			return err
		}
		if p.Status == domain.PaymentRefunded || !p.Refundable().IsPositive() {
			return fmt.Errorf("order %s is already fully refunded: %w", order.OrderNumber, domain.ErrIneligible)
		}

		open, err := r.Refunds.SumOpenByPayment(ctx, p.ID)
		if err != nil {
			return err
		}
		refundable := decimal.Max(p.Refundable().Sub(open), decimal.Zero)
		if amount.GreaterThan(refundable) {
			return &domain.AmountExceedsRefundableError{Requested: amount, Refundable: refundable}
		}

		now := s.now()
		refund = &domain.Refund{
			ID:          uuid.New(),
			Reference:   domain.NewRefundReference(),
			OrderID:     order.ID,
			PaymentID:   p.ID,
			Amount:      amount,
			Currency:    p.Currency,
			Status:      domain.RefundPending,
			Reason:      req.Reason,
			AdminNotes:  req.AdminNotes,
			ProcessedBy: actor.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		pay = p
		return r.Refunds.CreateRefund(ctx, refund)
	})
	if err != nil {
		return nil, err
	}
	run.With(zap.String("refund_reference", refund.Reference), zap.String("payment_reference", pay.Reference))

	// The pending refund must be finished even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	outcome := s.gateway.CreateRefund(ctx, pay.GatewayRef, amount, pay.Currency)

	now := s.now()
	refund.ProcessedAt, refund.UpdatedAt = &now, now
	if outcome.Succeeded() {
		refund.Status, refund.GatewayRef = domain.RefundSuccess, outcome.GatewayRef
	} else {
		refund.Status, refund.FailureReason = domain.RefundFailed, outcome.FailureReason
	}

	var events []domain.Event
	err = s.store.WithTx(ctx, func(ctx context.Context, r repo.Repos) error {
		events = nil
		order, err := r.Orders.FindByIdForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		finished, err := r.Refunds.Finish(ctx, refund)
		if err != nil {
			return err
		}
		if !finished {
			return fmt.Errorf("refund %s already finished: %w", refund.Reference, domain.ErrConflict)
		}
		if refund.Status != domain.RefundSuccess {
			return nil
		}
		evs, err := s.applyRefund(ctx, r, order, refund, now)
		events = evs
		return err
	})
	if err != nil {
		run.Logger().Error("refund_not_recorded",
			zap.String("refund_reference", refund.Reference),
			zap.String("gateway_status", string(outcome.Status)),
			zap.Error(err),
		)
		return nil, err
	}
	publish(ctx, s.publisher, events...)

	if refund.Status == domain.RefundFailed {
		if outcome.Unavailable() {
			return refund, fmt.Errorf("refund %s: %w: %s", refund.Reference, domain.ErrGatewayUnavailable, outcome.FailureReason)
		}
		return refund, fmt.Errorf("refund %s: %w: %s", refund.Reference, domain.ErrRefundDeclined, outcome.FailureReason)
	}
	return refund, nil
}

// FailStaleRefund closes a refund whose outcome was never recorded, for instance because the process
// stopped between the gateway call and the write that follows it. The gateway offers no refund
// lookup, so the refund is marked failed and its amount becomes refundable again.
func (s *reconciliationService) FailStaleRefund(ctx context.Context, reference, reason string) (refund *domain.Refund, err error) {
	ctx, run := s.tel.Start(ctx, "refund.expire", "FailStaleRefund", attribute.String("refund.reference", reference))
	defer func() { finish(run, err) }()
	run.With(zap.String("refund_reference", reference))
	if reason == "" {
		reason = reasonRefundUnconfirmed
	}

	var changed bool
	err = s.store.WithTx(ctx, func(ctx context.Context, r repo.Repos) error {
		changed = false
		rf, err := r.Refunds.FindByReference(ctx, reference)
		if err != nil {
			return err
		}
		refund = rf
		if rf.Status.IsTerminal() {
			return nil
		}

		now := s.now()
		failed := *rf
		failed.Status, failed.FailureReason, failed.ProcessedAt, failed.UpdatedAt = domain.RefundFailed, reason, &now, now
		changed, err = r.Refunds.Finish(ctx, &failed)
		if err != nil {
			return err
		}
		if changed {
			refund = &failed
			return nil
		}
		refund, err = r.Refunds.FindByReference(ctx, reference)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		run.Status("IDEMPOTENT_REPLAY")
		return refund, nil
	}
	run.Logger().Warn("stale_refund_failed",
		zap.String("order_id", refund.OrderID.String()),
		zap.String("payment_id", refund.PaymentID.String()),
		zap.String("amount", refund.Amount.StringFixed(2)),
		zap.String("failure_reason", reason),
	)
	return refund, nil
}

// applyRefund books a successful gateway refund against the payment and the order. A full refund
// moves the order to refunded unless it is already cancelled or refunded.
func (s *reconciliationService) applyRefund(ctx context.Context, r repo.Repos, order *domain.Order, refund *domain.Refund, now time.Time) ([]domain.Event, error) {
	p, err := r.Payments.FindCollectedByOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	status := p.StatusAfterRefund(p.RefundedAmount.Add(refund.Amount))
	applied, err := r.Payments.ApplyRefund(ctx, p.ID, refund.Amount, status)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, fmt.Errorf("refund %s exceeds payment %s: %w", refund.Reference, p.Reference, domain.ErrConflict)
	}

	paymentStatus := domain.OrderPaymentPartiallyRefunded
	if status == domain.PaymentRefunded {
		paymentStatus = domain.OrderPaymentRefunded
	}
	if err := r.Orders.UpdatePaymentStatus(ctx, order.ID, paymentStatus); err != nil {
		return nil, err
	}
	order.PaymentStatus = paymentStatus

	var events []domain.Event
	if status == domain.PaymentRefunded && order.Status != domain.OrderCancelled && order.Status != domain.OrderRefunded {
		old := order.Status
		if !old.CanTransitionTo(domain.OrderRefunded) {
			logging.FromContext(ctx).Warn("order_refund_forced",
				zap.String("order_id", order.ID.String()),
				zap.String("from_status", string(old)),
			)
		}
		order.Status, order.UpdatedAt = domain.OrderRefunded, now
		if err := r.Orders.UpdateOrderStatus(ctx, order, old); err != nil {
			return nil, err
		}
		events = append(events, domain.NewOrderStatusChanged(order, old))
	}
	return append(events, domain.NewRefundProcessed(order, refund)), nil
}

// RetryPayment opens a new payment attempt for a pending order whose last attempt failed. Stock
// released by the failure is reserved again first.
func (s *reconciliationService) RetryPayment(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (res *CheckoutResult, err error) {
	ctx, run := s.tel.Start(ctx, "payment.retry", "RetryPayment", attribute.String("order.id", orderID.String()))
	defer func() { finish(run, err) }()

	err = s.store.WithTx(ctx, func(ctx context.Context, r repo.Repos) error {
		order, err := r.Orders.FindByIdForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.CanAccessOrder(order) || !order.Visible() {
			return domain.ErrNotFound
		}
		if order.Status != domain.OrderPending || order.PaymentStatus != domain.OrderPaymentFailed {
			return fmt.Errorf("order %s is %s with payment %s: %w", order.OrderNumber, order.Status, order.PaymentStatus, domain.ErrIneligible)
		}

		if !order.InventoryHeld {
			lines := make([]domain.CartLine, 0, len(order.Items))
			for _, it := range order.Items {
				lines = append(lines, domain.CartLine{ProductID: it.ProductID, Name: it.ProductName, UnitPrice: it.UnitPrice, Quantity: it.Quantity})
			}
			if _, err := s.ledger.ReserveLines(ctx, r, lines); err != nil {
				return err
			}
			if _, err := r.Orders.SetInventoryHeld(ctx, order.ID, true); err != nil {
				return err
			}
			order.InventoryHeld = true
		}
		if err := r.Orders.UpdatePaymentStatus(ctx, order.ID, domain.OrderPaymentPending); err != nil {
			return err
		}
		order.PaymentStatus = domain.OrderPaymentPending

		p, err := s.startPayment(ctx, r, order)
		if err != nil {
			return err
		}
		res = &CheckoutResult{Order: order, Payment: p, AuthorizationURL: p.AuthorizationURL}
		return nil
	})
	if err != nil {
		return nil, err
	}
	run.With(zap.String("payment_reference", res.Payment.Reference))
	return res, nil
}

func (s *reconciliationService) GetPayment(ctx context.Context, actor domain.Actor, reference string) (*domain.Payment, error) {
	r := s.store.Repos()
	p, err := r.Payments.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	order, err := r.Orders.FindById(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccessOrder(order) {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (s *reconciliationService) ListRefunds(ctx context.Context, actor domain.Actor, orderID uuid.UUID) ([]domain.Refund, error) {
	r := s.store.Repos()
	order, err := r.Orders.FindById(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccessOrder(order) {
		return nil, domain.ErrNotFound
	}
	return r.Refunds.ListByOrder(ctx, orderID)
}
