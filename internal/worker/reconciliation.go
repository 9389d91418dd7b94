package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/repo"
	"storefront-orders/internal/service"

	"go.uber.org/zap"
)

// Reconciler is the slice of the reconciliation service the sweeper drives.
type Reconciler interface {
	VerifyPayment(ctx context.Context, reference string) (*service.PaymentOutcome, error)
	ExpirePayment(ctx context.Context, reference, reason string) (*service.PaymentOutcome, error)
	FailStaleRefund(ctx context.Context, reference, reason string) (*domain.Refund, error)
}

type Config struct {
	Interval    time.Duration
	StaleAfter  time.Duration
	// ExpireAfter is the age at which a payment still pending at the gateway is failed.
	ExpireAfter time.Duration
	BatchSize   int
}

// ReconciliationWorker re-verifies payments that stayed pending for too long and closes refunds
// whose outcome was never recorded. For payments the gateway answer decides their fate, the same
// way a client poll would, until they pass ExpireAfter.
type ReconciliationWorker struct {
	payments   repo.PaymentRepo
	refunds    repo.RefundRepo
	reconciler Reconciler
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

func NewReconciliationWorker(payments repo.PaymentRepo, refunds repo.RefundRepo, reconciler Reconciler, cfg Config, logger *zap.Logger) *ReconciliationWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.ExpireAfter <= 0 {
		cfg.ExpireAfter = 24 * time.Hour
	}
	cfg.ExpireAfter = max(cfg.ExpireAfter, cfg.StaleAfter)
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationWorker{
		payments:   payments,
		refunds:    refunds,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logger.Named("reconciliation_worker"),
		now:        time.Now,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (rw *ReconciliationWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(rw.cfg.Interval)
	defer ticker.Stop()

	rw.logger.Info("worker_started",
		zap.Duration("interval", rw.cfg.Interval),
		zap.Duration("stale_after", rw.cfg.StaleAfter),
	)

	for {
		select {
		case <-ctx.Done():
			rw.logger.Info("worker_stopped")
			return
		case <-ticker.C:
			if _, err := rw.Sweep(ctx); err != nil {
				rw.logger.Error("sweep_failed", zap.Error(err))
			}
		}
	}
}

// SweepResult counts what one pass did with the stale payments and refunds it found.
type SweepResult struct {
	Found   int
	Settled int
	Failed  int
	Pending int
	Skipped int

	RefundsFound  int
	RefundsFailed int
}

// Sweep runs a single pass. Errors for individual payments or refunds are logged and skipped so
// one bad reference cannot stall the rest of the batch.
func (rw *ReconciliationWorker) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if err := rw.sweepPayments(ctx, &res); err != nil {
		return res, err
	}
	return res, rw.sweepRefunds(ctx, &res)
}

func (rw *ReconciliationWorker) sweepPayments(ctx context.Context, res *SweepResult) error {
	now := rw.now()
	stale, err := rw.payments.FindStalePending(ctx, now.Add(-rw.cfg.StaleAfter), rw.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list stale payments: %w", err)
	}
	res.Found = len(stale)
	if res.Found == 0 {
		return nil
	}
	rw.logger.Info("stale_payments_found", zap.Int("count", res.Found))

	expireBefore := now.Add(-rw.cfg.ExpireAfter)
	for _, p := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log := rw.logger.With(zap.String("payment_reference", p.Reference), zap.String("order_id", p.OrderID.String()))

		var out *service.PaymentOutcome
		if p.CreatedAt.Before(expireBefore) {
			out, err = rw.reconciler.ExpirePayment(ctx, p.Reference, "abandoned")
		} else {
			out, err = rw.reconciler.VerifyPayment(ctx, p.Reference)
		}
		switch {
		case errors.Is(err, domain.ErrPaymentVerificationFailure):
			res.Failed++
			log.Info("abandoned_payment_failed")
		case err != nil:
			res.Skipped++
			log.Warn("stale_payment_verify_failed", zap.Error(err))
		case out.Payment != nil && out.Payment.Status.Collected():
			res.Settled++
			log.Info("stale_payment_collected")
		default:
			res.Pending++
		}
	}
	return nil
}

func (rw *ReconciliationWorker) sweepRefunds(ctx context.Context, res *SweepResult) error {
	stale, err := rw.refunds.FindStalePending(ctx, rw.now().Add(-rw.cfg.StaleAfter), rw.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("list stale refunds: %w", err)
	}
	res.RefundsFound = len(stale)
	if res.RefundsFound == 0 {
		return nil
	}
	rw.logger.Warn("stale_refunds_found", zap.Int("count", res.RefundsFound))

	for _, rf := range stale {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		refund, err := rw.reconciler.FailStaleRefund(ctx, rf.Reference, "refund_unconfirmed")
		if err != nil {
			rw.logger.Warn("stale_refund_close_failed", zap.String("refund_reference", rf.Reference), zap.Error(err))
			continue
		}
		if refund.Status == domain.RefundFailed {
			res.RefundsFailed++
		}
	}
	return nil
}
