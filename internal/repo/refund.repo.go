package repo

import (
	"context"
	"fmt"
	"time"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type refundRepo struct {
	db DBTX
}

func NewRefundRepo(db DBTX) RefundRepo {
	return &refundRepo{db: db}
}

const refundColumns = `id, reference, order_id, payment_id, amount, currency, status, reason, admin_notes,
	processed_by, gateway_ref, failure_reason, processed_at, created_at, updated_at`

func scanRefund(row rowScanner) (*domain.Refund, error) {
	var (
		rf          domain.Refund
		processedBy uuid.NullUUID
	)
	err := row.Scan(
		&rf.ID, &rf.Reference, &rf.OrderID, &rf.PaymentID, &rf.Amount, &rf.Currency, &rf.Status,
		&rf.Reason, &rf.AdminNotes, &processedBy, &rf.GatewayRef, &rf.FailureReason, &rf.ProcessedAt,
		&rf.CreatedAt, &rf.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if processedBy.Valid {
		rf.ProcessedBy = processedBy.UUID
	}
	return &rf, nil
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

func (r *refundRepo) CreateRefund(ctx context.Context, rf *domain.Refund) error {
	query := `
		INSERT INTO refunds (id, reference, order_id, payment_id, amount, currency, status, reason,
			admin_notes, processed_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		rf.ID, rf.Reference, rf.OrderID, rf.PaymentID, rf.Amount, rf.Currency, rf.Status, rf.Reason,
		rf.AdminNotes, nullUUID(rf.ProcessedBy), rf.CreatedAt, rf.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	return nil
}

func (r *refundRepo) FindByReference(ctx context.Context, reference string) (*domain.Refund, error) {
	rf, err := scanRefund(r.db.QueryRowContext(ctx, `SELECT `+refundColumns+` FROM refunds WHERE reference = $1`, reference))
	return rf, notFound(err)
}

func (r *refundRepo) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]domain.Refund, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+refundColumns+` FROM refunds WHERE order_id = $1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []domain.Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, *rf)
	}
	return refunds, rows.Err()
}

func (r *refundRepo) SumOpenByPayment(ctx context.Context, paymentID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id = $1 AND status IN ('pending', 'processing')`,
		paymentID,
	).Scan(&sum)
	return sum, err
}

func (r *refundRepo) Finish(ctx context.Context, rf *domain.Refund) (bool, error) {
	query := `
		UPDATE refunds
		SET status = $2,
		    gateway_ref = $3,
		    failure_reason = $4,
		    processed_at = $5,
		    updated_at = now()
		WHERE reference = $1 AND status IN ('pending', 'processing')
	`
	res, err := r.db.ExecContext(ctx, query, rf.Reference, rf.Status, rf.GatewayRef, rf.FailureReason, rf.ProcessedAt)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *refundRepo) FindStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Refund, error) {
	query := `
		SELECT ` + refundColumns + `
		FROM refunds
		WHERE status IN ('pending', 'processing')
		AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refunds []domain.Refund
	for rows.Next() {
		rf, err := scanRefund(rows)
		if err != nil {
			return nil, err
		}
		refunds = append(refunds, *rf)
	}
	return refunds, rows.Err()
}
