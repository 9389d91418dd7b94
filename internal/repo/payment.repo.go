package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type paymentRepo struct {
	db DBTX
}

func NewPaymentRepo(db DBTX) PaymentRepo {
	return &paymentRepo{db: db}
}

const paymentColumns = `id, order_id, reference, gateway_ref, authorization_url, amount, currency, status,
	method, refunded_amount, failure_reason, gateway_response, paid_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPayment(row rowScanner) (*domain.Payment, error) {
	var (
		p      domain.Payment
		method []byte
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &p.Reference, &p.GatewayRef, &p.AuthorizationURL, &p.Amount, &p.Currency,
		&p.Status, &method, &p.RefundedAmount, &p.FailureReason, &p.GatewayResponse, &p.PaidAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(method) > 0 {
		if err := json.Unmarshal(method, &p.Method); err != nil {
			return nil, fmt.Errorf("decode payment method: %w", err)
		}
	}
	return &p, nil
}

func (r *paymentRepo) CreatePayment(ctx context.Context, p *domain.Payment) error {
	method, err := json.Marshal(p.Method)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO payments (id, order_id, reference, gateway_ref, authorization_url, amount, currency,
			status, method, refunded_amount, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.ExecContext(ctx, query,
		p.ID, p.OrderID, p.Reference, p.GatewayRef, p.AuthorizationURL, p.Amount, p.Currency,
		p.Status, method, p.RefundedAmount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepo) FindByReference(ctx context.Context, reference string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE reference = $1`, reference)
	p, err := scanPayment(row)
	return p, notFound(err)
}

func (r *paymentRepo) FindByReferenceForUpdate(ctx context.Context, reference string) (*domain.Payment, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE reference = $1 FOR UPDATE`, reference)
	p, err := scanPayment(row)
	return p, notFound(err)
}

func (r *paymentRepo) FindCollectedByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE order_id = $1 AND status IN ('success', 'partially_refunded', 'refunded')
		FOR UPDATE
	`
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, orderID))
	return p, notFound(err)
}

func (r *paymentRepo) FindLatestByOrder(ctx context.Context, orderID uuid.UUID) (*domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	p, err := scanPayment(r.db.QueryRowContext(ctx, query, orderID))
	return p, notFound(err)
}

func (r *paymentRepo) SetGatewayDetails(ctx context.Context, reference, gatewayRef, authorizationURL string) error {
	query := `
		UPDATE payments
		SET gateway_ref = COALESCE(NULLIF($2, ''), gateway_ref),
		    authorization_url = $3,
		    updated_at = now()
		WHERE reference = $1
	`
	res, err := r.db.ExecContext(ctx, query, reference, gatewayRef, authorizationURL)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrNotFound
	}
	return nil
}

func (r *paymentRepo) Complete(ctx context.Context, reference string, c PaymentCompletion) (bool, error) {
	method, err := json.Marshal(c.Method)
	if err != nil {
		return false, err
	}
	query := `
		UPDATE payments
		SET status = $2,
		    gateway_ref = COALESCE(NULLIF($3, ''), gateway_ref),
		    method = $4,
		    failure_reason = $5,
		    gateway_response = $6,
		    paid_at = $7,
		    updated_at = now()
		WHERE reference = $1 AND status IN ('pending', 'processing')
	`
	res, err := r.db.ExecContext(ctx, query,
		reference, c.Status, c.GatewayRef, method, c.FailureReason, c.GatewayResponse, c.PaidAt,
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *paymentRepo) ApplyRefund(ctx context.Context, id uuid.UUID, amount decimal.Decimal, status domain.PaymentStatus) (bool, error) {
	query := `
		UPDATE payments
		SET refunded_amount = refunded_amount + $2,
		    status = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('success', 'partially_refunded')
		  AND refunded_amount + $2 <= amount
	`
	res, err := r.db.ExecContext(ctx, query, id, amount, status)
	if err != nil {
		return false, err
	}
	return affected(res)
}

// FindStalePending lists payments still awaiting a gateway outcome that were created before the cutoff.
func (r *paymentRepo) FindStalePending(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
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

	var payments []domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}
