package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
)

type orderRepo struct {
	db DBTX
}

func NewOrderRepo(db DBTX) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, order_number, customer_id, customer_email, subtotal, discount_amount, shipping_amount,
	tax_amount, total, currency, coupon_code, billing_address, shipping_address, status, payment_status,
	inventory_held, tracking_number, cancellation_reason, admin_notes, created_at, updated_at,
	shipped_at, delivered_at, cancelled_at, deleted_at`

func (r *orderRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	billing, err := json.Marshal(order.BillingAddress)
	if err != nil {
		return err
	}
	shipping, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO orders (id, order_number, customer_id, customer_email, subtotal, discount_amount,
			shipping_amount, tax_amount, total, currency, coupon_code, billing_address, shipping_address,
			status, payment_status, inventory_held, admin_notes, created_at, updated_at)
		VALUES ($1, 'ORD-' || to_char($17::timestamptz AT TIME ZONE 'UTC', 'YYYYMMDD') || '-' ||
			lpad(nextval('order_number_seq')::text, 6, '0'),
			$2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $17)
		RETURNING order_number
	`
	err = r.db.QueryRowContext(ctx, query,
		order.ID, order.CustomerID, order.CustomerEmail, order.Subtotal, order.DiscountAmount,
		order.ShippingAmount, order.TaxAmount, order.Total, order.Currency, order.CouponCode,
		billing, shipping, order.Status, order.PaymentStatus, order.InventoryHeld, order.AdminNotes,
		order.CreatedAt,
	).Scan(&order.OrderNumber)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, position, product_id, product_name, unit_price, quantity,
			discount, tax, line_total)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for i := range order.Items {
		it := &order.Items[i]
		it.OrderID = order.ID
		if _, err := r.db.ExecContext(ctx, itemQuery,
			it.ID, it.OrderID, i, it.ProductID, it.ProductName, it.UnitPrice, it.Quantity,
			it.Discount, it.Tax, it.LineTotal,
		); err != nil {
			return fmt.Errorf("insert order item %d: %w", i, err)
		}
	}
	return nil
}

func (r *orderRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.find(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *orderRepo) FindByIdForUpdate(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.find(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *orderRepo) find(ctx context.Context, query string, id uuid.UUID) (*domain.Order, error) {
	var (
		o                 domain.Order
		billing, shipping []byte
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&o.ID, &o.OrderNumber, &o.CustomerID, &o.CustomerEmail, &o.Subtotal, &o.DiscountAmount,
		&o.ShippingAmount, &o.TaxAmount, &o.Total, &o.Currency, &o.CouponCode, &billing, &shipping,
		&o.Status, &o.PaymentStatus, &o.InventoryHeld, &o.TrackingNumber, &o.CancellationReason,
		&o.AdminNotes, &o.CreatedAt, &o.UpdatedAt, &o.ShippedAt, &o.DeliveredAt, &o.CancelledAt,
		&o.DeletedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(billing, &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("decode billing address: %w", err)
	}
	if err := json.Unmarshal(shipping, &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}

	items, err := r.items(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	o.Items = items
	return &o, nil
}

func (r *orderRepo) items(ctx context.Context, orderID uuid.UUID) ([]domain.OrderItem, error) {
	query := `
		SELECT id, order_id, product_id, product_name, unit_price, quantity, discount, tax, line_total
		FROM order_items
		WHERE order_id = $1
		ORDER BY position
	`
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.OrderItem
	for rows.Next() {
		var it domain.OrderItem
		if err := rows.Scan(
			&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.UnitPrice, &it.Quantity,
			&it.Discount, &it.Tax, &it.LineTotal,
		); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *orderRepo) UpdateOrderStatus(ctx context.Context, order *domain.Order, from domain.OrderStatus) error {
	query := `
		UPDATE orders
		SET status = $2,
		    tracking_number = $3,
		    cancellation_reason = $4,
		    admin_notes = $5,
		    shipped_at = $6,
		    delivered_at = $7,
		    cancelled_at = $8,
		    updated_at = $9
		WHERE id = $1 AND status = $10
	`
	res, err := r.db.ExecContext(ctx, query,
		order.ID, order.Status, order.TrackingNumber, order.CancellationReason, order.AdminNotes,
		order.ShippedAt, order.DeliveredAt, order.CancelledAt, order.UpdatedAt, from,
	)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("order %s no longer %s: %w", order.ID, from, domain.ErrConflict)
	}
	return nil
}

func (r *orderRepo) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status domain.OrderPaymentStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET payment_status = $2, updated_at = now() WHERE id = $1`, id, status)
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

func (r *orderRepo) SetInventoryHeld(ctx context.Context, id uuid.UUID, held bool) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET inventory_held = $2, updated_at = now() WHERE id = $1 AND inventory_held <> $2`, id, held)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *orderRepo) Archive(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE orders SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
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

func (r *orderRepo) CountPaidWithCoupon(ctx context.Context, customerID uuid.UUID, code string) (int, error) {
	query := `
		SELECT count(*)
		FROM orders
		WHERE customer_id = $1
		  AND lower(coupon_code) = lower($2)
		  AND payment_status IN ('paid', 'partially_refunded', 'refunded')
	`
	var n int
	if err := r.db.QueryRowContext(ctx, query, customerID, code).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
