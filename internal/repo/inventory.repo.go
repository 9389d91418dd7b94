package repo

import (
	"context"
	"fmt"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
)

type inventoryRepo struct {
	db DBTX
}

func NewInventoryRepo(db DBTX) InventoryRepo {
	return &inventoryRepo{db: db}
}

const productColumns = `id, name, sku, price, category_id, stock_quantity, low_stock_threshold, track_quantity,
	allow_backorders, sales_count, created_at, updated_at, deleted_at`

func scanProduct(row rowScanner) (*domain.Product, error) {
	var (
		p        domain.Product
		category uuid.NullUUID
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.SKU, &p.Price, &category, &p.StockQuantity, &p.LowStockThreshold,
		&p.TrackQuantity, &p.AllowBackorders, &p.SalesCount, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	p.CategoryID = category.UUID
	return &p, nil
}

func (r *inventoryRepo) CreateProduct(ctx context.Context, p *domain.Product) error {
	query := `
		INSERT INTO products (id, name, sku, price, category_id, stock_quantity, low_stock_threshold,
			track_quantity, allow_backorders, sales_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Name, p.SKU, p.Price, nullUUID(p.CategoryID), p.StockQuantity, p.LowStockThreshold,
		p.TrackQuantity, p.AllowBackorders, p.SalesCount, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *inventoryRepo) FindProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	return p, notFound(err)
}

// DecrementStock is the compare-and-swap on stock_quantity: the row is only touched when the
// floor still holds at the moment of the update.
func (r *inventoryRepo) DecrementStock(ctx context.Context, id uuid.UUID, quantity int) (bool, error) {
	query := `
		UPDATE products
		SET stock_quantity = CASE WHEN track_quantity THEN stock_quantity - $2 ELSE stock_quantity END,
		    sales_count = sales_count + $2,
		    updated_at = now()
		WHERE id = $1
		  AND deleted_at IS NULL
		  AND (NOT track_quantity OR allow_backorders OR stock_quantity >= $2)
	`
	res, err := r.db.ExecContext(ctx, query, id, quantity)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *inventoryRepo) RestoreStock(ctx context.Context, id uuid.UUID, quantity int) error {
	query := `
		UPDATE products
		SET stock_quantity = CASE WHEN track_quantity THEN stock_quantity + $2 ELSE stock_quantity END,
		    sales_count = GREATEST(sales_count - $2, 0),
		    updated_at = now()
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query, id, quantity)
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

func (r *inventoryRepo) ListByBand(ctx context.Context, band domain.StockBand, limit int) ([]domain.Product, error) {
	var cond string
	switch band {
	case domain.StockUntracked:
		cond = `NOT track_quantity`
	case domain.StockOut:
		cond = `track_quantity AND NOT allow_backorders AND stock_quantity <= 0`
	case domain.StockLow:
		cond = `track_quantity AND stock_quantity > 0 AND stock_quantity <= low_stock_threshold`
	case domain.StockIn:
		cond = `track_quantity AND (stock_quantity > low_stock_threshold OR (allow_backorders AND stock_quantity <= 0))`
	default:
		return nil, domain.Validationf("unknown stock band %q", band)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE deleted_at IS NULL AND `+cond+` ORDER BY name LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []domain.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	return products, rows.Err()
}
