package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"storefront-orders/internal/domain"

	"github.com/google/uuid"
)

type couponRepo struct {
	db DBTX
}

func NewCouponRepo(db DBTX) CouponRepo {
	return &couponRepo{db: db}
}

func (r *couponRepo) CreateCoupon(ctx context.Context, c *domain.Coupon) error {
	products, err := json.Marshal(nonNilIDs(c.ProductIDs))
	if err != nil {
		return err
	}
	categories, err := json.Marshal(nonNilIDs(c.CategoryIDs))
	if err != nil {
		return err
	}
	query := `
		INSERT INTO coupons (id, code, description, discount_type, value, min_order_amount, max_discount,
			usage_limit, usage_limit_per_user, times_used, active, starts_at, expires_at, product_ids,
			category_ids, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err = r.db.ExecContext(ctx, query,
		c.ID, domain.NormalizeCouponCode(c.Code), c.Description, c.Type, c.Value, c.MinOrderAmount,
		c.MaxDiscount, c.UsageLimit, c.UsageLimitPerUser, c.TimesUsed, c.Active, c.StartsAt, c.ExpiresAt,
		products, categories, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert coupon: %w", err)
	}
	return nil
}

func (r *couponRepo) FindByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	query := `
		SELECT id, code, description, discount_type, value, min_order_amount, max_discount, usage_limit,
			usage_limit_per_user, times_used, active, starts_at, expires_at, product_ids, category_ids,
			created_at, updated_at, deleted_at
		FROM coupons
		WHERE lower(code) = lower($1) AND deleted_at IS NULL
	`
	var (
		c                    domain.Coupon
		products, categories []byte
	)
	err := r.db.QueryRowContext(ctx, query, domain.NormalizeCouponCode(code)).Scan(
		&c.ID, &c.Code, &c.Description, &c.Type, &c.Value, &c.MinOrderAmount, &c.MaxDiscount,
		&c.UsageLimit, &c.UsageLimitPerUser, &c.TimesUsed, &c.Active, &c.StartsAt, &c.ExpiresAt,
		&products, &categories, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(products, &c.ProductIDs); err != nil {
		return nil, fmt.Errorf("decode coupon products: %w", err)
	}
	if err := json.Unmarshal(categories, &c.CategoryIDs); err != nil {
		return nil, fmt.Errorf("decode coupon categories: %w", err)
	}
	return &c, nil
}

func (r *couponRepo) IncrementUsage(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE coupons
		SET times_used = times_used + 1, updated_at = now()
		WHERE id = $1 AND (usage_limit IS NULL OR times_used < usage_limit)
	`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func nonNilIDs(ids []uuid.UUID) []uuid.UUID {
	if ids == nil {
		return []uuid.UUID{}
	}
	return ids
}
