package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-orders/internal/domain"
)

type postgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) Store {
	return &postgresStore{db: db}
}

func bind(db DBTX) Repos {
	return Repos{
		Orders:    NewOrderRepo(db),
		Payments:  NewPaymentRepo(db),
		Refunds:   NewRefundRepo(db),
		Coupons:   NewCouponRepo(db),
		Inventory: NewInventoryRepo(db),
	}
}

func (s *postgresStore) Repos() Repos {
	return bind(s.db)
}

func (s *postgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, bind(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
