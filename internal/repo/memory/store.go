// Package memory is an in-process implementation of repo.Store. Transactions are serialized and
// roll back by restoring a snapshot, which gives the same all-or-nothing behaviour as Postgres.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/repo"

	"github.com/google/uuid"
)

type dataset struct {
	orders   map[uuid.UUID]*domain.Order
	payments map[string]*domain.Payment
	refunds  map[string]*domain.Refund
	coupons  map[uuid.UUID]*domain.Coupon
	products map[uuid.UUID]*domain.Product
}

func newDataset() *dataset {
	return &dataset{
		orders:   make(map[uuid.UUID]*domain.Order),
		payments: make(map[string]*domain.Payment),
		refunds:  make(map[string]*domain.Refund),
		coupons:  make(map[uuid.UUID]*domain.Coupon),
		products: make(map[uuid.UUID]*domain.Product),
	}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	for k, v := range d.orders {
		c.orders[k] = v.Clone()
	}
	for k, v := range d.payments {
		c.payments[k] = v.Clone()
	}
	for k, v := range d.refunds {
		c.refunds[k] = v.Clone()
	}
	for k, v := range d.coupons {
		c.coupons[k] = v.Clone()
	}
	for k, v := range d.products {
		c.products[k] = v.Clone()
	}
	return c
}

type Store struct {
	mu       sync.Mutex
	data     *dataset
	orderSeq atomic.Int64
}

func NewStore() *Store {
	return &Store{data: newDataset()}
}

var _ repo.Store = (*Store)(nil)

// Repos returns repositories where every call is its own short transaction.
func (s *Store) Repos() repo.Repos {
	return s.bind(true)
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, r repo.Repos) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(ctx, s.bind(false)); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (s *Store) bind(autocommit bool) repo.Repos {
	t := &txn{store: s, autocommit: autocommit}
	return repo.Repos{
		Orders:    &orderRepo{t},
		Payments:  &paymentRepo{t},
		Refunds:   &refundRepo{t},
		Coupons:   &couponRepo{t},
		Inventory: &inventoryRepo{t},
	}
}

// txn guards access to the dataset. Inside WithTx the store lock is already held.
type txn struct {
	store      *Store
	autocommit bool
}

func (t *txn) lock() (*dataset, func()) {
	if !t.autocommit {
		return t.store.data, func() {}
	}
	t.store.mu.Lock()
	return t.store.data, t.store.mu.Unlock
}
