package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/repo"
)

func TestReserveLinesIsAllOrNothing(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	ctx := context.Background()
	kettle := f.addProduct(t, "kettle", 1000, 5)
	toaster := f.addProduct(t, "toaster", 2000, 1)
	ledger := NewInventoryLedger()

	var short *domain.InsufficientStockError
	err := f.store.WithTx(ctx, func(ctx context.Context, r repo.Repos) error {
		_, err := ledger.ReserveLines(ctx, r, []domain.CartLine{line(kettle, 2), line(toaster, 3)})
		return err
	})
	require.ErrorAs(t, err, &short)
	require.Len(t, short.Shortages, 1)
	assert.Equal(t, "toaster", short.Shortages[0].Name)
	assert.Equal(t, 1, short.Shortages[0].Available)
	assert.Equal(t, 5, f.stock(t, kettle.ID))
	assert.Equal(t, 1, f.stock(t, toaster.ID))

	var held []Reservation
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, r repo.Repos) error {
		held, err = ledger.ReserveLines(ctx, r, []domain.CartLine{line(kettle, 2), line(toaster, 1)})
		return err
	}))
	assert.Len(t, held, 2)
	assert.Equal(t, 3, f.stock(t, kettle.ID))
	assert.Equal(t, 0, f.stock(t, toaster.ID))

	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, r repo.Repos) error {
		return ledger.RestoreItems(ctx, r, []domain.OrderItem{{ProductID: kettle.ID, Quantity: 2}})
	}))
	assert.Equal(t, 5, f.stock(t, kettle.ID))
}

func TestReserveLinesRejectsNonPositiveQuantity(t *testing.T) {
	f := newFixture(t, domain.PricingPolicy{})
	kettle := f.addProduct(t, "kettle", 1000, 5)

	err := f.store.WithTx(context.Background(), func(ctx context.Context, r repo.Repos) error {
		_, err := NewInventoryLedger().ReserveLines(ctx, r, []domain.CartLine{line(kettle, 0)})
		return err
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Equal(t, 5, f.stock(t, kettle.ID))
}
