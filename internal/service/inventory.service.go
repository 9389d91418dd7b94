package service

import (
	"context"
	"errors"
	"fmt"

	"storefront-orders/internal/domain"
	"storefront-orders/internal/repo"

	"github.com/google/uuid"
)

// Reservation is a stock hold taken by a direct conditional decrement.
type Reservation struct {
	ProductID uuid.UUID
	Quantity  int
}

// InventoryLedger enforces the stock floor. A reservation is a direct conditional decrement of the
// product row with no separate hold table, so there is nothing to commit: it becomes permanent
// when the caller's unit of work commits and disappears when that rolls back. Callers pass the
// Repos of that unit of work.
type InventoryLedger struct{}

func NewInventoryLedger() *InventoryLedger {
	return &InventoryLedger{}
}

func (l *InventoryLedger) reserve(ctx context.Context, r repo.Repos, productID uuid.UUID, quantity int) (Reservation, error) {
	if quantity <= 0 {
		return Reservation{}, domain.Validationf("quantity must be greater than zero")
	}
	ok, err := r.Inventory.DecrementStock(ctx, productID, quantity)
	if err != nil {
		return Reservation{}, fmt.Errorf("decrement stock %s: %w", productID, err)
	}
	if !ok {
		return Reservation{}, l.shortage(ctx, r, productID, "", quantity)
	}
	return Reservation{ProductID: productID, Quantity: quantity}, nil
}

// restore adds units back and reduces the sales counter by the same amount.
func (l *InventoryLedger) restore(ctx context.Context, r repo.Repos, productID uuid.UUID, quantity int) error {
	if err := r.Inventory.RestoreStock(ctx, productID, quantity); err != nil {
		return fmt.Errorf("restore stock %s: %w", productID, err)
	}
	return nil
}

// ReserveLines reserves every line or none. All shortages are reported together; lines that did
// fit are released again before returning.
func (l *InventoryLedger) ReserveLines(ctx context.Context, r repo.Repos, lines []domain.CartLine) ([]Reservation, error) {
	var (
		held      []Reservation
		shortages []domain.StockShortage
	)
	for _, line := range lines {
		res, err := l.reserve(ctx, r, line.ProductID, line.Quantity)
		var short *domain.InsufficientStockError
		switch {
		case errors.As(err, &short):
			for _, s := range short.Shortages {
				if line.Name != "" {
					s.Name = line.Name
				}
				shortages = append(shortages, s)
			}
		case err != nil:
			l.releaseAll(ctx, r, held)
			return nil, err
		default:
			held = append(held, res)
		}
	}
	if len(shortages) > 0 {
		if err := l.releaseAll(ctx, r, held); err != nil {
			return nil, err
		}
		return nil, &domain.InsufficientStockError{Shortages: shortages}
	}
	return held, nil
}

// RestoreItems puts back the stock for every order line.
func (l *InventoryLedger) RestoreItems(ctx context.Context, r repo.Repos, items []domain.OrderItem) error {
	for _, it := range items {
		if err := l.restore(ctx, r, it.ProductID, it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (l *InventoryLedger) releaseAll(ctx context.Context, r repo.Repos, held []Reservation) error {
	var errs []error
	for _, res := range held {
		errs = append(errs, l.restore(ctx, r, res.ProductID, res.Quantity))
	}
	return errors.Join(errs...)
}

func (l *InventoryLedger) shortage(ctx context.Context, r repo.Repos, productID uuid.UUID, name string, requested int) error {
	available := 0
	p, err := r.Inventory.FindProduct(ctx, productID)
	switch {
	case err == nil:
		available = max(p.StockQuantity, 0)
		if name == "" {
			name = p.Name
		}
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("lookup product %s: %w", productID, err)
	}
	return &domain.InsufficientStockError{Shortages: []domain.StockShortage{{
		ProductID: productID,
		Name:      name,
		Requested: requested,
		Available: available,
	}}}
}
