package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type StockBand string

const (
	StockUntracked StockBand = "untracked"
	StockIn        StockBand = "in_stock"
	StockLow       StockBand = "low_stock"
	StockOut       StockBand = "out_of_stock"
)

// Product carries the inventory counters the ledger operates on.
type Product struct {
	ID                uuid.UUID
	Name              string
	SKU               string
	Price             decimal.Decimal
	CategoryID        uuid.UUID
	StockQuantity     int
	LowStockThreshold int
	TrackQuantity     bool
	AllowBackorders   bool
	SalesCount        int
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
}

// CanFulfil reports whether quantity units may be taken without violating the stock floor.
func (p *Product) CanFulfil(quantity int) bool {
	return !p.TrackQuantity || p.AllowBackorders || p.StockQuantity >= quantity
}

// Band classifies the product into exactly one stock band.
// Low stock is 0 < stock <= threshold; out of stock is stock <= 0.
func (p *Product) Band() StockBand {
	switch {
	case !p.TrackQuantity:
		return StockUntracked
	case p.StockQuantity <= 0 && !p.AllowBackorders:
		return StockOut
	case p.StockQuantity > 0 && p.StockQuantity <= p.LowStockThreshold:
		return StockLow
	default:
		return StockIn
	}
}

func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	c := *p
	c.DeletedAt = cloneTime(p.DeletedAt)
	return &c
}
