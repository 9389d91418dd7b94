package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CartLine is a priced line supplied by the cart source.
type CartLine struct {
	ProductID  uuid.UUID       `json:"product_id"`
	CategoryID uuid.UUID       `json:"category_id"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	Quantity   int             `json:"quantity"`
}

func (l CartLine) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Cart struct {
	Lines      []CartLine `json:"lines"`
	CouponCode string     `json:"coupon_code,omitempty"`
	Currency   string     `json:"currency,omitempty"`
}

func (c Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for _, l := range c.Lines {
		total = total.Add(l.Amount())
	}
	return RoundMoney(total)
}

// Validate rejects empty carts, non-positive quantities and negative prices.
func (c Cart) Validate() error {
	if len(c.Lines) == 0 {
		return validationf("cart is empty")
	}
	seen := make(map[uuid.UUID]struct{}, len(c.Lines))
	for i, l := range c.Lines {
		if l.ProductID == uuid.Nil {
			return validationf("line %d: product id is required", i)
		}
		if _, dup := seen[l.ProductID]; dup {
			return validationf("line %d: duplicate product %s", i, l.ProductID)
		}
		seen[l.ProductID] = struct{}{}
		if l.Quantity <= 0 {
			return validationf("line %d: quantity must be greater than zero", i)
		}
		if l.UnitPrice.IsNegative() {
			return validationf("line %d: unit price must not be negative", i)
		}
	}
	return nil
}
