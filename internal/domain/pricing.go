package domain

import (
	"slices"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PricingPolicy holds the store-wide shipping and tax rules applied at checkout.
type PricingPolicy struct {
	ShippingFlat          decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	// TaxRate is a percentage of the discounted subtotal.
	TaxRate decimal.Decimal
}

type Quote struct {
	Subtotal decimal.Decimal
	Discount decimal.Decimal
	Shipping decimal.Decimal
	Tax      decimal.Decimal
	Total    decimal.Decimal
	Items    []OrderItem
}

// Quote prices the lines with an already-validated discount. The discount is spread pro rata over
// the lines eligible selects (every line when eligible is nil) and tax over the discounted lines, so
// item totals add up to subtotal - discount + tax.
func (p PricingPolicy) Quote(lines []CartLine, discount decimal.Decimal, eligible func(CartLine) bool) Quote {
	var q Quote
	amounts := make([]decimal.Decimal, len(lines))
	weights := make([]decimal.Decimal, len(lines))
	eligibleSum := decimal.Zero
	for i, l := range lines {
		amounts[i] = RoundMoney(l.Amount())
		q.Subtotal = q.Subtotal.Add(amounts[i])
		if eligible == nil || eligible(l) {
			weights[i] = amounts[i]
			eligibleSum = eligibleSum.Add(amounts[i])
		}
	}

	q.Discount = RoundMoney(decimal.Min(discount, eligibleSum))
	if q.Discount.IsNegative() {
		q.Discount = decimal.Zero
	}
	net := q.Subtotal.Sub(q.Discount)

	q.Shipping = RoundMoney(p.ShippingFlat)
	if p.FreeShippingThreshold.IsPositive() && net.GreaterThanOrEqual(p.FreeShippingThreshold) {
		q.Shipping = decimal.Zero
	}
	q.Tax = RoundMoney(net.Mul(p.TaxRate).Div(decimal.NewFromInt(100)))
	q.Total = net.Add(q.Shipping).Add(q.Tax)

	discounts := allocate(q.Discount, weights)
	nets := make([]decimal.Decimal, len(lines))
	for i := range amounts {
		nets[i] = amounts[i].Sub(discounts[i])
	}
	taxes := allocate(q.Tax, nets)

	q.Items = make([]OrderItem, len(lines))
	for i, l := range lines {
		q.Items[i] = OrderItem{
			ID:          uuid.New(),
			ProductID:   l.ProductID,
			ProductName: l.Name,
			UnitPrice:   l.UnitPrice,
			Quantity:    l.Quantity,
			Discount:    discounts[i],
			Tax:         taxes[i],
			LineTotal:   nets[i].Add(taxes[i]),
		}
	}
	return q
}

// allocate splits total over weights in whole minor units. Each share is floored and the leftover
// cents go to the largest remainders, so no share is negative and, while total does not exceed the
// weights' sum, no share exceeds its weight.
func allocate(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	out := make([]decimal.Decimal, len(weights))
	sum := decimal.Zero
	for _, w := range weights {
		sum = sum.Add(w)
	}
	if !sum.IsPositive() || !total.IsPositive() {
		return out
	}

	cents := RoundMoney(total).Shift(2)
	rems := make([]decimal.Decimal, len(weights))
	order := make([]int, len(weights))
	given := decimal.Zero
	for i, w := range weights {
		out[i], rems[i] = cents.Mul(w).QuoRem(sum, 0)
		given = given.Add(out[i])
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int { return rems[b].Cmp(rems[a]) })
	for _, i := range order[:cents.Sub(given).IntPart()] {
		out[i] = out[i].Add(decimal.NewFromInt(1))
	}
	for i := range out {
		out[i] = out[i].Shift(-2)
	}
	return out
}
