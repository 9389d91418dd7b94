package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is used when neither the cart nor configuration names one.
const DefaultCurrency = "NGN"

// RoundMoney rounds an amount to two decimal places, half away from zero.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// ToMinorUnits converts a major-unit amount to the integer minor unit used by gateways.
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FromMinorUnits converts a gateway minor-unit amount back to major units.
func FromMinorUnits(v int64) decimal.Decimal {
	return decimal.New(v, -2)
}

func NormalizeCurrency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return DefaultCurrency
	}
	return c
}
