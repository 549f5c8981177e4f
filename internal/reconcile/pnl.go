package reconcile

import "github.com/shopspring/decimal"

// realizedPnL is (exit - entry) * qty with qty signed, so shorts profit when
// the exit is below the entry.
func realizedPnL(entry, exit float64, qty int64) float64 {
	d := decimal.NewFromFloat(exit).
		Sub(decimal.NewFromFloat(entry)).
		Mul(decimal.NewFromInt(qty))
	return d.InexactFloat64()
}

// unrealizedPnL marks qty at last; an unpriced position has none.
func unrealizedPnL(entry, last float64, qty int64) float64 {
	if last <= 0 {
		return 0
	}
	return realizedPnL(entry, last, qty)
}

// centsOf rounds a price to whole cents for de-duplication keys.
func centsOf(price float64) int64 {
	return decimal.NewFromFloat(price).Shift(2).Round(0).IntPart()
}
