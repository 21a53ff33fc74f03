package payments

import "github.com/shopspring/decimal"

// Fee computes the success fee on a recovered amount, rounded half-up to
// cents. Decimal arithmetic keeps cycle totals exact across many small
// events.
func Fee(amount, percent float64) float64 {
	return decimal.NewFromFloat(amount).
		Mul(decimal.NewFromFloat(percent)).
		Round(2).
		InexactFloat64()
}
