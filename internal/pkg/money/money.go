// Package money centralizes monetary rounding at commit boundaries so that
// float drift never leaks into the persisted ledger.
package money

import "github.com/shopspring/decimal"

const (
	cashScale  = 2
	qtyScale   = 8
	priceScale = 8
)

// RoundCash rounds a dollar amount to cents, half away from zero.
func RoundCash(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(cashScale).Float64()
	return f
}

// RoundQty rounds a share/coin quantity to 8 decimals.
func RoundQty(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(qtyScale).Float64()
	return f
}

// RoundPrice rounds a price level to 8 decimals. Derived thresholds like
// avgBuyPrice*1.10 must compare cleanly at their documented boundary
// instead of drifting a few ulps past it.
func RoundPrice(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(priceScale).Float64()
	return f
}

// Threshold scales a price by (1+pct/100) and rounds it, for stop loss and
// take profit levels.
func Threshold(price, pct float64) float64 {
	f, _ := decimal.NewFromFloat(price).
		Mul(decimal.NewFromFloat(1).Add(decimal.NewFromFloat(pct).Div(decimal.NewFromInt(100)))).
		Round(priceScale).Float64()
	return f
}

// Cost computes price*quantity rounded to cents.
func Cost(price, qty float64) float64 {
	f, _ := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(qty)).Round(cashScale).Float64()
	return f
}

// Fee computes price*quantity*rate rounded to cents.
func Fee(price, qty, rate float64) float64 {
	f, _ := decimal.NewFromFloat(price).
		Mul(decimal.NewFromFloat(qty)).
		Mul(decimal.NewFromFloat(rate)).
		Round(cashScale).Float64()
	return f
}
