package strategy

import (
	"math"

	"brokerd/internal/types"
)

// indicatorValue computes the rule's indicator from the latest quote.
//
// Only price and volume are real. The historical indicators (rsi, sma,
// ema, macd, bollinger) need a candle series this core does not keep; they
// return NaN, and every comparison against NaN is false, so such rules
// never fire. This is a documented limitation, not a silent approximation.
func indicatorValue(indicator string, quote types.Quote) float64 {
	switch indicator {
	case "price":
		return quote.Price
	case "volume":
		return quote.Volume
	default:
		return math.NaN()
	}
}

// compare applies the rule operator. crosses_above and crosses_below are
// approximated as plain > and < because no historical series is available
// to detect an actual crossing.
func compare(value float64, operator string, threshold float64) bool {
	if math.IsNaN(value) {
		return false
	}
	switch operator {
	case ">", "crosses_above":
		return value > threshold
	case "<", "crosses_below":
		return value < threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	default:
		return false
	}
}
