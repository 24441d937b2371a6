package risk

import (
	"context"
	"fmt"
	"math"
)

// OptimalPositionSize returns a share count for a prospective entry.
//
// With position sizing enabled and a stop supplied, sizing is risk-based:
// shares = floor(maxRiskDollar / |entry - stop|), capped by the allocation
// budget. Otherwise it falls back to fixed-fractional sizing:
// shares = floor(allocationDollar / entryPrice).
func (s *Service) OptimalPositionSize(ctx context.Context, userID string, entryPrice float64, stopLossPrice *float64) (float64, error) {
	if entryPrice <= 0 {
		return 0, fmt.Errorf("entry price must be positive")
	}
	rs, err := s.GetOrCreateSettings(ctx, userID)
	if err != nil {
		return 0, err
	}
	m, err := s.CalculateRiskMetrics(ctx, userID)
	if err != nil {
		return 0, err
	}
	allocation := m.PositionSizeDollar
	if allocation <= 0 {
		return 0, nil
	}

	if rs.PositionSizingEnabled && stopLossPrice != nil && *stopLossPrice > 0 && *stopLossPrice != entryPrice {
		riskPerShare := math.Abs(entryPrice - *stopLossPrice)
		maxRiskDollar := allocation * rs.StopLossPercentage / 100
		shares := math.Floor(maxRiskDollar / riskPerShare)
		if budget := math.Floor(allocation / entryPrice); shares > budget {
			shares = budget
		}
		return shares, nil
	}
	return math.Floor(allocation / entryPrice), nil
}
