package risk

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"brokerd/internal/logger"
	"brokerd/internal/pkg/money"
	"brokerd/internal/types"
)

// atRiskProximity is how close (fraction above the stop price) a position
// may trade before it is flagged at-risk.
const atRiskProximity = 0.05

// GetPositionRisks derives the per-position risk view. One symbol's price
// failure is isolated: the position is skipped with a warning and the rest
// still evaluate.
func (s *Service) GetPositionRisks(ctx context.Context, userID string) ([]types.PositionRisk, error) {
	rs, err := s.GetOrCreateSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.LoadPortfolio(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load portfolio %s: %w", userID, err)
	}

	out := make([]types.PositionRisk, 0, len(p.Positions))
	for sym, pos := range p.Positions {
		quote, err := s.prices.Quote(ctx, sym)
		if err != nil {
			logger.Warnf("risk: skip %s for %s: %v", sym, userID, err)
			continue
		}
		out = append(out, positionRisk(pos, quote.Price, rs))
	}
	return out, nil
}

func positionRisk(pos *types.Position, price float64, rs *types.RiskSettings) types.PositionRisk {
	pr := types.PositionRisk{
		Symbol:       pos.Symbol,
		Quantity:     pos.Quantity,
		AvgBuyPrice:  pos.AvgBuyPrice,
		CurrentPrice: price,
		CurrentValue: money.RoundCash(price * pos.Quantity),
	}
	pr.UnrealizedPnL = money.RoundCash((price - pos.AvgBuyPrice) * pos.Quantity)
	if pos.TotalInvested > 0 {
		pr.UnrealizedPnLPct = pr.UnrealizedPnL / pos.TotalInvested * 100
	}
	pr.StopLossPrice = money.Threshold(pos.AvgBuyPrice, -rs.StopLossPercentage)
	pr.TakeProfitPrice = money.Threshold(pos.AvgBuyPrice, rs.TakeProfitPercentage)
	pr.RiskAmount = money.RoundCash(pos.Quantity * (pos.AvgBuyPrice - pr.StopLossPrice))

	nearStop := rs.AutoStopLossEnabled && price <= pr.StopLossPrice*(1+atRiskProximity)
	deepLoss := pr.UnrealizedPnLPct <= -0.8*rs.StopLossPercentage
	pr.IsAtRisk = nearStop || deepLoss
	return pr
}

// MonitorPositions is one protective tick for one user: positions whose
// price has crossed the stop-loss or take-profit boundary get a
// full-quantity SELL emitted synchronously with the ledger read, through
// the same execution path as every other order.
//
// Idempotency is structural: a completed protective SELL removes the
// position, so the trigger cannot re-fire on the next tick.
func (s *Service) MonitorPositions(ctx context.Context, userID string) error {
	rs, err := s.GetOrCreateSettings(ctx, userID)
	if err != nil {
		// Settings are load-bearing for the whole tick.
		return err
	}
	if !rs.AutoStopLossEnabled && !rs.AutoTakeProfitEnabled {
		return nil
	}
	p, err := s.store.LoadPortfolio(ctx, userID)
	if err != nil {
		return fmt.Errorf("load portfolio %s: %w", userID, err)
	}

	for sym, pos := range p.Positions {
		quote, err := s.prices.Quote(ctx, sym)
		if err != nil {
			logger.Warnf("risk: monitor skip %s for %s: %v", sym, userID, err)
			continue
		}
		price := quote.Price
		stopPrice := money.Threshold(pos.AvgBuyPrice, -rs.StopLossPercentage)
		takePrice := money.Threshold(pos.AvgBuyPrice, rs.TakeProfitPercentage)

		switch {
		case rs.AutoStopLossEnabled && price <= stopPrice:
			if err := s.emitProtectiveSell(ctx, userID, pos, price, types.RiskActionStopLoss,
				fmt.Sprintf("price %.4f breached stop loss %.4f (avg cost %.4f)", price, stopPrice, pos.AvgBuyPrice)); err != nil {
				logger.Errorf("risk: stop loss for %s %s failed: %v", userID, sym, err)
			}
		case rs.AutoTakeProfitEnabled && price >= takePrice:
			if err := s.emitProtectiveSell(ctx, userID, pos, price, types.RiskActionTakeProfit,
				fmt.Sprintf("price %.4f reached take profit %.4f (avg cost %.4f)", price, takePrice, pos.AvgBuyPrice)); err != nil {
				logger.Errorf("risk: take profit for %s %s failed: %v", userID, sym, err)
			}
		}
	}
	return nil
}

func (s *Service) emitProtectiveSell(ctx context.Context, userID string, pos *types.Position, price float64, kind types.RiskActionType, reason string) error {
	now := s.nowFn()
	order := &types.Order{
		ID:          uuid.NewString(),
		UserID:      userID,
		Symbol:      pos.Symbol,
		Action:      types.ActionSell,
		Quantity:    pos.Quantity,
		Type:        types.OrderTypeMarket,
		Status:      types.OrderStatusPending,
		TriggeredBy: string(kind),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return fmt.Errorf("create protective order: %w", err)
	}
	if err := s.exec.ExecuteOrder(ctx, order.ID, price); err != nil {
		// The order row exists but no money moved. Hand it to the queue so
		// the retry budget drives it to a terminal state.
		s.enqueueProtectiveRetry(ctx, order)
		return fmt.Errorf("execute protective order %s: %w", order.ID, err)
	}

	audit := &types.RiskAction{
		UserID:    userID,
		Action:    kind,
		Symbol:    pos.Symbol,
		Quantity:  pos.Quantity,
		Price:     price,
		Reason:    reason,
		Status:    "completed",
		CreatedAt: now,
	}
	if err := s.store.AppendRiskAction(ctx, audit); err != nil {
		logger.Warnf("risk: audit write failed for %s %s: %v", userID, pos.Symbol, err)
	}
	logger.Infof("risk: %s fired for %s %s qty=%.8f @ %.4f", kind, userID, pos.Symbol, pos.Quantity, price)
	return nil
}
