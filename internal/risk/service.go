// Package risk computes portfolio risk metrics, gates prospective trades,
// and autonomously emits protective orders for open positions. It shares
// the execution path with every other producer: protective orders move
// money through the same engine commit as manual ones.
package risk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"brokerd/internal/gateway/pricefeed"
	"brokerd/internal/ledger"
	"brokerd/internal/pkg/money"
	"brokerd/internal/queue"
	"brokerd/internal/store/gormstore"
	"brokerd/internal/types"
)

// OrderExecutor is the slice of the engine the risk service needs to settle
// protective orders.
type OrderExecutor interface {
	ExecuteOrder(ctx context.Context, orderID string, fillPrice float64) error
}

type Service struct {
	store  *gormstore.Store
	prices pricefeed.Source
	exec   OrderExecutor
	tasks  queue.Queue
	nowFn  func() time.Time
}

func NewService(store *gormstore.Store, prices pricefeed.Source, exec OrderExecutor) *Service {
	return &Service{store: store, prices: prices, exec: exec, nowFn: time.Now}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.nowFn = now
	return s
}

// GetOrCreateSettings returns the user's risk settings, persisting moderate
// preset defaults on first access.
func (s *Service) GetOrCreateSettings(ctx context.Context, userID string) (*types.RiskSettings, error) {
	rs, err := s.store.GetRiskSettings(ctx, userID)
	if err == nil {
		return rs, nil
	}
	if !errors.Is(err, gormstore.ErrNotFound) {
		return nil, fmt.Errorf("load risk settings %s: %w", userID, err)
	}
	rs, err = SettingsForPreset(userID, types.PresetModerate)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveRiskSettings(ctx, rs); err != nil {
		return nil, fmt.Errorf("persist default risk settings %s: %w", userID, err)
	}
	return rs, nil
}

// UpdateSettings saves user-edited settings and flags them custom unless
// they exactly match a named preset.
func (s *Service) UpdateSettings(ctx context.Context, rs *types.RiskSettings) error {
	if rs.RiskPreset == "" {
		rs.RiskPreset = types.PresetCustom
	}
	return s.store.SaveRiskSettings(ctx, rs)
}

// CalculateRiskMetrics derives the portfolio-level risk view:
//
//	drawdown           = (peak - current) / peak * 100
//	positionSizeDollar = current * capitalAllocationPct / 100
//	maxDrawdownDollar  = peak * maxDrawdownPct / 100
//	dailyLoss          = sum of |negative realized PnL| of today's trades
func (s *Service) CalculateRiskMetrics(ctx context.Context, userID string) (*types.RiskMetrics, error) {
	rs, err := s.GetOrCreateSettings(ctx, userID)
	if err != nil {
		return nil, err
	}
	p, err := s.store.LoadPortfolio(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load portfolio %s: %w", userID, err)
	}
	s.repriceFromFeed(ctx, p)
	return s.metricsFor(ctx, p, rs)
}

func (s *Service) metricsFor(ctx context.Context, p *types.Portfolio, rs *types.RiskSettings) (*types.RiskMetrics, error) {
	current := ledger.Equity(p)
	peak := p.PeakEquity
	if current > peak {
		peak = current
	}

	m := &types.RiskMetrics{
		CurrentEquity:      current,
		PeakEquity:         peak,
		MaxDrawdownDollar:  money.RoundCash(peak * rs.MaxDrawdownPercentage / 100),
		PositionSizeDollar: money.RoundCash(current * rs.CapitalAllocationPercent / 100),
		DailyLossLimit:     rs.DailyLossLimit,
	}
	if peak > 0 {
		m.DrawdownPct = (peak - current) / peak * 100
	}

	dailyLoss, err := s.dailyLoss(ctx, p.UserID)
	if err != nil {
		return nil, err
	}
	m.DailyLoss = dailyLoss

	if m.DrawdownPct > rs.MaxDrawdownPercentage {
		m.Violations = append(m.Violations,
			fmt.Sprintf("drawdown %.2f%% exceeds maximum %.2f%%", m.DrawdownPct, rs.MaxDrawdownPercentage))
	}
	if rs.DailyLossLimit > 0 && m.DailyLoss > rs.DailyLossLimit {
		m.Violations = append(m.Violations,
			fmt.Sprintf("daily loss $%.2f exceeds limit $%.2f", m.DailyLoss, rs.DailyLossLimit))
	}
	m.Violated = len(m.Violations) > 0
	return m, nil
}

func (s *Service) dailyLoss(ctx context.Context, userID string) (float64, error) {
	now := s.nowFn()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	orders, err := s.store.ListExecutedSince(ctx, userID, startOfDay)
	if err != nil {
		return 0, fmt.Errorf("list today's trades %s: %w", userID, err)
	}
	loss := 0.0
	for _, o := range orders {
		if o.RealizedPnL != nil && *o.RealizedPnL < 0 {
			loss += math.Abs(*o.RealizedPnL)
		}
	}
	return money.RoundCash(loss), nil
}

// ValidateTradeRisk is the admission check run before every commit. It
// rejects trades that would push drawdown or daily loss past the user's
// configured limits. A lookup failure here is fatal to the calling job.
func (s *Service) ValidateTradeRisk(ctx context.Context, order *types.Order, fillPrice float64) (types.TradeCheck, error) {
	rs, err := s.GetOrCreateSettings(ctx, order.UserID)
	if err != nil {
		return types.TradeCheck{}, err
	}
	p, err := s.store.LoadPortfolio(ctx, order.UserID)
	if err != nil {
		return types.TradeCheck{}, fmt.Errorf("load portfolio %s: %w", order.UserID, err)
	}
	s.repriceFromFeed(ctx, p)

	m, err := s.metricsFor(ctx, p, rs)
	if err != nil {
		return types.TradeCheck{}, err
	}
	violations := append([]string(nil), m.Violations...)

	// Project the realized loss a SELL below cost would add to today's
	// tally before letting it through.
	if order.Action == types.ActionSell && rs.DailyLossLimit > 0 {
		if pos, ok := p.Position(order.Symbol); ok && fillPrice < pos.AvgBuyPrice {
			projected := m.DailyLoss + (pos.AvgBuyPrice-fillPrice)*order.Quantity
			if projected > rs.DailyLossLimit {
				violations = append(violations,
					fmt.Sprintf("projected daily loss $%.2f would exceed limit $%.2f", projected, rs.DailyLossLimit))
			}
		}
	}

	// Protective orders are exempt from the block: refusing to close a
	// losing position because limits are already breached would trap the
	// user in the loss.
	if order.TriggeredBy == string(types.RiskActionStopLoss) || order.TriggeredBy == string(types.RiskActionTakeProfit) {
		return types.TradeCheck{Allowed: true}, nil
	}

	if len(violations) > 0 {
		return types.TradeCheck{Allowed: false, Violations: violations}, nil
	}
	return types.TradeCheck{Allowed: true}, nil
}

// repriceFromFeed refreshes display values from the latest quotes. A feed
// failure leaves cost-basis values in place; metric evaluation proceeds.
func (s *Service) repriceFromFeed(ctx context.Context, p *types.Portfolio) {
	if len(p.Positions) == 0 {
		return
	}
	symbols := make([]string, 0, len(p.Positions))
	for sym := range p.Positions {
		symbols = append(symbols, sym)
	}
	quotes, err := s.prices.Quotes(ctx, symbols)
	if err != nil {
		return
	}
	priceMap := make(map[string]float64, len(quotes))
	for sym, q := range quotes {
		priceMap[sym] = q.Price
	}
	ledger.Reprice(p, priceMap)
}
