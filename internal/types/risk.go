package types

import "time"

type RiskPreset string

const (
	PresetConservative RiskPreset = "conservative"
	PresetModerate     RiskPreset = "moderate"
	PresetAggressive   RiskPreset = "aggressive"
	PresetCustom       RiskPreset = "custom"
)

// RiskSettings is one user's risk policy. Lazily created with the moderate
// preset on first access.
type RiskSettings struct {
	UserID                   string     `json:"user_id"`
	StopLossPercentage       float64    `json:"stop_loss_percentage"`
	TakeProfitPercentage     float64    `json:"take_profit_percentage"`
	MaxDrawdownPercentage    float64    `json:"max_drawdown_percentage"`
	CapitalAllocationPercent float64    `json:"capital_allocation_percentage"`
	DailyLossLimit           float64    `json:"daily_loss_limit"`
	AutoStopLossEnabled      bool       `json:"auto_stop_loss_enabled"`
	AutoTakeProfitEnabled    bool       `json:"auto_take_profit_enabled"`
	PositionSizingEnabled    bool       `json:"position_sizing_enabled"`
	RiskPreset               RiskPreset `json:"risk_preset"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

type RiskActionType string

const (
	RiskActionStopLoss     RiskActionType = "STOP_LOSS"
	RiskActionTakeProfit   RiskActionType = "TAKE_PROFIT"
	RiskActionTradeBlocked RiskActionType = "TRADE_BLOCKED"
)

// RiskAction is an append-only audit record of an autonomous risk decision.
type RiskAction struct {
	ID         string         `json:"id"`
	UserID     string         `json:"user_id"`
	Action     RiskActionType `json:"action"`
	Symbol     string         `json:"symbol,omitempty"`
	Quantity   float64        `json:"quantity,omitempty"`
	Price      float64        `json:"price,omitempty"`
	Reason     string         `json:"reason"`
	Violations []string       `json:"violations,omitempty"`
	Status     string         `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}

// RiskMetrics is a point-in-time view of portfolio-level risk.
type RiskMetrics struct {
	CurrentEquity      float64  `json:"current_equity"`
	PeakEquity         float64  `json:"peak_equity"`
	DrawdownPct        float64  `json:"drawdown_pct"`
	MaxDrawdownDollar  float64  `json:"max_drawdown_dollar"`
	PositionSizeDollar float64  `json:"position_size_dollar"`
	DailyLoss          float64  `json:"daily_loss"`
	DailyLossLimit     float64  `json:"daily_loss_limit"`
	Violated           bool     `json:"violated"`
	Violations         []string `json:"violations,omitempty"`
}

// PositionRisk is the per-position risk view derived from settings and the
// latest price.
type PositionRisk struct {
	Symbol           string  `json:"symbol"`
	Quantity         float64 `json:"quantity"`
	AvgBuyPrice      float64 `json:"avg_buy_price"`
	CurrentPrice     float64 `json:"current_price"`
	CurrentValue     float64 `json:"current_value"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
	StopLossPrice    float64 `json:"stop_loss_price"`
	TakeProfitPrice  float64 `json:"take_profit_price"`
	RiskAmount       float64 `json:"risk_amount"`
	IsAtRisk         bool    `json:"is_at_risk"`
}

// TradeCheck is the admission-check verdict for a prospective trade.
type TradeCheck struct {
	Allowed    bool     `json:"allowed"`
	Violations []string `json:"violations,omitempty"`
}
