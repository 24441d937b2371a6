package types

import "time"

// Position is an open holding in one symbol. AvgBuyPrice is the weighted
// average cost over all buys still held; TotalInvested tracks the remaining
// cost basis. CurrentValue/UnrealizedPnL are display-only and refreshed from
// the latest quotes, never persisted as truth.
type Position struct {
	Symbol           string  `json:"symbol"`
	Quantity         float64 `json:"quantity"`
	AvgBuyPrice      float64 `json:"avg_buy_price"`
	TotalInvested    float64 `json:"total_invested"`
	CurrentPrice     float64 `json:"current_price,omitempty"`
	CurrentValue     float64 `json:"current_value,omitempty"`
	UnrealizedPnL    float64 `json:"unrealized_pnl,omitempty"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct,omitempty"`
}

// Portfolio is the authoritative cash-and-position ledger for one user.
// Version backs optimistic concurrency on save: concurrent writers for the
// same user lose with a version conflict and retry on a fresh load.
type Portfolio struct {
	UserID      string               `json:"user_id"`
	Cash        float64              `json:"cash"`
	Positions   map[string]*Position `json:"positions"`
	RealizedPnL float64              `json:"realized_pnl"`
	// PeakEquity is the high-water mark of total equity, used as the
	// drawdown baseline. Updated on every committed mutation.
	PeakEquity float64   `json:"peak_equity"`
	Version    int64     `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Clone returns a deep copy safe to mutate without touching the original.
func (p *Portfolio) Clone() *Portfolio {
	cp := *p
	cp.Positions = make(map[string]*Position, len(p.Positions))
	for sym, pos := range p.Positions {
		c := *pos
		cp.Positions[sym] = &c
	}
	return &cp
}

func (p *Portfolio) Position(symbol string) (*Position, bool) {
	pos, ok := p.Positions[symbol]
	return pos, ok
}
