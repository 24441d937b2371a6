// Package ledger applies executed orders to a portfolio snapshot. All
// functions are pure transforms over a copy the caller owns; persistence
// commits the result transactionally with an optimistic version check.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"brokerd/internal/pkg/money"
	"brokerd/internal/types"
)

var (
	ErrInsufficientCash     = errors.New("insufficient cash")
	ErrInsufficientHoldings = errors.New("insufficient holdings")
)

// Execution is the ledger-facing view of a fill.
type Execution struct {
	Symbol   string
	Action   types.OrderAction
	Quantity float64
	Price    float64
	Fees     float64
}

// Result reports what a mutation did, for recording on the order row.
type Result struct {
	RealizedPnL     *float64
	PositionRemoved bool
}

// Apply dispatches one execution to the buy or sell transform.
func Apply(p *types.Portfolio, exec Execution) (Result, error) {
	switch exec.Action {
	case types.ActionBuy:
		return ApplyBuy(p, exec)
	case types.ActionSell:
		return ApplySell(p, exec)
	default:
		return Result{}, fmt.Errorf("unknown order action %q", exec.Action)
	}
}

// ApplyBuy debits cash and upserts the position with a recomputed weighted
// average cost. Cash may never go negative: the whole cost including fees
// must be covered up front.
func ApplyBuy(p *types.Portfolio, exec Execution) (Result, error) {
	if exec.Quantity <= 0 || exec.Price <= 0 {
		return Result{}, fmt.Errorf("invalid buy %s qty=%.8f price=%.8f", exec.Symbol, exec.Quantity, exec.Price)
	}
	cost := money.Cost(exec.Price, exec.Quantity)
	total := money.RoundCash(cost + exec.Fees)
	if p.Cash < total {
		return Result{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, total, p.Cash)
	}

	p.Cash = money.RoundCash(p.Cash - total)
	if p.Positions == nil {
		p.Positions = make(map[string]*types.Position)
	}
	pos, ok := p.Positions[exec.Symbol]
	if !ok {
		pos = &types.Position{Symbol: exec.Symbol}
		p.Positions[exec.Symbol] = pos
	}
	newQty := money.RoundQty(pos.Quantity + exec.Quantity)
	pos.TotalInvested = money.RoundCash(pos.TotalInvested + cost)
	pos.AvgBuyPrice = (pos.AvgBuyPrice*pos.Quantity + exec.Price*exec.Quantity) / newQty
	pos.Quantity = newQty

	touchPeak(p)
	p.UpdatedAt = time.Now()
	return Result{}, nil
}

// ApplySell credits proceeds net of fees, decrements or removes the
// position, and realizes PnL against the weighted average cost.
func ApplySell(p *types.Portfolio, exec Execution) (Result, error) {
	if exec.Quantity <= 0 || exec.Price <= 0 {
		return Result{}, fmt.Errorf("invalid sell %s qty=%.8f price=%.8f", exec.Symbol, exec.Quantity, exec.Price)
	}
	pos, ok := p.Positions[exec.Symbol]
	if !ok || pos.Quantity < exec.Quantity {
		held := 0.0
		if ok {
			held = pos.Quantity
		}
		return Result{}, fmt.Errorf("%w: selling %.8f %s, holding %.8f", ErrInsufficientHoldings, exec.Quantity, exec.Symbol, held)
	}

	proceeds := money.RoundCash(money.Cost(exec.Price, exec.Quantity) - exec.Fees)
	pnl := money.RoundCash((exec.Price-pos.AvgBuyPrice)*exec.Quantity - exec.Fees)

	p.Cash = money.RoundCash(p.Cash + proceeds)
	p.RealizedPnL = money.RoundCash(p.RealizedPnL + pnl)

	remaining := money.RoundQty(pos.Quantity - exec.Quantity)
	removed := remaining <= 0
	if removed {
		delete(p.Positions, exec.Symbol)
	} else {
		costOut := money.Cost(pos.AvgBuyPrice, exec.Quantity)
		pos.Quantity = remaining
		pos.TotalInvested = money.RoundCash(pos.TotalInvested - costOut)
	}

	touchPeak(p)
	p.UpdatedAt = time.Now()
	return Result{RealizedPnL: &pnl, PositionRemoved: removed}, nil
}

// Reprice refreshes the display-only market fields from the given price map.
// Symbols absent from the map keep their previous display values.
func Reprice(p *types.Portfolio, prices map[string]float64) {
	for sym, pos := range p.Positions {
		price, ok := prices[sym]
		if !ok || price <= 0 {
			continue
		}
		pos.CurrentPrice = price
		pos.CurrentValue = money.RoundCash(price * pos.Quantity)
		pos.UnrealizedPnL = money.RoundCash((price - pos.AvgBuyPrice) * pos.Quantity)
		if pos.TotalInvested > 0 {
			pos.UnrealizedPnLPct = pos.UnrealizedPnL / pos.TotalInvested * 100
		}
	}
}

// Equity is cash plus the market value of open positions, falling back to
// cost basis for positions that have never been repriced.
func Equity(p *types.Portfolio) float64 {
	total := p.Cash
	for _, pos := range p.Positions {
		if pos.CurrentValue > 0 {
			total += pos.CurrentValue
		} else {
			total += pos.TotalInvested
		}
	}
	return money.RoundCash(total)
}

func touchPeak(p *types.Portfolio) {
	if eq := Equity(p); eq > p.PeakEquity {
		p.PeakEquity = eq
	}
}
