// Package evaluator decides whether an order's execution condition is met
// at a given price. It is pure: no I/O, no clock, no side effects, so the
// full decision table is unit-testable.
package evaluator

import (
	"fmt"

	"brokerd/internal/types"
)

type State int

const (
	StatePending State = iota
	StateExecuted
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateExecuted:
		return "executed"
	case StateRejected:
		return "rejected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is the tagged result of one evaluation. The scheduling layer alone
// translates StatePending into a queue re-enqueue; it never travels as an
// error.
type Outcome struct {
	State     State
	FillPrice float64
	Reason    string
}

func pending() Outcome  { return Outcome{State: StatePending} }
func executed(price float64) Outcome {
	return Outcome{State: StateExecuted, FillPrice: price}
}
func rejected(reason string) Outcome {
	return Outcome{State: StateRejected, Reason: reason}
}

// Evaluate runs the condition table for one order against the current price.
//
//	market       any   always                    fills at currentPrice
//	limit        BUY   current <= limitPrice     fills at limitPrice
//	limit        SELL  current >= limitPrice     fills at limitPrice
//	stop_loss    BUY   current >= stopPrice      fills at currentPrice
//	stop_loss    SELL  current <= stopPrice      fills at currentPrice
//	take_profit  SELL  current >= stopPrice      fills at currentPrice
//
// Anything outside the table stays pending with no side effects.
func Evaluate(order *types.Order, currentPrice float64) Outcome {
	if order == nil {
		return rejected("nil order")
	}
	if currentPrice <= 0 {
		return rejected(fmt.Sprintf("invalid price %.8f for %s", currentPrice, order.Symbol))
	}

	switch order.Type {
	case types.OrderTypeMarket, types.OrderTypeStrategy:
		return executed(currentPrice)

	case types.OrderTypeLimit:
		if order.LimitPrice == nil {
			return rejected("limit order without limit price")
		}
		limit := *order.LimitPrice
		switch order.Action {
		case types.ActionBuy:
			if currentPrice <= limit {
				return executed(limit)
			}
		case types.ActionSell:
			if currentPrice >= limit {
				return executed(limit)
			}
		}
		return pending()

	case types.OrderTypeStopLoss:
		if order.StopPrice == nil {
			return rejected("stop order without stop price")
		}
		stop := *order.StopPrice
		switch order.Action {
		case types.ActionBuy:
			if currentPrice >= stop {
				return executed(currentPrice)
			}
		case types.ActionSell:
			if currentPrice <= stop {
				return executed(currentPrice)
			}
		}
		return pending()

	case types.OrderTypeTakeProfit:
		if order.StopPrice == nil {
			return rejected("take profit order without stop price")
		}
		if order.Action == types.ActionSell && currentPrice >= *order.StopPrice {
			return executed(currentPrice)
		}
		return pending()

	default:
		return pending()
	}
}
