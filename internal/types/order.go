package types

import "time"

type OrderAction string

const (
	ActionBuy  OrderAction = "BUY"
	ActionSell OrderAction = "SELL"
)

type OrderType string

const (
	OrderTypeMarket     OrderType = "market"
	OrderTypeLimit      OrderType = "limit"
	OrderTypeStopLoss   OrderType = "stop_loss"
	OrderTypeTakeProfit OrderType = "take_profit"
	OrderTypeStrategy   OrderType = "strategy"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusExecuted  OrderStatus = "executed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusBlocked   OrderStatus = "blocked"
)

// Order is one trading intent moving through the execution core. Executed
// orders always carry a non-nil ExecutionPrice and ExecutedAt.
type Order struct {
	ID             string      `json:"id"`
	UserID         string      `json:"user_id"`
	Symbol         string      `json:"symbol"`
	Action         OrderAction `json:"action"`
	Quantity       float64     `json:"quantity"`
	Type           OrderType   `json:"type"`
	LimitPrice     *float64    `json:"limit_price,omitempty"`
	StopPrice      *float64    `json:"stop_price,omitempty"`
	Status         OrderStatus `json:"status"`
	StatusReason   string      `json:"status_reason,omitempty"`
	ExecutionPrice *float64    `json:"execution_price,omitempty"`
	Fees           float64     `json:"fees"`
	RealizedPnL    *float64    `json:"realized_pnl,omitempty"`
	// TriggeredBy tags protective and strategy orders with their origin
	// (e.g. "STOP_LOSS", "TAKE_PROFIT", or a strategy id).
	TriggeredBy string     `json:"triggered_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`
}

func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusPending
}

// OrderIntake is the pre-validated inbound shape handed over by the HTTP
// layer. Validation of field presence happens before it reaches the core.
type OrderIntake struct {
	UserID     string      `json:"user_id"`
	Symbol     string      `json:"symbol"`
	Action     OrderAction `json:"action"`
	Quantity   float64     `json:"quantity"`
	Type       OrderType   `json:"type"`
	LimitPrice *float64    `json:"limit_price,omitempty"`
	StopPrice  *float64    `json:"stop_price,omitempty"`
}
