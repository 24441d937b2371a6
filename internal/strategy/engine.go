// Package strategy evaluates user-authored conditional rules and turns the
// first matching rule into a trade signal. Signals are ordinary orders:
// they enter the same admission and ledger path as manual trades.
package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"brokerd/internal/gateway/pricefeed"
	"brokerd/internal/logger"
	"brokerd/internal/queue"
	"brokerd/internal/store/gormstore"
	"brokerd/internal/types"
)

// OrderExecutor is the slice of the engine the strategy engine settles
// signals through.
type OrderExecutor interface {
	ExecuteOrder(ctx context.Context, orderID string, fillPrice float64) error
}

type tickPayload struct {
	StrategyID string `json:"strategy_id"`
	UserID     string `json:"user_id"`
}

type Engine struct {
	store  *gormstore.Store
	prices pricefeed.Source
	exec   OrderExecutor
	nowFn  func() time.Time
}

func NewEngine(store *gormstore.Store, prices pricefeed.Source, exec OrderExecutor, q queue.Queue) *Engine {
	e := &Engine{store: store, prices: prices, exec: exec, nowFn: time.Now}
	if q != nil {
		q.Register(queue.TaskStrategyTick, e.HandleTick)
	}
	return e
}

// WithClock overrides the engine clock. Test hook.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.nowFn = now
	return e
}

// EnqueueTicks fans one tick task per active strategy out onto the queue.
func (e *Engine) EnqueueTicks(ctx context.Context, q queue.Queue) error {
	active, err := e.store.ListActiveStrategies(ctx)
	if err != nil {
		return fmt.Errorf("list active strategies: %w", err)
	}
	for _, st := range active {
		_, err := q.Enqueue(ctx, queue.TaskStrategyTick, tickPayload{StrategyID: st.ID, UserID: st.UserID},
			queue.Options{MaxAttempts: 1})
		if err != nil {
			logger.Warnf("strategy: enqueue tick for %s failed: %v", st.ID, err)
		}
	}
	return nil
}

// HandleTick is the queue handler for one strategy evaluation.
func (e *Engine) HandleTick(ctx context.Context, payload []byte) error {
	var p tickPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("strategy tick payload: %w", err)
	}
	st, err := e.store.GetStrategy(ctx, p.StrategyID)
	if err != nil {
		return fmt.Errorf("load strategy %s: %w", p.StrategyID, err)
	}
	if st.Status != types.StrategyStatusActive {
		return nil
	}
	return e.Tick(ctx, st)
}

// Tick evaluates the strategy's rules in order. The first rule whose
// condition holds produces exactly one signal and ends the tick
// (first-match-wins). A failed execution writes a failed log entry and the
// strategy stays active for the next tick.
func (e *Engine) Tick(ctx context.Context, st *types.Strategy) error {
	now := e.nowFn()
	dirty := false

	for i := range st.Rules {
		rule := &st.Rules[i]
		if rule.LastExecuted != nil && now.Sub(*rule.LastExecuted) < rule.Cooldown.Duration() {
			continue
		}

		quote, err := e.prices.Quote(ctx, rule.Condition.Symbol)
		if err != nil {
			// One symbol's feed failure is isolated to this rule.
			logger.Warnf("strategy %s: price for %s unavailable: %v", st.ID, rule.Condition.Symbol, err)
			continue
		}

		value := indicatorValue(rule.Condition.Indicator, quote)
		if !compare(value, rule.Condition.Operator, rule.Condition.Value) {
			continue
		}

		entry := e.fireRule(ctx, st, rule, quote, now)
		st.ExecutionLogs = append(st.ExecutionLogs, entry)
		rule.LastExecuted = &now
		dirty = true
		break
	}

	if dirty {
		if err := e.store.SaveStrategy(ctx, st); err != nil {
			return fmt.Errorf("persist strategy %s state: %w", st.ID, err)
		}
	}
	return nil
}

func (e *Engine) fireRule(ctx context.Context, st *types.Strategy, rule *types.Rule, quote types.Quote, now time.Time) types.ExecutionLog {
	entry := types.ExecutionLog{
		RuleID:     rule.ID,
		Symbol:     rule.Condition.Symbol,
		Action:     string(rule.Action.Type),
		Quantity:   rule.Action.Quantity,
		Price:      quote.Price,
		Confidence: 1,
		Reason: fmt.Sprintf("%s %s %s %.4f (observed %.4f)",
			rule.Condition.Symbol, rule.Condition.Indicator, rule.Condition.Operator, rule.Condition.Value, indicatorValue(rule.Condition.Indicator, quote)),
		Timestamp: now,
	}

	order := &types.Order{
		ID:          uuid.NewString(),
		UserID:      st.UserID,
		Symbol:      quote.Symbol,
		Action:      rule.Action.Type,
		Quantity:    rule.Action.Quantity,
		Type:        types.OrderTypeStrategy,
		Status:      types.OrderStatusPending,
		TriggeredBy: st.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.store.CreateOrder(ctx, order); err != nil {
		entry.Status = "failed"
		entry.Reason = fmt.Sprintf("%s; order create failed: %v", entry.Reason, err)
		logger.Errorf("strategy %s: %s", st.ID, entry.Reason)
		return entry
	}
	if err := e.exec.ExecuteOrder(ctx, order.ID, quote.Price); err != nil {
		entry.Status = "failed"
		entry.Reason = fmt.Sprintf("%s; execution failed: %v", entry.Reason, err)
		logger.Errorf("strategy %s: %s", st.ID, entry.Reason)
		return entry
	}

	final, err := e.store.GetOrder(ctx, order.ID)
	if err == nil && final.Status != types.OrderStatusExecuted {
		entry.Status = string(final.Status)
		entry.Reason = fmt.Sprintf("%s; %s", entry.Reason, final.StatusReason)
		return entry
	}
	entry.Status = "executed"
	logger.Infof("strategy %s: rule %s fired %s %s %.8f @ %.4f",
		st.ID, rule.ID, entry.Action, entry.Symbol, entry.Quantity, entry.Price)
	return entry
}

// Create validates and persists a new, inactive strategy.
func (e *Engine) Create(ctx context.Context, userID, name string, rulesJSON []byte) (*types.Strategy, error) {
	if err := ValidateRulesJSON(rulesJSON); err != nil {
		return nil, err
	}
	var rules []types.Rule
	if err := json.Unmarshal(rulesJSON, &rules); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	now := e.nowFn()
	for i := range rules {
		if rules[i].ID == "" {
			rules[i].ID = uuid.NewString()
		}
	}
	st := &types.Strategy{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Rules:     rules,
		Status:    types.StrategyStatusInactive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.CreateStrategy(ctx, st); err != nil {
		return nil, err
	}
	return st, nil
}
