// Package worker drives pending orders to a terminal state. Each queue tick
// re-evaluates one order against the live price; an unmet condition
// suspends the order back onto the queue instead of blocking anything.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"brokerd/internal/engine"
	"brokerd/internal/evaluator"
	"brokerd/internal/gateway/pricefeed"
	"brokerd/internal/logger"
	"brokerd/internal/pkg/symbol"
	"brokerd/internal/queue"
	"brokerd/internal/store/gormstore"
	"brokerd/internal/types"
)

// orderCheckPayload is the queue payload for one pending-order tick.
type orderCheckPayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
}

type Service struct {
	store  *gormstore.Store
	prices pricefeed.Source
	queue  queue.Queue
	exec   *engine.Executor
}

func NewService(store *gormstore.Store, prices pricefeed.Source, q queue.Queue, exec *engine.Executor) *Service {
	s := &Service{store: store, prices: prices, queue: q, exec: exec}
	q.Register(queue.TaskOrderCheck, s.HandleOrderCheck)
	return s
}

// PlaceOrder accepts a pre-validated intake, persists the order, and routes
// it: market orders settle inline, conditional orders enter the queue.
func (s *Service) PlaceOrder(ctx context.Context, intake types.OrderIntake) (*types.Order, error) {
	if err := checkIntake(intake); err != nil {
		return nil, err
	}
	now := time.Now()
	order := &types.Order{
		ID:         uuid.NewString(),
		UserID:     intake.UserID,
		Symbol:     symbol.Normalize(intake.Symbol),
		Action:     intake.Action,
		Quantity:   intake.Quantity,
		Type:       intake.Type,
		LimitPrice: intake.LimitPrice,
		StopPrice:  intake.StopPrice,
		Status:     types.OrderStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	if order.Type == types.OrderTypeMarket {
		// Market orders have no condition to wait on. A feed hiccup here
		// falls back to the queue's bounded retry instead of failing the
		// intake.
		quote, err := s.prices.Quote(ctx, order.Symbol)
		if err == nil {
			if err := s.exec.ExecuteOrder(ctx, order.ID, quote.Price); err != nil {
				return nil, err
			}
			return s.store.GetOrder(ctx, order.ID)
		}
		logger.Warnf("worker: market order %s deferred to queue: %v", order.ID, err)
	}

	if _, err := s.enqueueCheck(ctx, order, 0); err != nil {
		return nil, err
	}
	return order, nil
}

// CancelOrder cancels a still-pending order out-of-band.
func (s *Service) CancelOrder(ctx context.Context, orderID string) error {
	return s.exec.CancelOrder(ctx, orderID, "")
}

// HandleOrderCheck is the queue handler for one pending-order tick.
//
// Outcomes map onto the queue contract: an unmet condition returns
// ErrConditionsNotMet (silent indefinite retry), a feed failure returns a
// genuine error (bounded retry, logged), and every terminal state returns
// nil so the task completes.
func (s *Service) HandleOrderCheck(ctx context.Context, payload []byte) error {
	var p orderCheckPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("order check payload: %w", err)
	}
	order, err := s.store.GetOrder(ctx, p.OrderID)
	if err != nil {
		if errors.Is(err, gormstore.ErrNotFound) {
			logger.Warnf("worker: order %s vanished, dropping task", p.OrderID)
			return nil
		}
		return fmt.Errorf("load order %s: %w", p.OrderID, err)
	}
	if order.Status != types.OrderStatusPending {
		return nil
	}

	quote, err := s.prices.Quote(ctx, order.Symbol)
	if err != nil {
		return fmt.Errorf("price for %s: %w", order.Symbol, err)
	}

	out := evaluator.Evaluate(order, quote.Price)
	switch out.State {
	case evaluator.StatePending:
		return queue.ErrConditionsNotMet
	case evaluator.StateRejected:
		logger.Infof("worker: order %s rejected: %s", order.ID, out.Reason)
		if err := s.store.CloseOrder(ctx, order.ID, types.OrderStatusCancelled, out.Reason); err != nil &&
			!errors.Is(err, gormstore.ErrStatusChanged) {
			return err
		}
		return nil
	case evaluator.StateExecuted:
		return s.exec.ExecuteOrder(ctx, order.ID, out.FillPrice)
	default:
		return fmt.Errorf("order %s: unexpected evaluator state %v", order.ID, out.State)
	}
}

// Resume re-enqueues a check for every order still pending. Called once at
// startup; duplicate tasks for the same order are harmless because the
// handler no-ops on settled orders.
func (s *Service) Resume(ctx context.Context) error {
	users, err := s.store.ListUsersWithOpenOrders(ctx)
	if err != nil {
		return fmt.Errorf("list users with open orders: %w", err)
	}
	resumed := 0
	for _, userID := range users {
		orders, err := s.store.ListPendingOrders(ctx, userID)
		if err != nil {
			return fmt.Errorf("list pending orders for %s: %w", userID, err)
		}
		for i := range orders {
			if _, err := s.enqueueCheck(ctx, &orders[i], 0); err != nil {
				logger.Warnf("worker: resume order %s failed: %v", orders[i].ID, err)
				continue
			}
			resumed++
		}
	}
	if resumed > 0 {
		logger.Infof("worker: resumed %d pending orders", resumed)
	}
	return nil
}

func (s *Service) enqueueCheck(ctx context.Context, order *types.Order, delay time.Duration) (string, error) {
	return s.queue.Enqueue(ctx, queue.TaskOrderCheck, orderCheckPayload{
		OrderID: order.ID,
		UserID:  order.UserID,
	}, queue.Options{Delay: delay})
}

func checkIntake(intake types.OrderIntake) error {
	if intake.UserID == "" || strings.TrimSpace(intake.Symbol) == "" {
		return fmt.Errorf("intake requires user and symbol")
	}
	if intake.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	switch intake.Action {
	case types.ActionBuy, types.ActionSell:
	default:
		return fmt.Errorf("unknown action %q", intake.Action)
	}
	switch intake.Type {
	case types.OrderTypeMarket:
	case types.OrderTypeLimit:
		if intake.LimitPrice == nil || *intake.LimitPrice <= 0 {
			return fmt.Errorf("limit orders require a positive limit price")
		}
	case types.OrderTypeStopLoss, types.OrderTypeTakeProfit:
		if intake.StopPrice == nil || *intake.StopPrice <= 0 {
			return fmt.Errorf("%s orders require a positive stop price", intake.Type)
		}
	default:
		return fmt.Errorf("unknown order type %q", intake.Type)
	}
	return nil
}

