package risk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"brokerd/internal/logger"
	"brokerd/internal/queue"
	"brokerd/internal/store/gormstore"
	"brokerd/internal/types"
)

type monitorPayload struct {
	UserID string `json:"user_id"`
}

type protectivePayload struct {
	OrderID string `json:"order_id"`
	UserID  string `json:"user_id"`
	Symbol  string `json:"symbol"`
}

// RegisterQueue hooks the position monitor and the protective retry path
// into the task queue.
func (s *Service) RegisterQueue(q queue.Queue) {
	s.tasks = q
	q.Register(queue.TaskRiskMonitor, s.HandleMonitor)
	q.Register(queue.TaskProtectiveRun, s.HandleProtective)
}

// EnqueueMonitors fans one monitor task out per user holding positions.
func (s *Service) EnqueueMonitors(ctx context.Context, q queue.Queue) error {
	users, err := s.store.ListUsersWithPositions(ctx)
	if err != nil {
		return fmt.Errorf("list users with positions: %w", err)
	}
	for _, userID := range users {
		_, err := q.Enqueue(ctx, queue.TaskRiskMonitor, monitorPayload{UserID: userID},
			queue.Options{MaxAttempts: 2})
		if err != nil {
			logger.Warnf("risk: enqueue monitor for %s failed: %v", userID, err)
		}
	}
	return nil
}

// HandleMonitor is the queue handler for one user's position sweep.
func (s *Service) HandleMonitor(ctx context.Context, payload []byte) error {
	var p monitorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("risk monitor payload: %w", err)
	}
	return s.MonitorPositions(ctx, p.UserID)
}

func (s *Service) enqueueProtectiveRetry(ctx context.Context, order *types.Order) {
	if s.tasks == nil {
		return
	}
	p := protectivePayload{OrderID: order.ID, UserID: order.UserID, Symbol: order.Symbol}
	_, err := s.tasks.Enqueue(ctx, queue.TaskProtectiveRun, p, queue.Options{Priority: 8, MaxAttempts: 3})
	if err != nil {
		logger.Errorf("risk: enqueue protective retry for %s failed: %v", order.ID, err)
	}
}

// HandleProtective settles a protective order whose inline execution
// failed. The conditional commit makes a concurrent settle harmless.
func (s *Service) HandleProtective(ctx context.Context, payload []byte) error {
	var p protectivePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("protective payload: %w", err)
	}
	order, err := s.store.GetOrder(ctx, p.OrderID)
	if errors.Is(err, gormstore.ErrNotFound) {
		logger.Warnf("risk: protective order %s is gone, dropping task", p.OrderID)
		return nil
	}
	if err != nil {
		return err
	}
	if order.Status != types.OrderStatusPending {
		return nil
	}
	quote, err := s.prices.Quote(ctx, order.Symbol)
	if err != nil {
		return fmt.Errorf("protective %s: %w", order.ID, err)
	}
	if err := s.exec.ExecuteOrder(ctx, order.ID, quote.Price); err != nil {
		return fmt.Errorf("protective %s: %w", order.ID, err)
	}
	logger.Infof("risk: protective order %s settled on retry @ %.4f", order.ID, quote.Price)
	return nil
}
