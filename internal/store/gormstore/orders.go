package gormstore

import (
	"context"
	"fmt"
	"time"

	"brokerd/internal/store/model"
	"brokerd/internal/types"
)

func (s *Store) CreateOrder(ctx context.Context, o *types.Order) error {
	row := orderToModel(o)
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) GetOrder(ctx context.Context, id string) (*types.Order, error) {
	var row model.OrderModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	o := orderFromModel(row)
	return &o, nil
}

// MarkOrderExecuted commits the executed fields with a pending-status guard.
// The conditional update is the exactly-once barrier under at-least-once
// task redelivery: the second delivery matches zero rows.
func (s *Store) MarkOrderExecuted(ctx context.Context, id string, execPrice, fees float64, realizedPnL *float64) error {
	now := time.Now()
	updates := map[string]any{
		"status":          string(types.OrderStatusExecuted),
		"execution_price": execPrice,
		"fees":            fees,
		"executed_at":     now,
		"updated_at":      now,
	}
	if realizedPnL != nil {
		updates["realized_pnl"] = *realizedPnL
	}
	res := s.db.WithContext(ctx).Model(&model.OrderModel{}).
		Where("id = ? AND status = ?", id, string(types.OrderStatusPending)).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: order %s not pending", ErrStatusChanged, id)
	}
	return nil
}

// CloseOrder moves a pending order to cancelled or blocked with a reason.
func (s *Store) CloseOrder(ctx context.Context, id string, status types.OrderStatus, reason string) error {
	if status != types.OrderStatusCancelled && status != types.OrderStatusBlocked {
		return fmt.Errorf("close order: %q is not a terminal rejection status", status)
	}
	res := s.db.WithContext(ctx).Model(&model.OrderModel{}).
		Where("id = ? AND status = ?", id, string(types.OrderStatusPending)).
		Updates(map[string]any{
			"status":        string(status),
			"status_reason": reason,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: order %s not pending", ErrStatusChanged, id)
	}
	return nil
}

func (s *Store) ListOrders(ctx context.Context, userID string, status types.OrderStatus, limit int) ([]types.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	q := s.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var rows []model.OrderModel
	if err := q.Order("created_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Order, 0, len(rows))
	for _, row := range rows {
		out = append(out, orderFromModel(row))
	}
	return out, nil
}

// ListPendingOrders returns every pending order for a user, oldest first,
// with no cap. Startup resume must see the whole backlog, not a page of it.
func (s *Store) ListPendingOrders(ctx context.Context, userID string) ([]types.Order, error) {
	var rows []model.OrderModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ?", userID, string(types.OrderStatusPending)).
		Order("created_at").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Order, 0, len(rows))
	for _, row := range rows {
		out = append(out, orderFromModel(row))
	}
	return out, nil
}

// ListExecutedSince returns orders executed at or after the given time,
// used by the daily-loss calculation.
func (s *Store) ListExecutedSince(ctx context.Context, userID string, since time.Time) ([]types.Order, error) {
	var rows []model.OrderModel
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND executed_at >= ?", userID, string(types.OrderStatusExecuted), since).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Order, 0, len(rows))
	for _, row := range rows {
		out = append(out, orderFromModel(row))
	}
	return out, nil
}

// ListUsersWithOpenOrders returns the distinct users that currently hold
// pending orders, for scheduler fan-out.
func (s *Store) ListUsersWithOpenOrders(ctx context.Context) ([]string, error) {
	var users []string
	err := s.db.WithContext(ctx).Model(&model.OrderModel{}).
		Where("status = ?", string(types.OrderStatusPending)).
		Distinct("user_id").Pluck("user_id", &users).Error
	return users, err
}

func orderToModel(o *types.Order) model.OrderModel {
	return model.OrderModel{
		ID:             o.ID,
		UserID:         o.UserID,
		Symbol:         o.Symbol,
		Action:         string(o.Action),
		Quantity:       o.Quantity,
		Type:           string(o.Type),
		LimitPrice:     o.LimitPrice,
		StopPrice:      o.StopPrice,
		Status:         string(o.Status),
		StatusReason:   o.StatusReason,
		ExecutionPrice: o.ExecutionPrice,
		Fees:           o.Fees,
		RealizedPnL:    o.RealizedPnL,
		TriggeredBy:    o.TriggeredBy,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
		ExecutedAt:     o.ExecutedAt,
	}
}

func orderFromModel(m model.OrderModel) types.Order {
	return types.Order{
		ID:             m.ID,
		UserID:         m.UserID,
		Symbol:         m.Symbol,
		Action:         types.OrderAction(m.Action),
		Quantity:       m.Quantity,
		Type:           types.OrderType(m.Type),
		LimitPrice:     m.LimitPrice,
		StopPrice:      m.StopPrice,
		Status:         types.OrderStatus(m.Status),
		StatusReason:   m.StatusReason,
		ExecutionPrice: m.ExecutionPrice,
		Fees:           m.Fees,
		RealizedPnL:    m.RealizedPnL,
		TriggeredBy:    m.TriggeredBy,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
		ExecutedAt:     m.ExecutedAt,
	}
}
