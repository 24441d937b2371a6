package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"brokerd/internal/store/model"
	"brokerd/internal/types"
)

// maxExecutionLogs bounds the per-strategy log tail kept in the JSON column.
const maxExecutionLogs = 200

func (s *Store) CreateStrategy(ctx context.Context, st *types.Strategy) error {
	row, err := strategyToModel(st)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *Store) GetStrategy(ctx context.Context, id string) (*types.Strategy, error) {
	var row model.StrategyModel
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return strategyFromModel(row)
}

func (s *Store) ListStrategies(ctx context.Context, userID string) ([]*types.Strategy, error) {
	var rows []model.StrategyModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	return strategiesFromModels(rows)
}

// ListActiveStrategies returns every active strategy across users, for the
// strategy tick fan-out.
func (s *Store) ListActiveStrategies(ctx context.Context) ([]*types.Strategy, error) {
	var rows []model.StrategyModel
	err := s.db.WithContext(ctx).Where("status = ?", string(types.StrategyStatusActive)).Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return strategiesFromModels(rows)
}

// SaveStrategy persists rule state (cooldown stamps) and the log tail.
func (s *Store) SaveStrategy(ctx context.Context, st *types.Strategy) error {
	if len(st.ExecutionLogs) > maxExecutionLogs {
		st.ExecutionLogs = st.ExecutionLogs[len(st.ExecutionLogs)-maxExecutionLogs:]
	}
	row, err := strategyToModel(st)
	if err != nil {
		return err
	}
	row.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Model(&model.StrategyModel{}).
		Where("id = ?", st.ID).
		Updates(map[string]any{
			"name":           row.Name,
			"rules":          row.Rules,
			"status":         row.Status,
			"version":        row.Version,
			"execution_logs": row.ExecutionLogs,
			"updated_at":     row.UpdatedAt,
		}).Error
}

// ActivateStrategy flips a strategy to active, enforcing the guards: at
// least one rule, and fewer than the allowed number of other active
// strategies for the user.
func (s *Store) ActivateStrategy(ctx context.Context, id string, maxActivePerUser int) error {
	return s.Transact(func(tx *Store) error {
		st, err := tx.GetStrategy(ctx, id)
		if err != nil {
			return err
		}
		if len(st.Rules) == 0 {
			return fmt.Errorf("strategy %s has no rules; activation refused", id)
		}
		var active int64
		err = tx.db.WithContext(ctx).Model(&model.StrategyModel{}).
			Where("user_id = ? AND status = ? AND id <> ?", st.UserID, string(types.StrategyStatusActive), id).
			Count(&active).Error
		if err != nil {
			return err
		}
		if active >= int64(maxActivePerUser) {
			return fmt.Errorf("user %s already has %d active strategies (max %d)", st.UserID, active, maxActivePerUser)
		}
		return tx.db.WithContext(ctx).Model(&model.StrategyModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"status": string(types.StrategyStatusActive), "updated_at": time.Now()}).Error
	})
}

func (s *Store) SetStrategyStatus(ctx context.Context, id string, status types.StrategyStatus) error {
	return s.db.WithContext(ctx).Model(&model.StrategyModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "updated_at": time.Now()}).Error
}

// DeleteStrategy refuses to remove an active strategy.
func (s *Store) DeleteStrategy(ctx context.Context, id string) error {
	return s.Transact(func(tx *Store) error {
		st, err := tx.GetStrategy(ctx, id)
		if err != nil {
			return err
		}
		if st.Status == types.StrategyStatusActive {
			return fmt.Errorf("strategy %s is active; deactivate before deleting", id)
		}
		return tx.db.WithContext(ctx).Where("id = ?", id).Delete(&model.StrategyModel{}).Error
	})
}

func strategyToModel(st *types.Strategy) (model.StrategyModel, error) {
	rules, err := json.Marshal(st.Rules)
	if err != nil {
		return model.StrategyModel{}, err
	}
	logs, err := json.Marshal(st.ExecutionLogs)
	if err != nil {
		return model.StrategyModel{}, err
	}
	return model.StrategyModel{
		ID:            st.ID,
		UserID:        st.UserID,
		Name:          st.Name,
		Rules:         rules,
		Status:        string(st.Status),
		Version:       st.Version,
		ExecutionLogs: logs,
		CreatedAt:     st.CreatedAt,
		UpdatedAt:     st.UpdatedAt,
	}, nil
}

func strategyFromModel(row model.StrategyModel) (*types.Strategy, error) {
	st := &types.Strategy{
		ID:        row.ID,
		UserID:    row.UserID,
		Name:      row.Name,
		Status:    types.StrategyStatus(row.Status),
		Version:   row.Version,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}
	if len(row.Rules) > 0 {
		if err := json.Unmarshal(row.Rules, &st.Rules); err != nil {
			return nil, fmt.Errorf("strategy %s: bad rules payload: %w", row.ID, err)
		}
	}
	if len(row.ExecutionLogs) > 0 {
		if err := json.Unmarshal(row.ExecutionLogs, &st.ExecutionLogs); err != nil {
			return nil, fmt.Errorf("strategy %s: bad execution logs payload: %w", row.ID, err)
		}
	}
	return st, nil
}

func strategiesFromModels(rows []model.StrategyModel) ([]*types.Strategy, error) {
	out := make([]*types.Strategy, 0, len(rows))
	for _, row := range rows {
		st, err := strategyFromModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
