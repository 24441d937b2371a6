package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"brokerd/internal/store/model"
	"brokerd/internal/types"
)

// GetRiskSettings returns the user's settings or ErrNotFound; lazy creation
// with preset defaults is the risk service's job, not the store's.
func (s *Store) GetRiskSettings(ctx context.Context, userID string) (*types.RiskSettings, error) {
	var row model.RiskSettingsModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	rs := riskSettingsFromModel(row)
	return &rs, nil
}

func (s *Store) SaveRiskSettings(ctx context.Context, rs *types.RiskSettings) error {
	var row model.RiskSettingsModel
	err := s.db.WithContext(ctx).Where("user_id = ?", rs.UserID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = riskSettingsToModel(rs)
		return s.db.WithContext(ctx).Create(&row).Error
	}
	if err != nil {
		return err
	}
	updated := riskSettingsToModel(rs)
	updated.ID = row.ID
	updated.CreatedAt = row.CreatedAt
	updated.UpdatedAt = time.Now()
	return s.db.WithContext(ctx).Save(&updated).Error
}

// AppendRiskAction writes one append-only audit record.
func (s *Store) AppendRiskAction(ctx context.Context, a *types.RiskAction) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	violations, err := json.Marshal(a.Violations)
	if err != nil {
		return err
	}
	row := model.RiskActionModel{
		ID:         a.ID,
		UserID:     a.UserID,
		Action:     string(a.Action),
		Symbol:     a.Symbol,
		Quantity:   a.Quantity,
		Price:      a.Price,
		Reason:     a.Reason,
		Violations: violations,
		Status:     a.Status,
		CreatedAt:  a.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// RiskActionFilter narrows audit queries; zero values mean "any".
type RiskActionFilter struct {
	UserID string
	Symbol string
	Action types.RiskActionType
	Limit  int
}

func (s *Store) ListRiskActions(ctx context.Context, f RiskActionFilter) ([]types.RiskAction, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}
	q := s.db.WithContext(ctx).Model(&model.RiskActionModel{})
	if f.UserID != "" {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}
	if f.Action != "" {
		q = q.Where("action = ?", string(f.Action))
	}
	var rows []model.RiskActionModel
	if err := q.Order("created_at DESC").Limit(f.Limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.RiskAction, 0, len(rows))
	for _, row := range rows {
		var violations []string
		if len(row.Violations) > 0 {
			_ = json.Unmarshal(row.Violations, &violations)
		}
		out = append(out, types.RiskAction{
			ID:         row.ID,
			UserID:     row.UserID,
			Action:     types.RiskActionType(row.Action),
			Symbol:     row.Symbol,
			Quantity:   row.Quantity,
			Price:      row.Price,
			Reason:     row.Reason,
			Violations: violations,
			Status:     row.Status,
			CreatedAt:  row.CreatedAt,
		})
	}
	return out, nil
}

// ListUsersWithPositions returns the distinct users holding at least one
// open position, for risk-monitor fan-out.
func (s *Store) ListUsersWithPositions(ctx context.Context) ([]string, error) {
	var users []string
	err := s.db.WithContext(ctx).Model(&model.PositionModel{}).
		Where("quantity > 0").
		Distinct("user_id").Pluck("user_id", &users).Error
	return users, err
}

func riskSettingsFromModel(m model.RiskSettingsModel) types.RiskSettings {
	return types.RiskSettings{
		UserID:                   m.UserID,
		StopLossPercentage:       m.StopLossPercentage,
		TakeProfitPercentage:     m.TakeProfitPercentage,
		MaxDrawdownPercentage:    m.MaxDrawdownPercentage,
		CapitalAllocationPercent: m.CapitalAllocationPercent,
		DailyLossLimit:           m.DailyLossLimit,
		AutoStopLossEnabled:      m.AutoStopLossEnabled,
		AutoTakeProfitEnabled:    m.AutoTakeProfitEnabled,
		PositionSizingEnabled:    m.PositionSizingEnabled,
		RiskPreset:               types.RiskPreset(m.RiskPreset),
		UpdatedAt:                m.UpdatedAt,
	}
}

func riskSettingsToModel(rs *types.RiskSettings) model.RiskSettingsModel {
	return model.RiskSettingsModel{
		UserID:                   rs.UserID,
		StopLossPercentage:       rs.StopLossPercentage,
		TakeProfitPercentage:     rs.TakeProfitPercentage,
		MaxDrawdownPercentage:    rs.MaxDrawdownPercentage,
		CapitalAllocationPercent: rs.CapitalAllocationPercent,
		DailyLossLimit:           rs.DailyLossLimit,
		AutoStopLossEnabled:      rs.AutoStopLossEnabled,
		AutoTakeProfitEnabled:    rs.AutoTakeProfitEnabled,
		PositionSizingEnabled:    rs.PositionSizingEnabled,
		RiskPreset:               string(rs.RiskPreset),
	}
}
