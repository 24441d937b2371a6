package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"brokerd/internal/store/model"
	"brokerd/internal/types"
)

// LoadPortfolio returns the user's portfolio, creating it with the seed
// cash balance on first access.
func (s *Store) LoadPortfolio(ctx context.Context, userID string) (*types.Portfolio, error) {
	var row model.PortfolioModel
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		row = model.PortfolioModel{
			UserID:     userID,
			Cash:       s.initialCash,
			PeakEquity: s.initialCash,
		}
		if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
			return nil, fmt.Errorf("create portfolio for %s: %w", userID, err)
		}
	} else if err != nil {
		return nil, err
	}

	var posRows []model.PositionModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Find(&posRows).Error; err != nil {
		return nil, err
	}

	p := &types.Portfolio{
		UserID:      row.UserID,
		Cash:        row.Cash,
		RealizedPnL: row.RealizedPnL,
		PeakEquity:  row.PeakEquity,
		Version:     row.Version,
		UpdatedAt:   row.UpdatedAt,
		Positions:   make(map[string]*types.Position, len(posRows)),
	}
	for _, pr := range posRows {
		p.Positions[pr.Symbol] = &types.Position{
			Symbol:        pr.Symbol,
			Quantity:      pr.Quantity,
			AvgBuyPrice:   pr.AvgBuyPrice,
			TotalInvested: pr.TotalInvested,
		}
	}
	return p, nil
}

// SavePortfolio commits a mutated snapshot with an optimistic version
// check. A zero-row update means another writer committed first; the caller
// reloads and retries.
func (s *Store) SavePortfolio(ctx context.Context, p *types.Portfolio) error {
	return s.Transact(func(tx *Store) error {
		res := tx.db.WithContext(ctx).Model(&model.PortfolioModel{}).
			Where("user_id = ? AND version = ?", p.UserID, p.Version).
			Updates(map[string]any{
				"cash":         p.Cash,
				"realized_pnl": p.RealizedPnL,
				"peak_equity":  p.PeakEquity,
				"version":      p.Version + 1,
				"updated_at":   time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: user=%s version=%d", ErrVersionConflict, p.UserID, p.Version)
		}

		// Reconcile position rows with the snapshot.
		var existing []model.PositionModel
		if err := tx.db.WithContext(ctx).Where("user_id = ?", p.UserID).Find(&existing).Error; err != nil {
			return err
		}
		seen := make(map[string]bool, len(p.Positions))
		for sym, pos := range p.Positions {
			seen[sym] = true
			updates := map[string]any{
				"quantity":       pos.Quantity,
				"avg_buy_price":  pos.AvgBuyPrice,
				"total_invested": pos.TotalInvested,
				"updated_at":     time.Now(),
			}
			res := tx.db.WithContext(ctx).Model(&model.PositionModel{}).
				Where("user_id = ? AND symbol = ?", p.UserID, sym).
				Updates(updates)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				row := model.PositionModel{
					UserID:        p.UserID,
					Symbol:        sym,
					Quantity:      pos.Quantity,
					AvgBuyPrice:   pos.AvgBuyPrice,
					TotalInvested: pos.TotalInvested,
				}
				if err := tx.db.WithContext(ctx).Create(&row).Error; err != nil {
					return err
				}
			}
		}
		for _, row := range existing {
			if !seen[row.Symbol] {
				if err := tx.db.WithContext(ctx).Delete(&model.PositionModel{}, row.ID).Error; err != nil {
					return err
				}
			}
		}
		p.Version++
		return nil
	})
}
