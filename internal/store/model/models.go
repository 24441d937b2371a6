// Package model holds the gorm row shapes backing the execution core. Domain
// types never carry gorm tags; conversion lives in the store package.
package model

import (
	"time"

	"gorm.io/datatypes"
)

type PortfolioModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	UserID      string `gorm:"uniqueIndex;size:64;not null"`
	Cash        float64
	RealizedPnL float64 `gorm:"column:realized_pnl"`
	PeakEquity  float64
	// Version backs optimistic locking: saves carry WHERE version = ? and
	// bump it by one.
	Version   int64 `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PortfolioModel) TableName() string { return "portfolios" }

type PositionModel struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	UserID        string `gorm:"uniqueIndex:idx_user_symbol;size:64;not null"`
	Symbol        string `gorm:"uniqueIndex:idx_user_symbol;size:32;not null"`
	Quantity      float64
	AvgBuyPrice   float64
	TotalInvested float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (PositionModel) TableName() string { return "positions" }

type OrderModel struct {
	ID             string `gorm:"primaryKey;size:36"`
	UserID         string `gorm:"index;size:64;not null"`
	Symbol         string `gorm:"index;size:32;not null"`
	Action         string `gorm:"size:8;not null"`
	Quantity       float64
	Type           string `gorm:"size:16;not null"`
	LimitPrice     *float64
	StopPrice      *float64
	Status         string `gorm:"index;size:16;not null"`
	StatusReason   string
	ExecutionPrice *float64
	Fees           float64
	RealizedPnL    *float64 `gorm:"column:realized_pnl"`
	TriggeredBy    string `gorm:"size:64"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExecutedAt     *time.Time `gorm:"index"`
}

func (OrderModel) TableName() string { return "orders" }

type RiskSettingsModel struct {
	ID                       uint   `gorm:"primaryKey;autoIncrement"`
	UserID                   string `gorm:"uniqueIndex;size:64;not null"`
	StopLossPercentage       float64
	TakeProfitPercentage     float64
	MaxDrawdownPercentage    float64
	CapitalAllocationPercent float64
	DailyLossLimit           float64
	AutoStopLossEnabled      bool
	AutoTakeProfitEnabled    bool
	PositionSizingEnabled    bool
	RiskPreset               string `gorm:"size:16"`
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

func (RiskSettingsModel) TableName() string { return "risk_settings" }

type RiskActionModel struct {
	ID         string `gorm:"primaryKey;size:36"`
	UserID     string `gorm:"index;size:64;not null"`
	Action     string `gorm:"index;size:16;not null"`
	Symbol     string `gorm:"index;size:32"`
	Quantity   float64
	Price      float64
	Reason     string
	Violations datatypes.JSON
	Status     string `gorm:"size:16"`
	CreatedAt  time.Time `gorm:"index"`
}

func (RiskActionModel) TableName() string { return "risk_actions" }

type StrategyModel struct {
	ID            string `gorm:"primaryKey;size:36"`
	UserID        string `gorm:"index;size:64;not null"`
	Name          string `gorm:"size:128"`
	Rules         datatypes.JSON
	Status        string `gorm:"index;size:16;not null"`
	Version       int
	ExecutionLogs datatypes.JSON
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (StrategyModel) TableName() string { return "strategies" }

type QueueTaskModel struct {
	ID          string `gorm:"primaryKey;size:36"`
	Type        string `gorm:"index;size:32;not null"`
	Payload     datatypes.JSON
	Priority    int       `gorm:"index"`
	RunAt       time.Time `gorm:"index"`
	Attempts    int
	MaxAttempts int
	Status      string `gorm:"index;size:16;not null"`
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (QueueTaskModel) TableName() string { return "queue_tasks" }
