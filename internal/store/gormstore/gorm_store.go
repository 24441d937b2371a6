// Package gormstore persists the execution core's state in SQLite through
// gorm. One store instance is shared by every component; per-user write
// serialization is enforced with optimistic versioning on the portfolio row.
package gormstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"brokerd/internal/store/model"
)

var (
	ErrNotFound        = errors.New("record not found")
	ErrVersionConflict = errors.New("portfolio version conflict")
	// ErrStatusChanged reports that a conditional status transition matched
	// zero rows: someone else already moved the order on.
	ErrStatusChanged = errors.New("order status changed concurrently")
)

type Store struct {
	db *gorm.DB
	// initialCash seeds lazily created portfolios.
	initialCash float64
}

func New(path string, initialCash float64) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: database path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.PortfolioModel{},
		&model.PositionModel{},
		&model.OrderModel{},
		&model.RiskSettingsModel{},
		&model.RiskActionModel{},
		&model.StrategyModel{},
		&model.QueueTaskModel{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a little read parallelism while keeping write
	// lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db, initialCash: initialCash}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transact runs fn inside one database transaction; every store method
// called on the passed Store participates in it.
func (s *Store) Transact(fn func(tx *Store) error) error {
	return s.db.Transaction(func(txdb *gorm.DB) error {
		return fn(&Store{db: txdb, initialCash: s.initialCash})
	})
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
