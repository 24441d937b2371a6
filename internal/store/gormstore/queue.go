package gormstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"brokerd/internal/store/model"
)

const (
	TaskStatusQueued  = "queued"
	TaskStatusRunning = "running"
	TaskStatusDone    = "done"
	TaskStatusDead    = "dead"
)

// QueueTask is the store-facing view of one durable task.
type QueueTask struct {
	ID          string
	Type        string
	Payload     []byte
	Priority    int
	RunAt       time.Time
	Attempts    int
	MaxAttempts int
	LastError   string
}

func (s *Store) EnqueueTask(ctx context.Context, t *QueueTask) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.RunAt.IsZero() {
		t.RunAt = time.Now()
	}
	row := model.QueueTaskModel{
		ID:          t.ID,
		Type:        t.Type,
		Payload:     t.Payload,
		Priority:    t.Priority,
		RunAt:       t.RunAt,
		Attempts:    t.Attempts,
		MaxAttempts: t.MaxAttempts,
		Status:      TaskStatusQueued,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// LeaseDueTasks flips up to limit due tasks to running and returns them,
// highest priority first. The conditional update makes the lease safe under
// concurrent pollers.
func (s *Store) LeaseDueTasks(ctx context.Context, limit int) ([]QueueTask, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []model.QueueTaskModel
	err := s.db.WithContext(ctx).
		Where("status = ? AND run_at <= ?", TaskStatusQueued, time.Now()).
		Order("priority DESC, run_at").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	leased := make([]QueueTask, 0, len(rows))
	for _, row := range rows {
		res := s.db.WithContext(ctx).Model(&model.QueueTaskModel{}).
			Where("id = ? AND status = ?", row.ID, TaskStatusQueued).
			Updates(map[string]any{"status": TaskStatusRunning, "updated_at": time.Now()})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			continue // another poller got it first
		}
		leased = append(leased, QueueTask{
			ID:          row.ID,
			Type:        row.Type,
			Payload:     row.Payload,
			Priority:    row.Priority,
			RunAt:       row.RunAt,
			Attempts:    row.Attempts,
			MaxAttempts: row.MaxAttempts,
			LastError:   row.LastError,
		})
	}
	return leased, nil
}

func (s *Store) CompleteTask(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Model(&model.QueueTaskModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": TaskStatusDone, "updated_at": time.Now()}).Error
}

// RescheduleTask re-queues a task to run after delay. consumeAttempt is
// false for the silent conditions-not-met path, whose retries are unbounded.
func (s *Store) RescheduleTask(ctx context.Context, id string, delay time.Duration, consumeAttempt bool, lastError string) error {
	updates := map[string]any{
		"status":     TaskStatusQueued,
		"run_at":     time.Now().Add(delay),
		"updated_at": time.Now(),
		"last_error": lastError,
	}
	if consumeAttempt {
		updates["attempts"] = gorm.Expr("attempts + 1")
	}
	return s.db.WithContext(ctx).Model(&model.QueueTaskModel{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// BuryTask marks a task dead after exhausting its attempts.
func (s *Store) BuryTask(ctx context.Context, id, lastError string) error {
	return s.db.WithContext(ctx).Model(&model.QueueTaskModel{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": TaskStatusDead, "last_error": lastError, "updated_at": time.Now()}).Error
}

// RequeueStaleRunning flips running tasks whose lease is older than the
// cutoff back to queued. A crash between lease and completion would
// otherwise strand the task in running forever.
func (s *Store) RequeueStaleRunning(ctx context.Context, olderThan time.Duration) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.QueueTaskModel{}).
		Where("status = ? AND updated_at < ?", TaskStatusRunning, time.Now().Add(-olderThan)).
		Updates(map[string]any{"status": TaskStatusQueued, "run_at": time.Now(), "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}

// PruneDoneTasks deletes completed tasks older than the cutoff.
func (s *Store) PruneDoneTasks(ctx context.Context, olderThan time.Duration) error {
	return s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", TaskStatusDone, time.Now().Add(-olderThan)).
		Delete(&model.QueueTaskModel{}).Error
}
