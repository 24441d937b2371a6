package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"brokerd/internal/logger"
	"brokerd/internal/store/gormstore"
)

// StoreQueue is the durable queue: tasks live in the store, survive restarts
// and are delivered at least once by a small poller pool.
type StoreQueue struct {
	store *gormstore.Store

	workers           int
	pollInterval      time.Duration
	pendingRetryDelay time.Duration
	defaultAttempts   int

	mu       sync.RWMutex
	handlers map[string]Handler
}

type StoreQueueConfig struct {
	Workers           int
	PollInterval      time.Duration
	PendingRetryDelay time.Duration
	MaxAttempts       int
}

func NewStoreQueue(store *gormstore.Store, cfg StoreQueueConfig) *StoreQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PendingRetryDelay <= 0 {
		cfg.PendingRetryDelay = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &StoreQueue{
		store:             store,
		workers:           cfg.Workers,
		pollInterval:      cfg.PollInterval,
		pendingRetryDelay: cfg.PendingRetryDelay,
		defaultAttempts:   cfg.MaxAttempts,
		handlers:          make(map[string]Handler),
	}
}

func (q *StoreQueue) Register(taskType string, h Handler) {
	q.mu.Lock()
	q.handlers[taskType] = h
	q.mu.Unlock()
}

func (q *StoreQueue) Enqueue(ctx context.Context, taskType string, payload any, opts Options) (string, error) {
	body, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.defaultAttempts
	}
	task := &gormstore.QueueTask{
		Type:        taskType,
		Payload:     body,
		Priority:    opts.Priority,
		RunAt:       time.Now().Add(opts.Delay),
		MaxAttempts: maxAttempts,
	}
	if err := q.store.EnqueueTask(ctx, task); err != nil {
		return "", err
	}
	return task.ID, nil
}

// Run starts the poller pool and blocks until ctx is cancelled.
func (q *StoreQueue) Run(ctx context.Context) error {
	// Leases left behind by a crash mid-dispatch are reclaimed on startup
	// and on a slow cadence, so no task is stranded in running. The age
	// cutoff keeps leases held by a live sibling process untouched.
	q.reclaimStale(ctx)

	group, ctx := errgroup.WithContext(ctx)
	for i := 0; i < q.workers; i++ {
		group.Go(func() error {
			ticker := time.NewTicker(q.pollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					q.drain(ctx)
				}
			}
		})
	}
	group.Go(func() error {
		// housekeeping: completed tasks are pruned on a slow cadence
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := q.store.PruneDoneTasks(ctx, time.Hour); err != nil {
					logger.Warnf("queue: prune failed: %v", err)
				}
				q.reclaimStale(ctx)
			}
		}
	})
	return group.Wait()
}

func (q *StoreQueue) staleLeaseAge() time.Duration {
	age := 20 * q.pollInterval
	if age < time.Minute {
		age = time.Minute
	}
	return age
}

func (q *StoreQueue) reclaimStale(ctx context.Context) {
	n, err := q.store.RequeueStaleRunning(ctx, q.staleLeaseAge())
	if err != nil {
		logger.Warnf("queue: stale lease requeue failed: %v", err)
		return
	}
	if n > 0 {
		logger.Infof("queue: requeued %d stale running tasks", n)
	}
}

func (q *StoreQueue) drain(ctx context.Context) {
	tasks, err := q.store.LeaseDueTasks(ctx, 5)
	if err != nil {
		logger.Warnf("queue: lease failed: %v", err)
		return
	}
	for _, task := range tasks {
		q.dispatch(ctx, task)
	}
}

func (q *StoreQueue) dispatch(ctx context.Context, task gormstore.QueueTask) {
	q.mu.RLock()
	handler, ok := q.handlers[task.Type]
	q.mu.RUnlock()
	if !ok {
		logger.Warnf("queue: no handler for task type %s, burying %s", task.Type, task.ID)
		if err := q.store.BuryTask(ctx, task.ID, "no handler registered"); err != nil {
			logger.Warnf("queue: bury failed: %v", err)
		}
		return
	}

	err := handler(ctx, task.Payload)
	switch {
	case err == nil:
		if cerr := q.store.CompleteTask(ctx, task.ID); cerr != nil {
			logger.Warnf("queue: complete failed for %s: %v", task.ID, cerr)
		}

	case errors.Is(err, ErrConditionsNotMet):
		// Silent unbounded retry: the budget is untouched and nothing is
		// logged above debug.
		logger.Debugf("queue: %s %s waiting, recheck in %s", task.Type, taskRef(task), q.pendingRetryDelay)
		if rerr := q.store.RescheduleTask(ctx, task.ID, q.pendingRetryDelay, false, ""); rerr != nil {
			logger.Warnf("queue: reschedule failed for %s: %v", task.ID, rerr)
		}

	default:
		nextAttempt := task.Attempts + 1
		if nextAttempt >= task.MaxAttempts {
			logger.Errorf("queue: %s %s dead after %d attempts: %v", task.Type, taskRef(task), nextAttempt, err)
			if berr := q.store.BuryTask(ctx, task.ID, err.Error()); berr != nil {
				logger.Warnf("queue: bury failed for %s: %v", task.ID, berr)
			}
			return
		}
		delay := retryBackoff(task.Attempts)
		logger.Warnf("queue: %s %s attempt %d/%d failed, retry in %s: %v",
			task.Type, taskRef(task), nextAttempt, task.MaxAttempts, delay, err)
		if rerr := q.store.RescheduleTask(ctx, task.ID, delay, true, err.Error()); rerr != nil {
			logger.Warnf("queue: reschedule failed for %s: %v", task.ID, rerr)
		}
	}
}

// taskRef pulls identifying fields out of the payload for log lines without
// unmarshalling the whole document.
func taskRef(task gormstore.QueueTask) string {
	if id := gjson.GetBytes(task.Payload, "order_id").String(); id != "" {
		return "order=" + id
	}
	if user := gjson.GetBytes(task.Payload, "user_id").String(); user != "" {
		return "user=" + user
	}
	return "task=" + task.ID
}
