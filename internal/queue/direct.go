package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"brokerd/internal/logger"
)

// DirectQueue executes tasks in-process with no durability. It is the
// documented degraded mode used when the durable queue is disabled: retry
// and delay semantics are emulated with timers and are lost on restart.
type DirectQueue struct {
	pendingRetryDelay time.Duration
	maxAttempts       int

	// Retry loops run on this queue-owned context, not the enqueue
	// context: a pending order must outlive the HTTP request that
	// created it.
	baseCtx context.Context
	stop    context.CancelFunc

	mu       sync.RWMutex
	handlers map[string]Handler
	wg       sync.WaitGroup
}

func NewDirectQueue(pendingRetryDelay time.Duration, maxAttempts int) *DirectQueue {
	if pendingRetryDelay <= 0 {
		pendingRetryDelay = 30 * time.Second
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	logger.Warnf("queue: durable queue disabled, tasks run in-process and do not survive restarts")
	baseCtx, stop := context.WithCancel(context.Background())
	return &DirectQueue{
		pendingRetryDelay: pendingRetryDelay,
		maxAttempts:       maxAttempts,
		baseCtx:           baseCtx,
		stop:              stop,
		handlers:          make(map[string]Handler),
	}
}

func (q *DirectQueue) Register(taskType string, h Handler) {
	q.mu.Lock()
	q.handlers[taskType] = h
	q.mu.Unlock()
}

func (q *DirectQueue) Enqueue(ctx context.Context, taskType string, payload any, opts Options) (string, error) {
	body, err := marshalPayload(payload)
	if err != nil {
		return "", err
	}
	q.mu.RLock()
	handler, ok := q.handlers[taskType]
	q.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("queue: no handler for task type %s", taskType)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.maxAttempts
	}
	id := uuid.NewString()
	q.wg.Add(1)
	go q.runTask(q.baseCtx, taskType, handler, body, opts.Delay, maxAttempts)
	return id, nil
}

// Wait blocks until in-flight tasks finish. Test and shutdown hook.
func (q *DirectQueue) Wait() {
	q.wg.Wait()
}

// Shutdown cancels all retry loops and waits for them to exit.
func (q *DirectQueue) Shutdown() {
	q.stop()
	q.wg.Wait()
}

func (q *DirectQueue) runTask(ctx context.Context, taskType string, handler Handler, payload []byte, delay time.Duration, maxAttempts int) {
	defer q.wg.Done()
	attempts := 0
	for {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		err := handler(ctx, payload)
		switch {
		case err == nil:
			return
		case errors.Is(err, ErrConditionsNotMet):
			delay = q.pendingRetryDelay
		default:
			attempts++
			if attempts >= maxAttempts {
				logger.Errorf("queue: %s dead after %d attempts: %v", taskType, attempts, err)
				return
			}
			delay = retryBackoff(attempts - 1)
			logger.Warnf("queue: %s attempt %d/%d failed, retry in %s: %v", taskType, attempts, maxAttempts, delay, err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}
