package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brokerd/internal/store/gormstore"
)

func newTestQueue(t *testing.T, cfg StoreQueueConfig) (*StoreQueue, *gormstore.Store) {
	t.Helper()
	store, err := gormstore.New(filepath.Join(t.TempDir(), "queue.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewStoreQueue(store, cfg), store
}

func leaseOne(t *testing.T, store *gormstore.Store) gormstore.QueueTask {
	t.Helper()
	tasks, err := store.LeaseDueTasks(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	return tasks[0]
}

func TestDispatchSuccessCompletesTask(t *testing.T) {
	q, store := newTestQueue(t, StoreQueueConfig{})
	ctx := context.Background()

	var calls int32
	q.Register("order:check", func(ctx context.Context, payload []byte) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})

	_, err := q.Enqueue(ctx, "order:check", map[string]string{"order_id": "o-1"}, Options{})
	require.NoError(t, err)

	q.dispatch(ctx, leaseOne(t, store))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Done tasks are not due again.
	tasks, err := store.LeaseDueTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestConditionsNotMetRetriesWithoutConsumingBudget(t *testing.T) {
	q, store := newTestQueue(t, StoreQueueConfig{PendingRetryDelay: time.Millisecond})
	ctx := context.Background()

	q.Register("order:check", func(ctx context.Context, payload []byte) error {
		return ErrConditionsNotMet
	})

	_, err := q.Enqueue(ctx, "order:check", map[string]string{"order_id": "o-1"}, Options{MaxAttempts: 2})
	require.NoError(t, err)

	// Far more waiting rounds than the attempt budget would survive if the
	// silent path consumed it.
	for i := 0; i < 5; i++ {
		task := leaseOne(t, store)
		assert.Equal(t, 0, task.Attempts, "round %d", i)
		q.dispatch(ctx, task)
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFailureConsumesBudgetThenBuries(t *testing.T) {
	q, store := newTestQueue(t, StoreQueueConfig{})
	ctx := context.Background()

	q.Register("order:check", func(ctx context.Context, payload []byte) error {
		return errors.New("price feed exploded")
	})

	_, err := q.Enqueue(ctx, "order:check", map[string]string{"order_id": "o-1"}, Options{MaxAttempts: 1})
	require.NoError(t, err)

	q.dispatch(ctx, leaseOne(t, store))

	// Single attempt exhausted: the task is dead, not requeued.
	tasks, err := store.LeaseDueTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestDispatchWithoutHandlerBuries(t *testing.T) {
	q, store := newTestQueue(t, StoreQueueConfig{})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, "unknown:type", nil, Options{})
	require.NoError(t, err)

	q.dispatch(ctx, leaseOne(t, store))

	tasks, err := store.LeaseDueTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestEnqueueDelayKeepsTaskUndue(t *testing.T) {
	q, store := newTestQueue(t, StoreQueueConfig{})
	ctx := context.Background()
	q.Register("order:check", func(ctx context.Context, payload []byte) error { return nil })

	_, err := q.Enqueue(ctx, "order:check", nil, Options{Delay: time.Hour})
	require.NoError(t, err)

	tasks, err := store.LeaseDueTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestPriorityOrdersLease(t *testing.T) {
	q, store := newTestQueue(t, StoreQueueConfig{})
	ctx := context.Background()
	q.Register("order:check", func(ctx context.Context, payload []byte) error { return nil })

	_, err := q.Enqueue(ctx, "order:check", map[string]string{"order_id": "low"}, Options{Priority: 0})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, "order:check", map[string]string{"order_id": "high"}, Options{Priority: 5})
	require.NoError(t, err)

	task := leaseOne(t, store)
	assert.Contains(t, string(task.Payload), "high")
}

func TestDirectQueueRetriesConditionsNotMet(t *testing.T) {
	q := NewDirectQueue(time.Millisecond, 3)

	var calls int32
	q.Register("order:check", func(ctx context.Context, payload []byte) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return ErrConditionsNotMet
		}
		return nil
	})

	_, err := q.Enqueue(context.Background(), "order:check", nil, Options{})
	require.NoError(t, err)
	q.Wait()
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDirectQueueOutlivesEnqueueContext(t *testing.T) {
	q := NewDirectQueue(time.Millisecond, 3)
	t.Cleanup(q.Shutdown)

	var calls int32
	q.Register("order:check", func(ctx context.Context, payload []byte) error {
		if atomic.AddInt32(&calls, 1) < 4 {
			return ErrConditionsNotMet
		}
		return nil
	})

	// The request context dies as soon as the response is written; the
	// pending order must keep being re-checked anyway.
	reqCtx, cancel := context.WithCancel(context.Background())
	_, err := q.Enqueue(reqCtx, "order:check", nil, Options{})
	require.NoError(t, err)
	cancel()

	q.Wait()
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls))
}

func TestDirectQueueRejectsUnknownType(t *testing.T) {
	q := NewDirectQueue(time.Millisecond, 1)
	_, err := q.Enqueue(context.Background(), "nope", nil, Options{})
	assert.Error(t, err)
}

func TestRetryBackoffCapped(t *testing.T) {
	assert.Equal(t, 5*time.Second, retryBackoff(0))
	assert.Equal(t, 10*time.Second, retryBackoff(1))
	assert.Equal(t, 5*time.Minute, retryBackoff(100))
}
