// Package queue is the job orchestration seam of the execution core. Tasks
// carry priority, delay and a retry budget; handlers signal "condition not
// yet met" with ErrConditionsNotMet, which re-enqueues silently on a fixed
// delay without consuming the retry budget.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrConditionsNotMet is a scheduling primitive, not a failure: the task is
// healthy, its market condition just has not happened yet. It must never be
// logged as an error or surfaced to users.
var ErrConditionsNotMet = errors.New("conditions not met")

// Task types routed through the queue.
const (
	TaskOrderCheck    = "order:check"
	TaskRiskMonitor   = "risk:monitor"
	TaskStrategyTick  = "strategy:tick"
	TaskProtectiveRun = "risk:protective"
)

type Options struct {
	Priority    int
	Delay       time.Duration
	MaxAttempts int
}

// Handler processes one delivery. Delivery is at-least-once; handlers must
// be idempotent on the ledger.
type Handler func(ctx context.Context, payload []byte) error

type Queue interface {
	Enqueue(ctx context.Context, taskType string, payload any, opts Options) (string, error)
	Register(taskType string, h Handler)
}

func marshalPayload(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case nil:
		return []byte("{}"), nil
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("queue payload marshal: %w", err)
		}
		return b, nil
	}
}

// retryBackoff grows with the attempt count and is capped; it applies only
// to genuine failures, never to the conditions-not-met path.
func retryBackoff(attempt int) time.Duration {
	d := 5 * time.Second
	for i := 0; i < attempt && d < 5*time.Minute; i++ {
		d *= 2
	}
	if d > 5*time.Minute {
		d = 5 * time.Minute
	}
	return d
}
