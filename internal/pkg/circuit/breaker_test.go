package circuit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker(threshold int, cooldown time.Duration) (*Breaker, *time.Time) {
	b := New("test", threshold, cooldown)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b.nowFn = func() time.Time { return now }
	return b, &now
}

func TestOpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.Failure()
	b.Failure()
	assert.True(t, b.Allow())
	assert.Equal(t, StateClosed, b.State())

	b.Failure()
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.Allow())
}

func TestHalfOpenProbe(t *testing.T) {
	b, now := newTestBreaker(1, time.Minute)
	b.Failure()
	assert.False(t, b.Allow())

	*now = now.Add(time.Minute)
	assert.True(t, b.Allow())
	assert.Equal(t, StateHalfOpen, b.State())

	// Probe fails, breaker re-opens for another full cooldown.
	b.Failure()
	assert.False(t, b.Allow())

	*now = now.Add(time.Minute)
	assert.True(t, b.Allow())
	b.Success()
	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.Allow())
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(2, time.Minute)
	b.Failure()
	b.Success()
	b.Failure()
	assert.Equal(t, StateClosed, b.State())
}
