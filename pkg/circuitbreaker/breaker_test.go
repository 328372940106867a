package circuitbreaker

import (
	"testing"
	"time"

	"github.com/speedrun-hq/speedrun-relayer/pkg/logger"
	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	cb := New(Config{
		Enabled:      true,
		Threshold:    threshold,
		Window:       time.Minute,
		ResetTimeout: 5 * time.Minute,
	}, &logger.EmptyLogger{}).WithClock(clock.now)
	return cb, clock
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	cb, _ := newTestBreaker(3)

	assert.False(t, cb.RecordFailure())
	assert.False(t, cb.RecordFailure())
	assert.NoError(t, cb.Allow())

	assert.True(t, cb.RecordFailure())
	assert.ErrorIs(t, cb.Allow(), ErrOpen)
	assert.True(t, cb.State().Open)
}

func TestBreakerWindowResetsCount(t *testing.T) {
	cb, clock := newTestBreaker(2)

	cb.RecordFailure()
	clock.advance(2 * time.Minute)
	assert.False(t, cb.RecordFailure(), "earlier failure fell outside the window")
	assert.Equal(t, 1, cb.State().FailureCount)
}

func TestBreakerSuccessClearsStreak(t *testing.T) {
	cb, _ := newTestBreaker(2)

	cb.RecordFailure()
	cb.RecordSuccess()
	assert.False(t, cb.RecordFailure())
}

func TestBreakerResetsAfterTimeout(t *testing.T) {
	cb, clock := newTestBreaker(1)

	assert.True(t, cb.RecordFailure())
	clock.advance(4 * time.Minute)
	assert.ErrorIs(t, cb.Allow(), ErrOpen)

	clock.advance(2 * time.Minute)
	assert.NoError(t, cb.Allow())
	assert.Equal(t, 0, cb.State().FailureCount)
}

func TestBreakerManualReset(t *testing.T) {
	cb, _ := newTestBreaker(1)

	cb.RecordFailure()
	cb.Reset()
	assert.NoError(t, cb.Allow())
	assert.False(t, cb.State().Open)
}

func TestBreakerDisabled(t *testing.T) {
	cb := New(Config{Enabled: false, Threshold: 1}, &logger.EmptyLogger{})

	assert.False(t, cb.RecordFailure())
	assert.NoError(t, cb.Allow())
	assert.False(t, cb.State().Enabled)
}
