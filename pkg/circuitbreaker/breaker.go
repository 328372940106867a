package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-relayer/pkg/logger"
	"github.com/speedrun-hq/speedrun-relayer/pkg/metrics"
)

// ErrOpen is returned by Allow while the breaker is tripped
var ErrOpen = errors.New("circuit breaker open")

// Config holds the breaker thresholds
type Config struct {
	Enabled bool
	// Threshold is the number of failures within Window that trips the breaker
	Threshold    int
	Window       time.Duration
	ResetTimeout time.Duration
}

// State is a snapshot of the breaker
type State struct {
	Enabled      bool      `json:"enabled"`
	Open         bool      `json:"open"`
	FailureCount int       `json:"failureCount"`
	Threshold    int       `json:"threshold"`
	LastFailure  time.Time `json:"lastFailure,omitempty"`
	TripTime     time.Time `json:"tripTime,omitempty"`
}

// Breaker stops submissions to the ledger after repeated failures and lets
// them through again once the reset timeout has elapsed
type Breaker struct {
	cfg    Config
	logger logger.Logger
	now    func() time.Time

	mu           sync.Mutex
	failureCount int
	lastFailure  time.Time
	tripped      bool
	tripTime     time.Time
}

// New creates a breaker
func New(cfg Config, log logger.Logger) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 1
	}
	return &Breaker{
		cfg:    cfg,
		logger: log,
		now:    time.Now,
	}
}

// WithClock replaces the time source, used by tests
func (cb *Breaker) WithClock(now func() time.Time) *Breaker {
	cb.now = now
	return cb
}

// Allow returns ErrOpen while the breaker is tripped
func (cb *Breaker) Allow() error {
	if !cb.cfg.Enabled {
		return nil
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.expireTripLocked() {
		return nil
	}
	if cb.tripped {
		return ErrOpen
	}
	return nil
}

// RecordSuccess clears the failure streak
func (cb *Breaker) RecordSuccess() {
	if !cb.cfg.Enabled {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
}

// RecordFailure records a failure and reports whether the breaker is now open
func (cb *Breaker) RecordFailure() bool {
	if !cb.cfg.Enabled {
		return false
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.now()
	cb.expireTripLocked()
	if cb.tripped {
		return true
	}

	// Reset failure count if outside window
	if !cb.lastFailure.IsZero() && now.Sub(cb.lastFailure) > cb.cfg.Window {
		cb.failureCount = 0
	}
	cb.failureCount++
	cb.lastFailure = now

	if cb.failureCount >= cb.cfg.Threshold {
		cb.tripped = true
		cb.tripTime = now
		metrics.CircuitOpen.Set(1)
		cb.logger.Error("Circuit breaker tripped: %d failures in window", cb.failureCount)
		return true
	}
	return false
}

// Reset closes the breaker and clears the failure count
func (cb *Breaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.tripped {
		cb.logger.Notice("Circuit breaker manually reset")
	}
	cb.closeLocked()
}

// State returns a snapshot of the breaker
func (cb *Breaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.cfg.Enabled {
		cb.expireTripLocked()
	}
	return State{
		Enabled:      cb.cfg.Enabled,
		Open:         cb.tripped,
		FailureCount: cb.failureCount,
		Threshold:    cb.cfg.Threshold,
		LastFailure:  cb.lastFailure,
		TripTime:     cb.tripTime,
	}
}

// expireTripLocked closes a tripped breaker whose reset timeout passed and reports whether it did
func (cb *Breaker) expireTripLocked() bool {
	if cb.tripped && cb.now().Sub(cb.tripTime) > cb.cfg.ResetTimeout {
		cb.logger.Info("Circuit breaker: attempting to reset after timeout")
		cb.closeLocked()
		return true
	}
	return false
}

func (cb *Breaker) closeLocked() {
	cb.tripped = false
	cb.failureCount = 0
	metrics.CircuitOpen.Set(0)
}
