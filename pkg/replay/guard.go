// Package replay tracks consumed intent nonces so each intent is accepted at most once.
package replay

import (
	"context"
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-relayer/pkg/logger"
	"github.com/speedrun-hq/speedrun-relayer/pkg/metrics"
)

// Guard reserves nonces with an atomic check-and-insert
type Guard interface {
	// Reserve returns true if the nonce was newly reserved and false if it is already held.
	// expiresAt is the intent expiry; the reservation may be dropped once it has passed.
	Reserve(nonce string, expiresAt time.Time) bool
	// Release removes a reservation. Releasing an unknown nonce is a no-op.
	Release(nonce string)
	// Reserved reports whether the nonce is currently held, without reserving it
	Reserved(nonce string) bool
}

// MemoryGuard is a process-local Guard. Reservations carry the expiry of their
// intent and are pruned by Sweep once that expiry has passed: an expired intent
// is rejected by validation before it ever reaches the guard again.
type MemoryGuard struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
	logger  logger.Logger
}

var _ Guard = (*MemoryGuard)(nil)

// NewMemoryGuard creates an empty in-memory guard
func NewMemoryGuard(log logger.Logger) *MemoryGuard {
	return &MemoryGuard{
		entries: make(map[string]time.Time),
		now:     time.Now,
		logger:  log,
	}
}

// Reserve implements Guard
func (g *MemoryGuard) Reserve(nonce string, expiresAt time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.entries[nonce]; exists {
		return false
	}
	g.entries[nonce] = expiresAt
	metrics.ReservedNonces.Set(float64(len(g.entries)))
	return true
}

// Release implements Guard
func (g *MemoryGuard) Release(nonce string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.entries, nonce)
	metrics.ReservedNonces.Set(float64(len(g.entries)))
}

// Reserved implements Guard
func (g *MemoryGuard) Reserved(nonce string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, exists := g.entries[nonce]
	return exists
}

// Len returns the number of retained reservations
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}

// Sweep drops reservations whose expiry has passed and returns how many were removed.
// A zero expiry is retained forever.
func (g *MemoryGuard) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	removed := 0
	for nonce, expiresAt := range g.entries {
		if !expiresAt.IsZero() && !expiresAt.After(now) {
			delete(g.entries, nonce)
			removed++
		}
	}
	metrics.ReservedNonces.Set(float64(len(g.entries)))
	return removed
}

// StartSweeper prunes expired reservations every interval until ctx is done
func (g *MemoryGuard) StartSweeper(ctx context.Context, interval time.Duration) {
	g.logger.Info("Replay sweeper started (interval %s)", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			g.logger.Info("Replay sweeper shutting down")
			return
		case <-ticker.C:
			if removed := g.Sweep(); removed > 0 {
				g.logger.Debug("Pruned %d expired nonces, %d retained", removed, g.Len())
			}
		}
	}
}
