package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/speedrun-hq/speedrun-relayer/pkg/logger"
)

// PendingNonceSource reports the next account nonce known to the chain
type PendingNonceSource interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// SequenceManager allocates account nonces to concurrent submissions from the relayer
type SequenceManager struct {
	source    PendingNonceSource
	address   common.Address
	logger    logger.Logger
	syncEvery time.Duration

	mu       sync.Mutex
	current  uint64
	pending  map[uint64]common.Hash
	lastSync time.Time
	// gap is set when an allocated nonce was never broadcast and is not the latest one
	gap bool
}

// NewSequenceManager creates a sequence manager for the relayer address
func NewSequenceManager(source PendingNonceSource, address common.Address, log logger.Logger) *SequenceManager {
	return &SequenceManager{
		source:    source,
		address:   address,
		logger:    log,
		syncEvery: 5 * time.Minute,
		pending:   make(map[uint64]common.Hash),
	}
}

// Next reserves and returns the next nonce
func (sm *SequenceManager) Next(ctx context.Context) (uint64, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	// A gap can only be closed once nothing above it is in flight
	resetGap := sm.gap && len(sm.pending) == 0
	if resetGap || sm.lastSync.IsZero() || time.Since(sm.lastSync) > sm.syncEvery {
		nonce, err := sm.source.PendingNonceAt(ctx, sm.address)
		if err != nil {
			return 0, fmt.Errorf("failed to get pending nonce: %w", err)
		}

		if resetGap || nonce > sm.current {
			if nonce != sm.current {
				sm.logger.Debug("Updating relayer nonce: %d -> %d", sm.current, nonce)
			}
			sm.current = nonce
			sm.gap = false
		}
		sm.lastSync = time.Now()
	}

	nonce := sm.current
	sm.current++
	return nonce, nil
}

// Track records a broadcast transaction for an allocated nonce
func (sm *SequenceManager) Track(nonce uint64, hash common.Hash) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.pending[nonce] = hash
}

// Confirm marks the nonce as consumed on chain
func (sm *SequenceManager) Confirm(nonce uint64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.pending, nonce)
}

// Fail releases a nonce whose transaction was never broadcast. The latest
// allocation is handed out again directly; an older one leaves a gap that is
// closed by resyncing once in-flight transactions settle.
func (sm *SequenceManager) Fail(nonce uint64) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	delete(sm.pending, nonce)
	if nonce+1 == sm.current {
		sm.current = nonce
		sm.logger.Debug("Reusing nonce %d after failed send", nonce)
		return
	}
	sm.gap = true
	sm.logger.Notice("Nonce %d released out of order, resync scheduled", nonce)
}

// Pending returns the number of broadcast transactions awaiting settlement
func (sm *SequenceManager) Pending() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.pending)
}
