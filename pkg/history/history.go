// Package history keeps a bounded record of recent relay outcomes.
package history

import (
	"sort"
	"sync"
	"time"

	"github.com/speedrun-hq/speedrun-relayer/pkg/intent"
)

// DefaultCapacity is the number of outcomes retained when none is configured
const DefaultCapacity = 100

// Outcome is the result of one submitted intent
type Outcome struct {
	Hash      string
	Action    intent.Action
	User      string
	Timestamp time.Time
	Success   bool
}

// Stats are counts over the retained outcomes
type Stats struct {
	Total   int
	Success int
	Failed  int
}

// Recorder is a fixed capacity ring of outcomes. Once full, the oldest entry is evicted.
type Recorder struct {
	mu       sync.RWMutex
	entries  []Outcome
	next     int
	full     bool
	capacity int
}

// NewRecorder creates a recorder retaining up to capacity outcomes
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Recorder{
		entries:  make([]Outcome, capacity),
		capacity: capacity,
	}
}

// Record appends an outcome
func (r *Recorder) Record(o Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = o
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
}

// Len returns the number of retained outcomes
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lenLocked()
}

func (r *Recorder) lenLocked() int {
	if r.full {
		return r.capacity
	}
	return r.next
}

// Recent returns up to n outcomes, newest timestamp first
func (r *Recorder) Recent(n int) []Outcome {
	r.mu.RLock()
	size := r.lenLocked()
	out := make([]Outcome, size)
	// newest insertion first, so equal timestamps keep arrival order
	for i := 0; i < size; i++ {
		out[i] = r.entries[(r.next-1-i+r.capacity)%r.capacity]
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if n >= 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// Stats counts outcomes over the retained window
func (r *Recorder) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var s Stats
	for _, o := range r.entries[:r.lenLocked()] {
		s.Total++
		if o.Success {
			s.Success++
		} else {
			s.Failed++
		}
	}
	return s
}
