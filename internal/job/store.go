// Package job tracks asynchronous backtest runs: submission, status,
// and result retention. Runs live in memory with bounded capacity; the
// oldest run is evicted when a new one would exceed it.
package job

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quantlark/tracer/internal/backtest"
	"github.com/quantlark/tracer/internal/core"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one submitted backtest.
type Run struct {
	ID         string           `json:"id"`
	Symbol     string           `json:"symbol"`
	Interval   string           `json:"interval"`
	Mode       string           `json:"mode"`
	Status     Status           `json:"status"`
	Result     *backtest.Result `json:"result,omitempty"`
	ArchiveKey string           `json:"archive_key,omitempty"`
	Error      *core.Error      `json:"error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Store holds runs in memory with insertion-order eviction.
type Store struct {
	mu      sync.RWMutex
	runs    map[string]*Run
	order   []string
	maxSize int
	ttl     time.Duration
}

// NewStore creates a store keeping at most maxSize runs; runs idle for
// longer than ttl are removed by Sweep.
func NewStore(maxSize int, ttl time.Duration) *Store {
	return &Store{
		runs:    make(map[string]*Run),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Create registers a pending run and returns a copy of it.
func (s *Store) Create(symbol, interval, mode string) Run {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	run := &Run{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Interval:  interval,
		Mode:      mode,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if len(s.runs) >= s.maxSize && len(s.order) > 0 {
		oldest := s.order[0]
		delete(s.runs, oldest)
		s.order = s.order[1:]
	}

	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	return *run
}

// Get returns a copy of the run.
func (s *Store) Get(id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return Run{}, core.WrapErrorf(core.ErrRunNotFound, "run %s", id)
	}
	return *run, nil
}

// Update applies fn to the run under the store lock.
func (s *Store) Update(id string, fn func(*Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return core.WrapErrorf(core.ErrRunNotFound, "run %s", id)
	}
	fn(run)
	run.UpdatedAt = time.Now().UTC()
	return nil
}

// List returns copies of all runs, newest first.
func (s *Store) List() []Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Run, 0, len(s.runs))
	for i := len(s.order) - 1; i >= 0; i-- {
		if run, ok := s.runs[s.order[i]]; ok {
			out = append(out, *run)
		}
	}
	return out
}

// Sweep removes finished runs that have been idle past the TTL and
// returns how many were removed. Pending and running runs are kept.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-s.ttl)
	removed := 0
	kept := s.order[:0]
	for _, id := range s.order {
		run, ok := s.runs[id]
		if !ok {
			continue
		}
		done := run.Status == StatusCompleted || run.Status == StatusFailed
		if done && run.UpdatedAt.Before(cutoff) {
			delete(s.runs, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return removed
}

// Len is the number of stored runs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
