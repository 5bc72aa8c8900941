// Package ledger implements an in-process capacity ledger: a set of bounded
// counters, one per key, whose check-and-increment is a single indivisible step.
//
// Every entry owns its own lock, so commits against different keys never contend.
// Commits against the same key are serialized; the Nth successful commit is the
// Nth unit of capacity consumed.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

var (
	// ErrFull is returned by TryCommit when the entry has no remaining capacity.
	ErrFull = errors.New("ledger: capacity exhausted")
	// ErrUnknownEntry is returned when a key was never opened.
	ErrUnknownEntry = errors.New("ledger: unknown entry")
	// ErrNotCommitted is returned by Release when no matching commit exists.
	// Callers must treat it as an internal-consistency defect.
	ErrNotCommitted = errors.New("ledger: release without matching commit")
	// ErrCapacityMismatch is returned when an open entry is re-opened with a different capacity.
	ErrCapacityMismatch = errors.New("ledger: entry already open with a different capacity")
	// ErrInvalidCapacity rejects non-positive capacities and out-of-range restores.
	ErrInvalidCapacity = errors.New("ledger: invalid capacity")
)

// Entry is a point-in-time view of one counter.
type Entry struct {
	Capacity  int `json:"capacity"`
	Committed int `json:"committed"`
}

// Available returns the remaining capacity.
func (e Entry) Available() int {
	if e.Committed >= e.Capacity {
		return 0
	}
	return e.Capacity - e.Committed
}

type entry struct {
	lock      *semaphore.Weighted
	capacity  int
	committed int
}

// Ledger holds bounded counters keyed by K.
type Ledger[K comparable] struct {
	mu      sync.RWMutex
	entries map[K]*entry
}

// New returns an empty ledger.
func New[K comparable]() *Ledger[K] {
	return &Ledger[K]{entries: make(map[K]*entry)}
}

// Open creates the entry for key with the given capacity. Re-opening with the
// same capacity is a no-op.
func (l *Ledger[K]) Open(_ context.Context, key K, capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.entries[key]; ok {
		if existing.capacity != capacity {
			return fmt.Errorf("%w: have %d, got %d", ErrCapacityMismatch, existing.capacity, capacity)
		}
		return nil
	}
	l.entries[key] = &entry{lock: semaphore.NewWeighted(1), capacity: capacity}
	return nil
}

// Restore sets an entry from durable state, replacing any in-memory value.
// It is meant for start-up hydration before traffic is admitted.
func (l *Ledger[K]) Restore(key K, capacity, committed int) error {
	if capacity <= 0 || committed < 0 || committed > capacity {
		return fmt.Errorf("%w: capacity=%d committed=%d", ErrInvalidCapacity, capacity, committed)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = &entry{lock: semaphore.NewWeighted(1), capacity: capacity, committed: committed}
	return nil
}

// TryCommit consumes one unit of capacity for key. It blocks only while waiting
// for the entry lock; if ctx ends first nothing is committed.
func (l *Ledger[K]) TryCommit(ctx context.Context, key K) error {
	e, err := l.lookup(key)
	if err != nil {
		return err
	}
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.lock.Release(1)
	// Acquire may succeed on an already finished context.
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.committed >= e.capacity {
		return ErrFull
	}
	e.committed++
	return nil
}

// Release returns one unit of capacity for key.
func (l *Ledger[K]) Release(ctx context.Context, key K) error {
	e, err := l.lookup(key)
	if err != nil {
		return err
	}
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.lock.Release(1)
	if e.committed == 0 {
		return ErrNotCommitted
	}
	e.committed--
	return nil
}

// Entry returns the current counter for key.
func (l *Ledger[K]) Entry(ctx context.Context, key K) (Entry, error) {
	e, err := l.lookup(key)
	if err != nil {
		return Entry{}, err
	}
	if err := e.lock.Acquire(ctx, 1); err != nil {
		return Entry{}, err
	}
	defer e.lock.Release(1)
	return Entry{Capacity: e.capacity, Committed: e.committed}, nil
}

// Keys lists every opened key in no particular order.
func (l *Ledger[K]) Keys() []K {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys := make([]K, 0, len(l.entries))
	for k := range l.entries {
		keys = append(keys, k)
	}
	return keys
}

func (l *Ledger[K]) lookup(key K) (*entry, error) {
	l.mu.RLock()
	e, ok := l.entries[key]
	l.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownEntry
	}
	return e, nil
}
