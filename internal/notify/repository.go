package notify

import (
	"context"
	"sync"
	"time"
)

// Repository persists the per-pass send history.
type Repository interface {
	// Append stores a history entry.
	Append(ctx context.Context, e *HistoryEntry) error

	// CountSince counts entries for a pass sent at or after the cutoff.
	CountSince(ctx context.Context, passID string, since time.Time) (int, error)

	// PruneBefore deletes entries older than the cutoff and returns how
	// many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// InMemoryRepository is an in-memory implementation of Repository used by
// tests.
type InMemoryRepository struct {
	mu      sync.Mutex
	entries []*HistoryEntry
}

// NewInMemoryRepository creates a new in-memory history repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// Append stores a history entry.
func (r *InMemoryRepository) Append(_ context.Context, e *HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *e
	r.entries = append(r.entries, &c)
	return nil
}

// CountSince counts entries for a pass sent at or after the cutoff.
func (r *InMemoryRepository) CountSince(_ context.Context, passID string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, e := range r.entries {
		if e.PassID == passID && !e.SentAt.Before(since) {
			count++
		}
	}
	return count, nil
}

// PruneBefore deletes entries older than the cutoff.
func (r *InMemoryRepository) PruneBefore(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	removed := 0
	for _, e := range r.entries {
		if e.SentAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	r.entries = kept
	return removed, nil
}

// Len reports how many entries are stored, for tests.
func (r *InMemoryRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Ensure InMemoryRepository implements Repository.
var _ Repository = (*InMemoryRepository)(nil)
