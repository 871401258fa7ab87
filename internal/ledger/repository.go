package ledger

import (
	"context"
	"sync"
)

// Repository defines the interface for ledger persistence.
//
// Mutate is the only write path for existing entries: implementations must
// apply fn under row-level mutual exclusion so concurrent stamp scans on the
// same entry cannot lose updates.
type Repository interface {
	// Get retrieves an entry by ID.
	Get(ctx context.Context, id string) (*Entry, error)

	// GetByCustomerAndOffer retrieves the entry for a customer×offer pair.
	GetByCustomerAndOffer(ctx context.Context, customerID, offerID string) (*Entry, error)

	// Create creates a new entry. Fails with ErrEntryExists if the
	// customer×offer pair already has one.
	Create(ctx context.Context, entry *Entry) error

	// Mutate loads the entry by ID, applies fn, and persists the result,
	// all under a row lock. fn returning an error aborts the write and is
	// passed through unchanged.
	Mutate(ctx context.Context, id string, fn func(*Entry) error) (*Entry, error)
}

// InMemoryRepository is an in-memory implementation of Repository used by
// tests. A single mutex stands in for the database's row locks.
type InMemoryRepository struct {
	mu      sync.Mutex
	entries map[string]*Entry // keyed by entry ID
	byPair  map[string]string // customerID+"\x00"+offerID -> entry ID
}

// NewInMemoryRepository creates a new in-memory ledger repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		entries: make(map[string]*Entry),
		byPair:  make(map[string]string),
	}
}

func pairKey(customerID, offerID string) string {
	return customerID + "\x00" + offerID
}

// Get retrieves an entry by ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return copyEntry(entry), nil
}

// GetByCustomerAndOffer retrieves the entry for a customer×offer pair.
func (r *InMemoryRepository) GetByCustomerAndOffer(_ context.Context, customerID, offerID string) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byPair[pairKey(customerID, offerID)]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return copyEntry(r.entries[id]), nil
}

// Create creates a new entry.
func (r *InMemoryRepository) Create(_ context.Context, entry *Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey(entry.CustomerID, entry.OfferID)
	if _, ok := r.byPair[key]; ok {
		return ErrEntryExists
	}

	r.entries[entry.ID] = copyEntry(entry)
	r.byPair[key] = entry.ID
	return nil
}

// Mutate applies fn to the entry under the repository lock.
func (r *InMemoryRepository) Mutate(_ context.Context, id string, fn func(*Entry) error) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return nil, ErrEntryNotFound
	}

	working := copyEntry(entry)
	if err := fn(working); err != nil {
		return nil, err
	}

	r.entries[id] = working
	return copyEntry(working), nil
}

// Ensure InMemoryRepository implements Repository.
var _ Repository = (*InMemoryRepository)(nil)
