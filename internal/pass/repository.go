package pass

import (
	"context"
	"sync"
	"time"
)

// Repository defines the interface for pass persistence.
type Repository interface {
	// Get retrieves a pass by internal ID. Soft-deleted passes are not
	// returned.
	Get(ctx context.Context, id string) (*Record, error)

	// GetBySerial retrieves an Apple pass by serial number.
	GetBySerial(ctx context.Context, serial string) (*Record, error)

	// GetByCustomerOfferPlatform retrieves the pass for the unique triple.
	GetByCustomerOfferPlatform(ctx context.Context, customerID, offerID string, platform Platform) (*Record, error)

	// Create creates a new pass record.
	Create(ctx context.Context, r *Record) error

	// Update persists the full row. Record-level methods always
	// read-modify-write whole rows; there are no partial field updates.
	Update(ctx context.Context, r *Record) error

	// EnsureAuthToken returns the pass's auth token, atomically storing
	// candidate if none is set yet. Concurrent first callers all receive
	// the same winning token.
	EnsureAuthToken(ctx context.Context, id, candidate string) (string, error)

	// ListByIDs retrieves passes by internal ID, skipping unknown ids.
	ListByIDs(ctx context.Context, ids []string) ([]*Record, error)

	// SoftDeleteExpiredBefore soft-deletes passes whose scheduled
	// expiration is older than the cutoff. Returns how many were marked.
	SoftDeleteExpiredBefore(ctx context.Context, cutoff, deletedAt time.Time) (int, error)
}

// InMemoryRepository is an in-memory implementation of Repository used by
// tests.
type InMemoryRepository struct {
	mu       sync.Mutex
	records  map[string]*Record // keyed by pass ID
	bySerial map[string]string  // apple serial -> pass ID
}

// NewInMemoryRepository creates a new in-memory pass repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		records:  make(map[string]*Record),
		bySerial: make(map[string]string),
	}
}

func tripleKey(customerID, offerID string, platform Platform) string {
	return customerID + "\x00" + offerID + "\x00" + string(platform)
}

// Get retrieves a pass by internal ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.DeletedAt != nil {
		return nil, ErrPassNotFound
	}
	return copyRecord(rec), nil
}

// GetBySerial retrieves an Apple pass by serial number.
func (r *InMemoryRepository) GetBySerial(_ context.Context, serial string) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.bySerial[serial]
	if !ok {
		return nil, ErrPassNotFound
	}
	rec := r.records[id]
	if rec == nil || rec.DeletedAt != nil {
		return nil, ErrPassNotFound
	}
	return copyRecord(rec), nil
}

// GetByCustomerOfferPlatform retrieves the pass for the unique triple.
func (r *InMemoryRepository) GetByCustomerOfferPlatform(_ context.Context, customerID, offerID string, platform Platform) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range r.records {
		if rec.DeletedAt == nil &&
			rec.CustomerID == customerID && rec.OfferID == offerID && rec.Platform == platform {
			return copyRecord(rec), nil
		}
	}
	return nil, ErrPassNotFound
}

// Create creates a new pass record.
func (r *InMemoryRepository) Create(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.records {
		if existing.CustomerID == rec.CustomerID &&
			existing.OfferID == rec.OfferID &&
			existing.Platform == rec.Platform {
			return ErrPassExists
		}
	}

	r.records[rec.ID] = copyRecord(rec)
	if rec.SerialNumber != "" {
		r.bySerial[rec.SerialNumber] = rec.ID
	}
	return nil
}

// Update persists the full row.
func (r *InMemoryRepository) Update(_ context.Context, rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.ID]; !ok {
		return ErrPassNotFound
	}
	r.records[rec.ID] = copyRecord(rec)
	return nil
}

// EnsureAuthToken returns the stored token, setting candidate if absent.
func (r *InMemoryRepository) EnsureAuthToken(_ context.Context, id, candidate string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.DeletedAt != nil {
		return "", ErrPassNotFound
	}
	if rec.AuthToken == "" {
		rec.AuthToken = candidate
	}
	return rec.AuthToken, nil
}

// ListByIDs retrieves passes by internal ID.
func (r *InMemoryRepository) ListByIDs(_ context.Context, ids []string) ([]*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.records[id]; ok && rec.DeletedAt == nil {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

// SoftDeleteExpiredBefore soft-deletes passes expired before the cutoff.
func (r *InMemoryRepository) SoftDeleteExpiredBefore(_ context.Context, cutoff, deletedAt time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	marked := 0
	for _, rec := range r.records {
		if rec.DeletedAt == nil &&
			rec.ScheduledExpirationAt != nil &&
			rec.ScheduledExpirationAt.Before(cutoff) {
			at := deletedAt
			rec.DeletedAt = &at
			rec.Status = StatusDeleted
			marked++
		}
	}
	return marked, nil
}

// Ensure InMemoryRepository implements Repository.
var _ Repository = (*InMemoryRepository)(nil)
