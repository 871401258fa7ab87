package registration

import (
	"context"
	"sync"
	"time"
)

// Repository defines the interface for registration persistence.
type Repository interface {
	// Get retrieves the registration for a device-pass pair.
	Get(ctx context.Context, deviceLibraryID, passID string) (*Registration, error)

	// Upsert creates the registration if the device-pass pair is new and
	// returns the stored row. An existing pair only gets its last-checked
	// refreshed, so RegisteredAt == LastCheckedAt on the returned row
	// tells callers the row was just created.
	Upsert(ctx context.Context, r *Registration) (*Registration, error)

	// Delete removes the registration for a device-pass pair and reports
	// whether one existed.
	Delete(ctx context.Context, deviceLibraryID, passID string) (bool, error)

	// ListPassIDsForDevice returns the pass ids a device is registered
	// for, scoped to one pass type.
	ListPassIDsForDevice(ctx context.Context, deviceLibraryID, passTypeID string) ([]string, error)

	// ListForPass returns every registration for a pass, for dispatch
	// fan-out.
	ListForPass(ctx context.Context, passID string) ([]*Registration, error)

	// TouchLastChecked records that the device polled for updates.
	TouchLastChecked(ctx context.Context, deviceLibraryID, passTypeID string, at time.Time) error

	// DeleteUncheckedSince removes registrations not checked since the
	// cutoff and returns how many were removed.
	DeleteUncheckedSince(ctx context.Context, cutoff time.Time) (int, error)
}

// InMemoryRepository is an in-memory implementation of Repository used by
// tests.
type InMemoryRepository struct {
	mu   sync.Mutex
	rows map[string]*Registration // keyed by deviceLibraryID + passID
}

// NewInMemoryRepository creates a new in-memory registration repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{rows: make(map[string]*Registration)}
}

func pairKey(deviceLibraryID, passID string) string {
	return deviceLibraryID + "\x00" + passID
}

// Get retrieves the registration for a device-pass pair.
func (r *InMemoryRepository) Get(_ context.Context, deviceLibraryID, passID string) (*Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.rows[pairKey(deviceLibraryID, passID)]
	if !ok {
		return nil, ErrRegistrationNotFound
	}
	return copyRegistration(row), nil
}

// Upsert creates the registration if new, returning the stored row either way.
func (r *InMemoryRepository) Upsert(_ context.Context, reg *Registration) (*Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey(reg.DeviceLibraryID, reg.PassID)
	if existing, ok := r.rows[key]; ok {
		existing.LastCheckedAt = reg.LastCheckedAt
		return copyRegistration(existing), nil
	}
	r.rows[key] = copyRegistration(reg)
	return copyRegistration(reg), nil
}

// Delete removes the registration for a device-pass pair.
func (r *InMemoryRepository) Delete(_ context.Context, deviceLibraryID, passID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := pairKey(deviceLibraryID, passID)
	if _, ok := r.rows[key]; !ok {
		return false, nil
	}
	delete(r.rows, key)
	return true, nil
}

// ListPassIDsForDevice returns the pass ids a device is registered for.
func (r *InMemoryRepository) ListPassIDsForDevice(_ context.Context, deviceLibraryID, passTypeID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for _, row := range r.rows {
		if row.DeviceLibraryID == deviceLibraryID && row.PassTypeID == passTypeID {
			ids = append(ids, row.PassID)
		}
	}
	return ids, nil
}

// ListForPass returns every registration for a pass.
func (r *InMemoryRepository) ListForPass(_ context.Context, passID string) ([]*Registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*Registration
	for _, row := range r.rows {
		if row.PassID == passID {
			out = append(out, copyRegistration(row))
		}
	}
	return out, nil
}

// TouchLastChecked records that the device polled for updates.
func (r *InMemoryRepository) TouchLastChecked(_ context.Context, deviceLibraryID, passTypeID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows {
		if row.DeviceLibraryID == deviceLibraryID && row.PassTypeID == passTypeID {
			row.LastCheckedAt = at
		}
	}
	return nil
}

// DeleteUncheckedSince removes registrations not checked since the cutoff.
func (r *InMemoryRepository) DeleteUncheckedSince(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, row := range r.rows {
		if row.LastCheckedAt.Before(cutoff) {
			delete(r.rows, key)
			removed++
		}
	}
	return removed, nil
}

// Ensure InMemoryRepository implements Repository.
var _ Repository = (*InMemoryRepository)(nil)
