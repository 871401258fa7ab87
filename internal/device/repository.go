package device

import (
	"context"
	"sync"
	"time"
)

// Repository defines the interface for device persistence.
type Repository interface {
	// GetByLibraryIdentifier retrieves a device by its platform identifier.
	GetByLibraryIdentifier(ctx context.Context, libraryID string) (*Device, error)

	// Upsert inserts the device or, when the library identifier already
	// exists, overwrites its push token, info, and last-seen timestamp.
	// Returns the stored device.
	Upsert(ctx context.Context, d *Device) (*Device, error)

	// TouchLastSeen refreshes a device's last-seen timestamp.
	TouchLastSeen(ctx context.Context, libraryID string, seenAt time.Time) error

	// ListAll returns every known device. Used by log correlation.
	ListAll(ctx context.Context) ([]*Device, error)

	// DeleteUnseenSince deletes devices not seen since the cutoff and
	// returns how many were removed. Dependent wallet-log rows keep their
	// content; their device reference is nulled, not cascaded away.
	DeleteUnseenSince(ctx context.Context, cutoff time.Time) (int, error)
}

// InMemoryRepository is an in-memory implementation of Repository used by
// tests.
type InMemoryRepository struct {
	mu      sync.RWMutex
	devices map[string]*Device // keyed by library identifier
}

// NewInMemoryRepository creates a new in-memory device repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{devices: make(map[string]*Device)}
}

// GetByLibraryIdentifier retrieves a device by its platform identifier.
func (r *InMemoryRepository) GetByLibraryIdentifier(_ context.Context, libraryID string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[libraryID]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return copyDevice(d), nil
}

// Upsert inserts or refreshes a device keyed by library identifier.
func (r *InMemoryRepository) Upsert(_ context.Context, d *Device) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.devices[d.LibraryIdentifier]; ok {
		existing.PushToken = d.PushToken
		existing.Info = d.Info
		existing.LastSeenAt = d.LastSeenAt
		return copyDevice(existing), nil
	}

	r.devices[d.LibraryIdentifier] = copyDevice(d)
	return copyDevice(d), nil
}

// TouchLastSeen refreshes a device's last-seen timestamp.
func (r *InMemoryRepository) TouchLastSeen(_ context.Context, libraryID string, seenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[libraryID]
	if !ok {
		return ErrDeviceNotFound
	}
	d.LastSeenAt = seenAt
	return nil
}

// ListAll returns every known device.
func (r *InMemoryRepository) ListAll(_ context.Context) ([]*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, copyDevice(d))
	}
	return out, nil
}

// DeleteUnseenSince deletes devices not seen since the cutoff.
func (r *InMemoryRepository) DeleteUnseenSince(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, d := range r.devices {
		if d.LastSeenAt.Before(cutoff) {
			delete(r.devices, key)
			removed++
		}
	}
	return removed, nil
}

// Ensure InMemoryRepository implements Repository.
var _ Repository = (*InMemoryRepository)(nil)
