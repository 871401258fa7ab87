package registration

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stampwise/stampwise/internal/device"
	"github.com/stampwise/stampwise/internal/pass"
)

// Service provides registration index operations. Listing updated serials
// needs pass state, so the service composes the registration repository
// with the pass repository rather than joining across stores.
type Service struct {
	repo   Repository
	passes pass.Repository
	logger zerolog.Logger
	now    func() time.Time
}

// ServiceConfig holds configuration for the registration service.
type ServiceConfig struct {
	Repository     Repository
	PassRepository pass.Repository
	Logger         zerolog.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewService creates a new registration service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:   cfg.Repository,
		passes: cfg.PassRepository,
		logger: cfg.Logger,
		now:    now,
	}
}

// Register links a device to a pass. The boolean reports whether a new link
// was created; re-registering an existing pair is a no-op.
func (s *Service) Register(ctx context.Context, dev *device.Device, rec *pass.Record, passTypeID string) (bool, error) {
	now := s.now()
	stored, err := s.repo.Upsert(ctx, &Registration{
		ID:              "reg_" + uuid.New().String()[:22],
		DeviceID:        dev.ID,
		DeviceLibraryID: dev.LibraryIdentifier,
		PassID:          rec.ID,
		PassTypeID:      passTypeID,
		RegisteredAt:    now,
		LastCheckedAt:   now,
	})
	if err != nil {
		return false, err
	}
	// A freshly created row has never been checked separately from its
	// registration.
	created := stored.RegisteredAt.Equal(stored.LastCheckedAt)
	if created {
		s.logger.Info().
			Str("device_library_id", dev.LibraryIdentifier).
			Str("pass_id", rec.ID).
			Msg("device registered for pass updates")
	}
	return created, nil
}

// Unregister removes the device-pass link and reports whether one existed.
func (s *Service) Unregister(ctx context.Context, deviceLibraryID, passID string) (bool, error) {
	existed, err := s.repo.Delete(ctx, deviceLibraryID, passID)
	if err != nil {
		return false, err
	}
	if existed {
		s.logger.Info().
			Str("device_library_id", deviceLibraryID).
			Str("pass_id", passID).
			Msg("device unregistered from pass updates")
	}
	return existed, nil
}

// UpdatedPassSerials returns the serial numbers of the device's registered
// Apple passes whose update tag is strictly newer than sinceTag, together
// with the newest tag among them for the device to present next time. An
// empty sinceTag matches every registered pass. The device's registrations
// are touched as a side effect so the staleness sweep sees it as alive.
func (s *Service) UpdatedPassSerials(ctx context.Context, deviceLibraryID, passTypeID, sinceTag string) ([]string, string, error) {
	ids, err := s.repo.ListPassIDsForDevice(ctx, deviceLibraryID, passTypeID)
	if err != nil {
		return nil, "", err
	}
	if err := s.repo.TouchLastChecked(ctx, deviceLibraryID, passTypeID, s.now()); err != nil {
		s.logger.Warn().Err(err).
			Str("device_library_id", deviceLibraryID).
			Msg("failed to touch registration last-checked")
	}
	if len(ids) == 0 {
		return nil, "", nil
	}

	records, err := s.passes.ListByIDs(ctx, ids)
	if err != nil {
		return nil, "", err
	}

	var (
		serials []string
		newest  *pass.Record
	)
	for _, rec := range records {
		if rec.Platform != pass.PlatformApple || rec.Status != pass.StatusActive {
			continue
		}
		if !rec.TagAfter(sinceTag) {
			continue
		}
		serials = append(serials, rec.SerialNumber)
		if newest == nil || rec.TagAfter(newest.UpdateTag) {
			newest = rec
		}
	}
	if newest == nil {
		return nil, "", nil
	}
	return serials, newest.UpdateTag, nil
}

// ListForPass returns every registration for a pass, for dispatch fan-out.
func (s *Service) ListForPass(ctx context.Context, passID string) ([]*Registration, error) {
	return s.repo.ListForPass(ctx, passID)
}

// PruneStale removes registrations unchecked for the stale window and
// returns how many were removed. Called from the retention sweep.
func (s *Service) PruneStale(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-StaleWindow)
	removed, err := s.repo.DeleteUncheckedSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info().
			Int("removed", removed).
			Time("cutoff", cutoff).
			Msg("pruned stale registrations")
	}
	return removed, nil
}
