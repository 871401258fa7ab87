package device

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service provides device registry operations.
type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

// ServiceConfig holds configuration for the device service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewService creates a new device service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: cfg.Repository, logger: cfg.Logger, now: now}
}

// FindOrRegister upserts a device by library identifier: a new device is
// created, an existing one gets its push token overwritten (devices rotate
// tokens) and its last-seen refreshed.
func (s *Service) FindOrRegister(ctx context.Context, libraryID, pushToken string, info Info) (*Device, error) {
	now := s.now()
	return s.repo.Upsert(ctx, &Device{
		ID:                "dev_" + uuid.New().String()[:22],
		LibraryIdentifier: libraryID,
		PushToken:         pushToken,
		Info:              info,
		LastSeenAt:        now,
		CreatedAt:         now,
	})
}

// Find retrieves a device by library identifier without mutating it.
func (s *Service) Find(ctx context.Context, libraryID string) (*Device, error) {
	return s.repo.GetByLibraryIdentifier(ctx, libraryID)
}

// ListAll returns every known device. Wallet-log correlation scans it for
// a user-agent match.
func (s *Service) ListAll(ctx context.Context) ([]*Device, error) {
	return s.repo.ListAll(ctx)
}

// TouchLastSeen marks the device as seen now.
func (s *Service) TouchLastSeen(ctx context.Context, libraryID string) error {
	return s.repo.TouchLastSeen(ctx, libraryID, s.now())
}

// PruneUnseen deletes devices unseen for the retention window and returns
// how many were removed. Called from the retention sweep, never the
// request path.
func (s *Service) PruneUnseen(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-RetentionWindow)
	removed, err := s.repo.DeleteUnseenSince(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info().
			Int("removed", removed).
			Time("cutoff", cutoff).
			Msg("pruned unseen devices")
	}
	return removed, nil
}
