package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stampwise/stampwise/internal/device"
	"github.com/stampwise/stampwise/internal/pass"
	"github.com/stampwise/stampwise/internal/push"
	"github.com/stampwise/stampwise/internal/registration"
)

// PassSource refreshes pass state before the fan-out.
type PassSource interface {
	MarkChanged(ctx context.Context, passID string) (*pass.Record, error)
}

// RegistrationSource lists the devices holding a pass.
type RegistrationSource interface {
	ListForPass(ctx context.Context, passID string) ([]*registration.Registration, error)
}

// DeviceSource resolves device library identifiers to push tokens.
type DeviceSource interface {
	Find(ctx context.Context, libraryID string) (*device.Device, error)
}

// FlagSource gates sending.
type FlagSource interface {
	IsPushSendingDisabled(ctx context.Context) bool
}

// NopFlags never disables sending.
type NopFlags struct{}

// IsPushSendingDisabled always reports false.
func (NopFlags) IsPushSendingDisabled(context.Context) bool { return false }

// Service dispatches pass-change notifications.
type Service struct {
	history       Repository
	passes        PassSource
	registrations RegistrationSource
	devices       DeviceSource
	sender        push.Sender
	flags         FlagSource
	dailyCap      int
	location      *time.Location
	logger        zerolog.Logger
	now           func() time.Time
}

// ServiceConfig holds configuration for the dispatcher.
type ServiceConfig struct {
	History       Repository
	Passes        PassSource
	Registrations RegistrationSource
	Devices       DeviceSource
	Sender        push.Sender
	Flags         FlagSource

	// DailyCap limits pushes per pass per local day. Defaults to
	// DefaultDailyCap.
	DailyCap int

	// Location defines the calendar day for the cap. Defaults to
	// time.Local.
	Location *time.Location

	Logger zerolog.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewService creates a new dispatcher.
func NewService(cfg ServiceConfig) *Service {
	flags := cfg.Flags
	if flags == nil {
		flags = NopFlags{}
	}
	dailyCap := cfg.DailyCap
	if dailyCap <= 0 {
		dailyCap = DefaultDailyCap
	}
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		history:       cfg.History,
		passes:        cfg.Passes,
		registrations: cfg.Registrations,
		devices:       cfg.Devices,
		sender:        cfg.Sender,
		flags:         flags,
		dailyCap:      dailyCap,
		location:      location,
		logger:        cfg.Logger,
		now:           now,
	}
}

// Dispatch refreshes the pass and pushes a silent notification to every
// registered device. Individual device failures are collected in the
// result, never raised; a pass with no registered devices dispatches
// successfully as a no-op.
func (s *Service) Dispatch(ctx context.Context, passID string) (*DispatchResult, error) {
	result := &DispatchResult{PassID: passID}

	if s.flags.IsPushSendingDisabled(ctx) {
		s.logger.Warn().Str("pass_id", passID).Msg("push sending disabled, skipping dispatch")
		result.PushDisabled = true
		return result, nil
	}

	// The snapshot refresh happens before the push so devices that react
	// immediately fetch the new content, not the old.
	if _, err := s.passes.MarkChanged(ctx, passID); err != nil {
		return nil, err
	}

	regs, err := s.registrations.ListForPass(ctx, passID)
	if err != nil {
		return nil, err
	}
	result.Devices = len(regs)
	if len(regs) == 0 {
		return result, nil
	}

	now := s.now()
	sentToday, err := s.history.CountSince(ctx, passID, startOfDay(now, s.location))
	if err != nil {
		return nil, err
	}
	if sentToday >= s.dailyCap {
		s.logger.Info().
			Str("pass_id", passID).
			Int("sent_today", sentToday).
			Int("cap", s.dailyCap).
			Msg("daily push cap reached, suppressing dispatch")
		result.CapExceeded = true
		return result, nil
	}

	tokens := make([]string, 0, len(regs))
	tokenOwner := make(map[string]string, len(regs))
	for _, reg := range regs {
		dev, err := s.devices.Find(ctx, reg.DeviceLibraryID)
		if err != nil {
			if errors.Is(err, device.ErrDeviceNotFound) {
				result.Failures = append(result.Failures, DeviceFailure{
					DeviceLibraryID: reg.DeviceLibraryID,
					Reason:          "device no longer registered",
				})
				continue
			}
			return nil, err
		}
		tokens = append(tokens, dev.PushToken)
		tokenOwner[dev.PushToken] = reg.DeviceLibraryID
	}

	if len(tokens) > 0 {
		batch, err := s.sender.SendBatch(ctx, tokens)
		if err != nil {
			// Total provider outage. The pass state is already
			// refreshed; devices will pick it up on their next poll.
			s.logger.Error().Err(err).Str("pass_id", passID).Msg("push batch failed")
			for _, reg := range regs {
				result.Failures = append(result.Failures, DeviceFailure{
					DeviceLibraryID: reg.DeviceLibraryID,
					Reason:          err.Error(),
				})
			}
		} else {
			result.Sent = batch.Sent
			result.InvalidTokens = len(batch.InvalidTokens)
			for _, f := range batch.Failures {
				result.Failures = append(result.Failures, DeviceFailure{
					DeviceLibraryID: tokenOwner[f.Token],
					Reason:          f.Reason,
				})
			}
			for _, token := range batch.InvalidTokens {
				s.logger.Info().
					Str("device_library_id", tokenOwner[token]).
					Msg("push token reported dead")
			}
		}
	}

	s.record(ctx, &HistoryEntry{
		ID:          "ntf_" + uuid.New().String()[:22],
		PassID:      passID,
		Type:        TypePassUpdate,
		SentAt:      now,
		CountAtSend: sentToday + 1,
	})

	s.logger.Info().
		Str("pass_id", passID).
		Int("devices", result.Devices).
		Int("sent", result.Sent).
		Int("failed", len(result.Failures)).
		Msg("pass change dispatched")
	return result, nil
}

// record appends to the history and prunes the window. History writes are
// best-effort; a bookkeeping failure must not fail the dispatch.
func (s *Service) record(ctx context.Context, e *HistoryEntry) {
	if err := s.history.Append(ctx, e); err != nil {
		s.logger.Warn().Err(err).Str("pass_id", e.PassID).Msg("failed to append notification history")
		return
	}
	if _, err := s.history.PruneBefore(ctx, e.SentAt.Add(-HistoryWindow)); err != nil {
		s.logger.Warn().Err(err).Msg("failed to prune notification history")
	}
}

// startOfDay returns midnight of the timestamp's calendar day in loc.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
