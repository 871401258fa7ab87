package logingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stampwise/stampwise/internal/device"
)

// DeviceSource lists registered devices for user-agent correlation.
type DeviceSource interface {
	ListAll(ctx context.Context) ([]*device.Device, error)
}

// FlagSource gates full storage.
type FlagSource interface {
	IsLogIngestSamplingOnly(ctx context.Context) bool
}

// NopFlags never samples.
type NopFlags struct{}

// IsLogIngestSamplingOnly always reports false.
func (NopFlags) IsLogIngestSamplingOnly(context.Context) bool { return false }

// Result reports what happened to one submission.
type Result struct {
	Received int
	Stored   int
}

// Service ingests wallet log submissions.
type Service struct {
	repo    Repository
	devices DeviceSource
	flags   FlagSource
	logger  zerolog.Logger
	now     func() time.Time

	spikeThreshold int

	mu      sync.Mutex
	arrived []time.Time // submission timestamps within the last minute
	counter uint64      // drives sampling under the sampling-only flag
}

// ServiceConfig holds configuration for the log ingest service.
type ServiceConfig struct {
	Repository Repository
	Devices    DeviceSource
	Flags      FlagSource

	// SpikeThreshold overrides the per-minute spike rate. Defaults to
	// DefaultSpikeThreshold.
	SpikeThreshold int

	Logger zerolog.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewService creates a new log ingest service.
func NewService(cfg ServiceConfig) *Service {
	flags := cfg.Flags
	if flags == nil {
		flags = NopFlags{}
	}
	threshold := cfg.SpikeThreshold
	if threshold <= 0 {
		threshold = DefaultSpikeThreshold
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:           cfg.Repository,
		devices:        cfg.Devices,
		flags:          flags,
		logger:         cfg.Logger,
		now:            now,
		spikeThreshold: threshold,
	}
}

// Ingest stores the submitted log lines. It never returns an error: the
// protocol promises devices a 200 regardless, so storage problems are
// logged and swallowed here rather than bubbled to the handler.
func (s *Service) Ingest(ctx context.Context, logs []string, userAgent string) Result {
	result := Result{Received: len(logs)}
	if len(logs) == 0 {
		return result
	}

	now := s.now()
	if rate := s.recordArrival(now); rate > s.spikeThreshold {
		s.logger.Warn().
			Int("per_minute", rate).
			Int("threshold", s.spikeThreshold).
			Msg("wallet log submission spike")
	}

	deviceID := s.correlateDevice(ctx, userAgent)
	samplingOnly := s.flags.IsLogIngestSamplingOnly(ctx)

	records := make([]*Record, 0, len(logs))
	for _, line := range logs {
		if samplingOnly && !s.sampleKeep() {
			continue
		}
		records = append(records, &Record{
			ID:         "wlg_" + uuid.New().String()[:22],
			Message:    line,
			Pattern:    Classify(line),
			DeviceID:   deviceID,
			UserAgent:  userAgent,
			ReceivedAt: now,
		})
	}

	if len(records) > 0 {
		if err := s.repo.Insert(ctx, records); err != nil {
			s.logger.Error().Err(err).Int("count", len(records)).Msg("failed to store wallet logs")
			return result
		}
	}
	result.Stored = len(records)

	for _, rec := range records {
		if rec.Pattern != PatternOther {
			s.logger.Info().
				Str("pattern", string(rec.Pattern)).
				Str("message", rec.Message).
				Msg("wallet reported pass error")
		}
	}
	return result
}

// Classify buckets a log line by failure class. Wallets phrase these
// messages differently across OS versions, so matching is substring-based.
func Classify(line string) Pattern {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "signature"):
		return PatternSignature
	case strings.Contains(lower, "certificate"), strings.Contains(lower, "trust"):
		return PatternCertificate
	case strings.Contains(lower, "manifest"):
		return PatternManifest
	case strings.Contains(lower, "image"), strings.Contains(lower, "icon"),
		strings.Contains(lower, "logo"), strings.Contains(lower, "strip"):
		return PatternImage
	default:
		return PatternOther
	}
}

// correlateDevice matches the submitting user agent to a registered
// device. Exact match only: a fuzzy match would attribute one device's
// errors to another.
func (s *Service) correlateDevice(ctx context.Context, userAgent string) *string {
	if userAgent == "" {
		return nil
	}
	devices, err := s.devices.ListAll(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("device correlation lookup failed")
		return nil
	}
	for _, d := range devices {
		if d.Info.UserAgent != "" && d.Info.UserAgent == userAgent {
			id := d.ID
			return &id
		}
	}
	return nil
}

// recordArrival notes a submission and returns the rolling one-minute
// count.
func (s *Service) recordArrival(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-time.Minute)
	kept := s.arrived[:0]
	for _, t := range s.arrived {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.arrived = append(kept, now)
	return len(s.arrived)
}

// sampleKeep decides whether a line survives sampling-only mode.
func (s *Service) sampleKeep() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	return s.counter%SamplingDivisor == 1
}
