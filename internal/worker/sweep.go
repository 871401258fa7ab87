// Package worker provides background job processing for Stampwise.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DevicePruner removes devices that have not been seen recently.
type DevicePruner interface {
	PruneUnseen(ctx context.Context) (int, error)
}

// RegistrationPruner removes registrations whose device stopped polling.
type RegistrationPruner interface {
	PruneStale(ctx context.Context) (int, error)
}

// PassPruner soft-deletes passes past their expiration retention window.
type PassPruner interface {
	PruneDeleted(ctx context.Context) (int, error)
}

// SweepConfig holds configuration for the retention sweep job.
type SweepConfig struct {
	// Timeout bounds a single sweep run. Default: 2 minutes.
	Timeout time.Duration

	Devices       DevicePruner
	Registrations RegistrationPruner
	Passes        PassPruner

	Logger zerolog.Logger
}

// SweepResult contains the outcome of one retention sweep.
type SweepResult struct {
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	DevicesRemoved       int
	RegistrationsRemoved int
	PassesMarked         int

	Errors []SweepError
}

// SweepError records a failed stage. Stages are independent, so one
// failure does not stop the others.
type SweepError struct {
	Stage string
	Error string
}

// SweepMetrics tracks cumulative sweep statistics.
type SweepMetrics struct {
	mu sync.RWMutex

	TotalSweeps          int64
	FailedStages         int64
	DevicesRemoved       int64
	RegistrationsRemoved int64
	PassesMarked         int64

	LastSweepAt       time.Time
	LastSweepDuration time.Duration
}

// SweepJob runs the retention sweep over devices, registrations and
// passes.
type SweepJob struct {
	config  SweepConfig
	logger  zerolog.Logger
	metrics *SweepMetrics
}

// NewSweepJob creates a new retention sweep job.
func NewSweepJob(cfg SweepConfig) *SweepJob {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	return &SweepJob{
		config:  cfg,
		logger:  cfg.Logger,
		metrics: &SweepMetrics{},
	}
}

// Run executes one retention sweep. The order matters: registrations go
// before devices so a stale registration never pins its device, and
// passes go last because pass soft-deletion is independent of both.
func (j *SweepJob) Run(ctx context.Context) *SweepResult {
	startTime := time.Now()
	result := &SweepResult{StartTime: startTime}

	sweepCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	j.logger.Info().Msg("starting retention sweep")

	if j.config.Registrations != nil {
		removed, err := j.config.Registrations.PruneStale(sweepCtx)
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Stage: "registrations", Error: err.Error()})
		} else {
			result.RegistrationsRemoved = removed
		}
	}

	if j.config.Devices != nil {
		removed, err := j.config.Devices.PruneUnseen(sweepCtx)
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Stage: "devices", Error: err.Error()})
		} else {
			result.DevicesRemoved = removed
		}
	}

	if j.config.Passes != nil {
		marked, err := j.config.Passes.PruneDeleted(sweepCtx)
		if err != nil {
			result.Errors = append(result.Errors, SweepError{Stage: "passes", Error: err.Error()})
		} else {
			result.PassesMarked = marked
		}
	}

	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(startTime)

	j.updateMetrics(result)

	event := j.logger.Info()
	if len(result.Errors) > 0 {
		event = j.logger.Warn()
	}
	event.
		Dur("duration", result.Duration).
		Int("devices_removed", result.DevicesRemoved).
		Int("registrations_removed", result.RegistrationsRemoved).
		Int("passes_marked", result.PassesMarked).
		Int("failed_stages", len(result.Errors)).
		Msg("retention sweep completed")

	return result
}

func (j *SweepJob) updateMetrics(result *SweepResult) {
	j.metrics.mu.Lock()
	defer j.metrics.mu.Unlock()

	j.metrics.TotalSweeps++
	j.metrics.FailedStages += int64(len(result.Errors))
	j.metrics.DevicesRemoved += int64(result.DevicesRemoved)
	j.metrics.RegistrationsRemoved += int64(result.RegistrationsRemoved)
	j.metrics.PassesMarked += int64(result.PassesMarked)
	j.metrics.LastSweepAt = result.EndTime
	j.metrics.LastSweepDuration = result.Duration
}

// GetMetrics returns a copy of the current metrics.
func (j *SweepJob) GetMetrics() SweepMetrics {
	j.metrics.mu.RLock()
	defer j.metrics.mu.RUnlock()

	return SweepMetrics{
		TotalSweeps:          j.metrics.TotalSweeps,
		FailedStages:         j.metrics.FailedStages,
		DevicesRemoved:       j.metrics.DevicesRemoved,
		RegistrationsRemoved: j.metrics.RegistrationsRemoved,
		PassesMarked:         j.metrics.PassesMarked,
		LastSweepAt:          j.metrics.LastSweepAt,
		LastSweepDuration:    j.metrics.LastSweepDuration,
	}
}

// MetricsSnapshot returns the current metrics as a map.
func (j *SweepJob) MetricsSnapshot() map[string]interface{} {
	m := j.GetMetrics()
	return map[string]interface{}{
		"total_sweeps":          m.TotalSweeps,
		"failed_stages":         m.FailedStages,
		"devices_removed":       m.DevicesRemoved,
		"registrations_removed": m.RegistrationsRemoved,
		"passes_marked":         m.PassesMarked,
		"last_sweep_at":         m.LastSweepAt,
		"last_sweep_duration":   m.LastSweepDuration.String(),
	}
}
