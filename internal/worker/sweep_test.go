package worker

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type stubPruner struct {
	removed int
	err     error
	calls   int
}

func (s *stubPruner) prune(context.Context) (int, error) {
	s.calls++
	return s.removed, s.err
}

func (s *stubPruner) PruneUnseen(ctx context.Context) (int, error)  { return s.prune(ctx) }
func (s *stubPruner) PruneStale(ctx context.Context) (int, error)   { return s.prune(ctx) }
func (s *stubPruner) PruneDeleted(ctx context.Context) (int, error) { return s.prune(ctx) }

func TestSweepJob_RunsAllStages(t *testing.T) {
	devices := &stubPruner{removed: 3}
	registrations := &stubPruner{removed: 7}
	passes := &stubPruner{removed: 2}

	job := NewSweepJob(SweepConfig{
		Devices:       devices,
		Registrations: registrations,
		Passes:        passes,
		Logger:        zerolog.Nop(),
	})

	result := job.Run(context.Background())

	assert.Equal(t, 3, result.DevicesRemoved)
	assert.Equal(t, 7, result.RegistrationsRemoved)
	assert.Equal(t, 2, result.PassesMarked)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, devices.calls)
	assert.Equal(t, 1, registrations.calls)
	assert.Equal(t, 1, passes.calls)
}

func TestSweepJob_StageFailureDoesNotStopOthers(t *testing.T) {
	devices := &stubPruner{err: errors.New("db down")}
	registrations := &stubPruner{removed: 4}
	passes := &stubPruner{removed: 1}

	job := NewSweepJob(SweepConfig{
		Devices:       devices,
		Registrations: registrations,
		Passes:        passes,
		Logger:        zerolog.Nop(),
	})

	result := job.Run(context.Background())

	assert.Equal(t, 4, result.RegistrationsRemoved)
	assert.Equal(t, 1, result.PassesMarked)
	assert.Zero(t, result.DevicesRemoved)
	assert.Len(t, result.Errors, 1)
	assert.Equal(t, "devices", result.Errors[0].Stage)
}

func TestSweepJob_NilStagesSkipped(t *testing.T) {
	registrations := &stubPruner{removed: 5}

	job := NewSweepJob(SweepConfig{
		Registrations: registrations,
		Logger:        zerolog.Nop(),
	})

	result := job.Run(context.Background())

	assert.Equal(t, 5, result.RegistrationsRemoved)
	assert.Empty(t, result.Errors)
}

func TestSweepJob_MetricsAccumulate(t *testing.T) {
	devices := &stubPruner{removed: 2}

	job := NewSweepJob(SweepConfig{
		Devices: devices,
		Logger:  zerolog.Nop(),
	})

	job.Run(context.Background())
	job.Run(context.Background())

	m := job.GetMetrics()
	assert.Equal(t, int64(2), m.TotalSweeps)
	assert.Equal(t, int64(4), m.DevicesRemoved)
	assert.False(t, m.LastSweepAt.IsZero())
}
