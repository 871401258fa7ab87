package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stampwise/stampwise/internal/device"
	"github.com/stampwise/stampwise/internal/notify"
	"github.com/stampwise/stampwise/internal/pass"
	"github.com/stampwise/stampwise/internal/push"
	"github.com/stampwise/stampwise/internal/registration"
)

type stubPasses struct {
	marked []string
}

func (s *stubPasses) MarkChanged(_ context.Context, passID string) (*pass.Record, error) {
	s.marked = append(s.marked, passID)
	return &pass.Record{ID: passID}, nil
}

type stubRegistrations struct {
	regs []*registration.Registration
}

func (s *stubRegistrations) ListForPass(context.Context, string) ([]*registration.Registration, error) {
	return s.regs, nil
}

type stubDevices struct {
	byLibrary map[string]*device.Device
}

func (s *stubDevices) Find(_ context.Context, libraryID string) (*device.Device, error) {
	d, ok := s.byLibrary[libraryID]
	if !ok {
		return nil, device.ErrDeviceNotFound
	}
	return d, nil
}

type stubFlags struct {
	pushDisabled bool
}

func (f *stubFlags) IsPushSendingDisabled(context.Context) bool { return f.pushDisabled }

type fixture struct {
	svc     *notify.Service
	history *notify.InMemoryRepository
	passes  *stubPasses
	regs    *stubRegistrations
	sender  *push.FakeSender
	flags   *stubFlags
	clock   *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := time.Date(2025, 6, 1, 15, 0, 0, 0, time.UTC)

	f := &fixture{
		history: notify.NewInMemoryRepository(),
		passes:  &stubPasses{},
		regs:    &stubRegistrations{},
		sender:  push.NewFakeSender(),
		flags:   &stubFlags{},
		clock:   &clock,
	}
	f.svc = notify.NewService(notify.ServiceConfig{
		History:       f.history,
		Passes:        f.passes,
		Registrations: f.regs,
		Devices: &stubDevices{byLibrary: map[string]*device.Device{
			"lib-1": {ID: "dev_1", LibraryIdentifier: "lib-1", PushToken: "tok-1"},
			"lib-2": {ID: "dev_2", LibraryIdentifier: "lib-2", PushToken: "tok-2"},
		}},
		Sender:   f.sender,
		Flags:    f.flags,
		Location: time.UTC,
		Logger:   zerolog.Nop(),
		Now:      func() time.Time { return clock },
	})
	return f
}

func (f *fixture) register(libs ...string) {
	f.regs.regs = nil
	for _, lib := range libs {
		f.regs.regs = append(f.regs.regs, &registration.Registration{
			DeviceLibraryID: lib,
			PassID:          "pas_1",
		})
	}
}

func TestDispatch_FansOutToRegisteredDevices(t *testing.T) {
	f := newFixture(t)
	f.register("lib-1", "lib-2")

	result, err := f.svc.Dispatch(context.Background(), "pas_1")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Devices)
	assert.Equal(t, 2, result.Sent)
	assert.Empty(t, result.Failures)
	assert.Equal(t, []string{"pas_1"}, f.passes.marked, "pass refreshed before the push")

	require.Len(t, f.sender.Batches(), 1)
	assert.Equal(t, []string{"tok-1", "tok-2"}, f.sender.Batches()[0])
	assert.Equal(t, 1, f.history.Len(), "one history entry per dispatch")
}

func TestDispatch_ZeroDevicesSucceeds(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.Dispatch(context.Background(), "pas_1")
	require.NoError(t, err)

	assert.Zero(t, result.Devices)
	assert.Zero(t, result.Sent)
	assert.Empty(t, f.sender.Batches(), "no batch for zero devices")
	assert.Zero(t, f.history.Len(), "no-op dispatch consumes no cap")
}

func TestDispatch_PerDeviceFailuresCollected(t *testing.T) {
	f := newFixture(t)
	f.register("lib-1", "lib-2", "lib-gone")
	f.sender.FailTokens["tok-2"] = "Shutdown"

	result, err := f.svc.Dispatch(context.Background(), "pas_1")
	require.NoError(t, err, "device failures never fail the dispatch")

	assert.Equal(t, 3, result.Devices)
	assert.Equal(t, 1, result.Sent)
	require.Len(t, result.Failures, 2)

	reasons := map[string]string{}
	for _, failure := range result.Failures {
		reasons[failure.DeviceLibraryID] = failure.Reason
	}
	assert.Equal(t, "device no longer registered", reasons["lib-gone"])
	assert.Contains(t, reasons["lib-2"], "Shutdown")
}

func TestDispatch_DailyCap(t *testing.T) {
	f := newFixture(t)
	f.register("lib-1")
	ctx := context.Background()

	for i := 0; i < notify.DefaultDailyCap; i++ {
		result, err := f.svc.Dispatch(ctx, "pas_1")
		require.NoError(t, err)
		assert.False(t, result.CapExceeded)
	}

	result, err := f.svc.Dispatch(ctx, "pas_1")
	require.NoError(t, err)
	assert.True(t, result.CapExceeded)
	assert.Zero(t, result.Sent)
	assert.Len(t, f.sender.Batches(), notify.DefaultDailyCap, "capped dispatch sends nothing")

	// The cap is per pass, not global.
	other, err := f.svc.Dispatch(ctx, "pas_2")
	require.NoError(t, err)
	assert.False(t, other.CapExceeded)
}

func TestDispatch_CapResetsAtLocalMidnight(t *testing.T) {
	f := newFixture(t)
	f.register("lib-1")
	ctx := context.Background()

	for i := 0; i < notify.DefaultDailyCap; i++ {
		_, err := f.svc.Dispatch(ctx, "pas_1")
		require.NoError(t, err)
	}

	// 15:00 -> 00:30 next day.
	*f.clock = f.clock.Add(9*time.Hour + 30*time.Minute)

	result, err := f.svc.Dispatch(ctx, "pas_1")
	require.NoError(t, err)
	assert.False(t, result.CapExceeded, "new calendar day resets the cap")
	assert.Equal(t, 1, result.Sent)
}

func TestDispatch_PushDisabledFlag(t *testing.T) {
	f := newFixture(t)
	f.register("lib-1")
	f.flags.pushDisabled = true

	result, err := f.svc.Dispatch(context.Background(), "pas_1")
	require.NoError(t, err)

	assert.True(t, result.PushDisabled)
	assert.Zero(t, result.Sent)
	assert.Empty(t, f.passes.marked, "kill switch skips the refresh too")
	assert.Empty(t, f.sender.Batches())
}

func TestDispatch_HistoryPrunedOnWrite(t *testing.T) {
	f := newFixture(t)
	f.register("lib-1")
	ctx := context.Background()

	old := &notify.HistoryEntry{
		ID:     "ntf_old",
		PassID: "pas_1",
		Type:   notify.TypePassUpdate,
		SentAt: f.clock.Add(-31 * 24 * time.Hour),
	}
	require.NoError(t, f.history.Append(ctx, old))

	_, err := f.svc.Dispatch(ctx, "pas_1")
	require.NoError(t, err)

	assert.Equal(t, 1, f.history.Len(), "31-day-old entry pruned by the write")
}

func TestDispatch_InvalidTokensCounted(t *testing.T) {
	f := newFixture(t)
	f.register("lib-1", "lib-2")
	f.sender.InvalidTokens["tok-1"] = true

	result, err := f.svc.Dispatch(context.Background(), "pas_1")
	require.NoError(t, err)

	assert.Equal(t, 1, result.Sent)
	assert.Equal(t, 1, result.InvalidTokens)
	assert.Empty(t, result.Failures, "dead tokens are not failures")
}
