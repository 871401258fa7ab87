package device_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stampwise/stampwise/internal/device"
)

func newService(now func() time.Time) *device.Service {
	return device.NewService(device.ServiceConfig{
		Repository: device.NewInMemoryRepository(),
		Logger:     zerolog.Nop(),
		Now:        now,
	})
}

func TestFindOrRegister_CreatesThenRefreshes(t *testing.T) {
	svc := newService(nil)
	ctx := context.Background()

	first, err := svc.FindOrRegister(ctx, "lib-abc", "token-1", device.Info{Model: "iPhone15,3"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if first.PushToken != "token-1" {
		t.Errorf("expected token-1, got %q", first.PushToken)
	}

	// Re-registering with a rotated token overwrites it and keeps identity.
	second, err := svc.FindOrRegister(ctx, "lib-abc", "token-2", device.Info{Model: "iPhone15,3"})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same device ID, got %q and %q", first.ID, second.ID)
	}
	if second.PushToken != "token-2" {
		t.Errorf("expected rotated token, got %q", second.PushToken)
	}
	if second.CreatedAt != first.CreatedAt {
		t.Error("created timestamp must not move on re-registration")
	}
}

func TestIsActive_Window(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	d := &device.Device{LastSeenAt: now.Add(-29 * 24 * time.Hour)}
	if !d.IsActive(now) {
		t.Error("device seen 29 days ago should be active")
	}

	d.LastSeenAt = now.Add(-31 * 24 * time.Hour)
	if d.IsActive(now) {
		t.Error("device seen 31 days ago should be inactive")
	}
}

func TestPruneUnseen(t *testing.T) {
	clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := newService(func() time.Time { return clock })
	ctx := context.Background()

	if _, err := svc.FindOrRegister(ctx, "lib-old", "t1", device.Info{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Advance past the retention window and register a fresh device.
	clock = clock.Add(91 * 24 * time.Hour)
	if _, err := svc.FindOrRegister(ctx, "lib-new", "t2", device.Info{}); err != nil {
		t.Fatalf("register: %v", err)
	}

	removed, err := svc.PruneUnseen(ctx)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned device, got %d", removed)
	}

	if _, err := svc.Find(ctx, "lib-old"); err != device.ErrDeviceNotFound {
		t.Errorf("expected old device gone, got err=%v", err)
	}
	if _, err := svc.Find(ctx, "lib-new"); err != nil {
		t.Errorf("fresh device should survive the sweep: %v", err)
	}
}
