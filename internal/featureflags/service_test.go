package featureflags_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/stampwise/stampwise/internal/featureflags"
)

func newTestService(repo featureflags.Repository) *featureflags.Service {
	return featureflags.NewService(featureflags.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
		CacheTTL:   1 * time.Minute,
	})
}

func TestService_GetFlag_Default(t *testing.T) {
	service := newTestService(featureflags.NewInMemoryRepository())
	ctx := context.Background()

	flag := service.GetFlag(ctx, featureflags.FlagDisablePushSending)
	if flag == nil {
		t.Fatal("expected flag to be returned")
	}
	if flag.Key != featureflags.FlagDisablePushSending {
		t.Errorf("expected key %q, got %q", featureflags.FlagDisablePushSending, flag.Key)
	}
	if flag.BoolValue(true) != false {
		t.Error("expected disable_push_sending to be false by default")
	}
}

func TestService_SetFlag(t *testing.T) {
	service := newTestService(featureflags.NewInMemoryRepository())
	ctx := context.Background()

	err := service.SetFlag(ctx, &featureflags.Flag{
		Key:   featureflags.FlagDisablePushSending,
		Value: true,
	})
	if err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}

	if !service.IsPushSendingDisabled(ctx) {
		t.Error("expected push sending to be disabled after update")
	}
}

func TestService_SetFlags(t *testing.T) {
	service := newTestService(featureflags.NewInMemoryRepository())
	ctx := context.Background()

	err := service.SetFlags(ctx, []*featureflags.Flag{
		{Key: featureflags.FlagDisablePassRegeneration, Value: true},
		{Key: featureflags.FlagLogIngestSamplingOnly, Value: true},
	})
	if err != nil {
		t.Fatalf("failed to set flags: %v", err)
	}

	if !service.IsPassRegenerationDisabled(ctx) {
		t.Error("expected pass regeneration to be disabled")
	}
	if !service.IsLogIngestSamplingOnly(ctx) {
		t.Error("expected log ingest sampling to be on")
	}
}

func TestService_GetAllFlags(t *testing.T) {
	service := newTestService(featureflags.NewInMemoryRepository())

	flags := service.GetAllFlags(context.Background())

	expectedFlags := []string{
		featureflags.FlagDisablePushSending,
		featureflags.FlagDisablePassRegeneration,
		featureflags.FlagLogIngestSamplingOnly,
	}
	for _, key := range expectedFlags {
		if _, ok := flags[key]; !ok {
			t.Errorf("expected flag %q to be present", key)
		}
	}
}

func TestService_InvalidateCache(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	service := featureflags.NewService(featureflags.ServiceConfig{
		Repository: repo,
		Logger:     zerolog.Nop(),
		CacheTTL:   1 * time.Hour, // long TTL to exercise the cache
	})
	ctx := context.Background()

	_ = service.GetFlag(ctx, featureflags.FlagDisablePushSending)

	// Update the repository behind the service's back.
	_ = repo.SetFlag(ctx, &featureflags.Flag{
		Key:   featureflags.FlagDisablePushSending,
		Value: true,
	})

	service.InvalidateCache()

	flag := service.GetFlag(ctx, featureflags.FlagDisablePushSending)
	if flag.BoolValue(false) != true {
		t.Error("expected updated value after cache invalidation")
	}
}

func TestService_ConvenienceMethods_Defaults(t *testing.T) {
	service := newTestService(featureflags.NewInMemoryRepository())
	ctx := context.Background()

	if service.IsPushSendingDisabled(ctx) {
		t.Error("push sending should not be disabled by default")
	}
	if service.IsPassRegenerationDisabled(ctx) {
		t.Error("pass regeneration should not be disabled by default")
	}
	if service.IsLogIngestSamplingOnly(ctx) {
		t.Error("log ingest sampling should be off by default")
	}
}

func TestFlag_ValueHelpers(t *testing.T) {
	tests := []struct {
		name      string
		value     interface{}
		wantBool  bool
		wantInt   int
		wantFloat float64
	}{
		{name: "boolean true", value: true, wantBool: true, wantInt: 42, wantFloat: 3.14},
		{name: "boolean false", value: false, wantBool: false, wantInt: 42, wantFloat: 3.14},
		{name: "float64 value", value: 42.5, wantBool: true, wantInt: 42, wantFloat: 42.5},
		{name: "int via JSON float64", value: float64(100), wantBool: true, wantInt: 100, wantFloat: 100.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flag := &featureflags.Flag{
				Key:       "test",
				Value:     tt.value,
				UpdatedAt: time.Now(),
			}

			if got := flag.BoolValue(false); got != tt.wantBool {
				t.Errorf("BoolValue() = %v, want %v", got, tt.wantBool)
			}
			if got := flag.IntValue(42); got != tt.wantInt {
				t.Errorf("IntValue() = %v, want %v", got, tt.wantInt)
			}
			if got := flag.Float64Value(3.14); got != tt.wantFloat {
				t.Errorf("Float64Value() = %v, want %v", got, tt.wantFloat)
			}
		})
	}
}

func TestFlag_NilFlag(t *testing.T) {
	var flag *featureflags.Flag

	if flag.BoolValue(true) != true {
		t.Error("expected default value for nil flag")
	}
	if flag.StringValue("default") != "default" {
		t.Error("expected default value for nil flag")
	}
}

func TestInMemoryRepository_GetFlag_NotFound(t *testing.T) {
	repo := featureflags.NewInMemoryRepositoryWithFlags(make(map[string]*featureflags.Flag))

	_, err := repo.GetFlag(context.Background(), "nonexistent")
	if !errors.Is(err, featureflags.ErrFlagNotFound) {
		t.Errorf("expected ErrFlagNotFound, got %v", err)
	}
}

func TestInMemoryRepository_DeleteFlag(t *testing.T) {
	repo := featureflags.NewInMemoryRepository()
	ctx := context.Background()

	if err := repo.SetFlag(ctx, &featureflags.Flag{Key: featureflags.FlagDisablePushSending, Value: true}); err != nil {
		t.Fatalf("failed to set flag: %v", err)
	}
	if err := repo.DeleteFlag(ctx, featureflags.FlagDisablePushSending); err != nil {
		t.Fatalf("failed to delete flag: %v", err)
	}

	_, err := repo.GetFlag(ctx, featureflags.FlagDisablePushSending)
	if !errors.Is(err, featureflags.ErrFlagNotFound) {
		t.Errorf("expected ErrFlagNotFound after delete, got %v", err)
	}

	err = repo.DeleteFlag(ctx, "nonexistent")
	if !errors.Is(err, featureflags.ErrFlagNotFound) {
		t.Errorf("expected ErrFlagNotFound for non-existent flag, got %v", err)
	}
}
