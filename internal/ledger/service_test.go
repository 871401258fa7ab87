package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stampwise/stampwise/internal/ledger"
)

// failingAggregates fails every propagation call, to prove aggregate errors
// never surface to stamp/claim callers.
type failingAggregates struct{ calls int }

func (f *failingAggregates) IncrementStamps(context.Context, string, int) error {
	f.calls++
	return errors.New("aggregate store down")
}

func (f *failingAggregates) IncrementVisits(context.Context, string, int) error {
	f.calls++
	return errors.New("aggregate store down")
}

func (f *failingAggregates) IncrementRewardsClaimed(context.Context, string, int) error {
	f.calls++
	return errors.New("aggregate store down")
}

func (f *failingAggregates) TouchLastActivity(context.Context, string) error {
	f.calls++
	return errors.New("aggregate store down")
}

func newTestService(t *testing.T, opts ...func(*ledger.ServiceConfig)) (*ledger.Service, *ledger.Entry) {
	t.Helper()

	cfg := ledger.ServiceConfig{
		Repository: ledger.NewInMemoryRepository(),
		Logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	svc := ledger.NewService(cfg)

	entry, err := svc.Enroll(context.Background(), "cus_1", "off_1", 10)
	require.NoError(t, err)
	return svc, entry
}

func TestAddStamp_ClampsAtMax(t *testing.T) {
	svc, entry := newTestService(t)
	ctx := context.Background()

	got, err := svc.AddStamp(ctx, entry.ID, 25)
	require.NoError(t, err)

	assert.Equal(t, 10, got.CurrentStamps)
	assert.True(t, got.IsCompleted)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, 25, got.TotalScans, "total scans carry the full award even when clamped")
}

func TestAddStamp_CompletionEdge(t *testing.T) {
	svc, entry := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		got, err := svc.AddStamp(ctx, entry.ID, 1)
		require.NoError(t, err)
		assert.False(t, got.IsCompleted, "stamp %d must not complete", i+1)
		assert.Nil(t, got.CompletedAt)
	}

	got, err := svc.AddStamp(ctx, entry.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 10, got.CurrentStamps)
	assert.True(t, got.IsCompleted)
	assert.NotNil(t, got.CompletedAt)
	assert.True(t, got.CanClaim())
}

func TestAddStamp_InvariantHoldsAcrossSequences(t *testing.T) {
	svc, entry := newTestService(t)
	ctx := context.Background()

	for _, n := range []int{3, 0, 4, 7, 1, 2} {
		got, err := svc.AddStamp(ctx, entry.ID, n)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, got.CurrentStamps, 0)
		assert.LessOrEqual(t, got.CurrentStamps, got.MaxStamps)
		assert.Equal(t, got.CurrentStamps == got.MaxStamps, got.IsCompleted)
	}
}

func TestAddStamp_TracksScans(t *testing.T) {
	svc, entry := newTestService(t)
	ctx := context.Background()

	got, err := svc.AddStamp(ctx, entry.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, got.FirstScanAt)
	first := *got.FirstScanAt

	got, err = svc.AddStamp(ctx, entry.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, first, *got.FirstScanAt, "first scan timestamp must not move")
	assert.Equal(t, 3, got.TotalScans)
	assert.NotNil(t, got.LastScanAt)
}

func TestClaimReward_FailsWhenNotCompleted(t *testing.T) {
	svc, entry := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddStamp(ctx, entry.ID, 5)
	require.NoError(t, err)

	_, err = svc.ClaimReward(ctx, entry.ID, nil, nil)
	assert.ErrorIs(t, err, ledger.ErrRewardNotEarned)

	// The failed claim left everything unchanged.
	got, err := svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.CurrentStamps)
	assert.Equal(t, 0, got.RewardsClaimed)
	assert.False(t, got.IsCompleted)
}

func TestClaimReward_ResetsCycle(t *testing.T) {
	svc, entry := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddStamp(ctx, entry.ID, 10)
	require.NoError(t, err)

	branch := "brn_7"
	notes := "handed over at the counter"
	got, err := svc.ClaimReward(ctx, entry.ID, &branch, &notes)
	require.NoError(t, err)

	assert.Equal(t, 1, got.RewardsClaimed)
	assert.Equal(t, 0, got.CurrentStamps)
	assert.False(t, got.IsCompleted)
	assert.Nil(t, got.CompletedAt)
	require.NotNil(t, got.FulfilledByBranch)
	assert.Equal(t, branch, *got.FulfilledByBranch)
	require.NotNil(t, got.FulfillmentNotes)
	assert.Equal(t, notes, *got.FulfillmentNotes)
	assert.NotNil(t, got.RewardFulfilledAt)
}

func TestRewardCycle_Repeats(t *testing.T) {
	svc, entry := newTestService(t)
	ctx := context.Background()

	for cycle := 1; cycle <= 3; cycle++ {
		got, err := svc.AddStamp(ctx, entry.ID, 10)
		require.NoError(t, err)
		assert.True(t, got.IsCompleted, "cycle %d should complete", cycle)

		got, err = svc.ClaimReward(ctx, entry.ID, nil, nil)
		require.NoError(t, err)
		assert.Equal(t, cycle, got.RewardsClaimed)
		assert.Equal(t, 0, got.CurrentStamps)
	}
}

func TestMarkRewardFulfilled_DoesNotReset(t *testing.T) {
	svc, entry := newTestService(t)
	ctx := context.Background()

	_, err := svc.AddStamp(ctx, entry.ID, 10)
	require.NoError(t, err)

	got, err := svc.MarkRewardFulfilled(ctx, entry.ID, "brn_2", nil)
	require.NoError(t, err)

	assert.True(t, got.IsCompleted, "fulfillment alone must not reset the cycle")
	assert.Equal(t, 10, got.CurrentStamps)
	assert.Equal(t, 0, got.RewardsClaimed)
	require.NotNil(t, got.FulfilledByBranch)
	assert.Equal(t, "brn_2", *got.FulfilledByBranch)
}

func TestMarkRewardFulfilled_FailsWhenNotCompleted(t *testing.T) {
	svc, entry := newTestService(t)

	_, err := svc.MarkRewardFulfilled(context.Background(), entry.ID, "brn_2", nil)
	assert.ErrorIs(t, err, ledger.ErrRewardNotEarned)
}

func TestAddStamp_AggregateFailureIsSwallowed(t *testing.T) {
	aggregates := &failingAggregates{}
	svc, entry := newTestService(t, func(cfg *ledger.ServiceConfig) {
		cfg.Aggregates = aggregates
	})
	ctx := context.Background()

	got, err := svc.AddStamp(ctx, entry.ID, 1)
	require.NoError(t, err, "aggregate failure must not fail the stamp")
	assert.Equal(t, 1, got.CurrentStamps)
	assert.Positive(t, aggregates.calls, "propagation was attempted")

	_, err = svc.AddStamp(ctx, entry.ID, 9)
	require.NoError(t, err)
	_, err = svc.ClaimReward(ctx, entry.ID, nil, nil)
	require.NoError(t, err, "aggregate failure must not fail the claim")
}

func TestEstimatedDaysToComplete(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	svc, entry := newTestService(t, func(cfg *ledger.ServiceConfig) {
		cfg.Now = func() time.Time { return clock }
	})
	ctx := context.Background()

	// No scans yet: nothing to project.
	got, err := svc.Get(ctx, entry.ID)
	require.NoError(t, err)
	assert.Nil(t, got.EstimatedDaysToComplete(base))

	// One data point is still not a rate.
	got, err = svc.AddStamp(ctx, entry.ID, 1)
	require.NoError(t, err)
	assert.Nil(t, got.EstimatedDaysToComplete(base.Add(24*time.Hour)))

	// Four stamps over four days: rate 1/day, six remaining.
	clock = base.Add(4 * 24 * time.Hour)
	got, err = svc.AddStamp(ctx, entry.ID, 3)
	require.NoError(t, err)

	est := got.EstimatedDaysToComplete(clock)
	require.NotNil(t, est)
	assert.Equal(t, 6, *est)

	// Completed cycles have nothing left to estimate.
	clock = clock.Add(24 * time.Hour)
	got, err = svc.AddStamp(ctx, entry.ID, 6)
	require.NoError(t, err)
	assert.Nil(t, got.EstimatedDaysToComplete(clock))
}

func TestProgressDerivations(t *testing.T) {
	svc, entry := newTestService(t)
	ctx := context.Background()

	got, err := svc.AddStamp(ctx, entry.ID, 3)
	require.NoError(t, err)

	assert.Equal(t, 30, got.ProgressPercentage())
	assert.Equal(t, 7, got.Remaining())
	assert.False(t, got.CanClaim())
}

func TestEnroll_DuplicatePair(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Enroll(context.Background(), "cus_1", "off_1", 10)
	assert.ErrorIs(t, err, ledger.ErrEntryExists)
}
