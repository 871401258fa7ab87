package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// AggregateUpdater propagates per-customer lifetime counters to the customer
// aggregate store. Calls are best-effort: the ledger write is already
// durable when these run, and their failure must never surface to the
// caller of the stamp or claim operation.
type AggregateUpdater interface {
	IncrementStamps(ctx context.Context, customerID string, n int) error
	IncrementVisits(ctx context.Context, customerID string, n int) error
	IncrementRewardsClaimed(ctx context.Context, customerID string, n int) error
	TouchLastActivity(ctx context.Context, customerID string) error
}

// NopAggregateUpdater discards all aggregate updates. Useful in tests and
// in deployments without the customer-aggregate collaborator.
type NopAggregateUpdater struct{}

func (NopAggregateUpdater) IncrementStamps(context.Context, string, int) error         { return nil }
func (NopAggregateUpdater) IncrementVisits(context.Context, string, int) error         { return nil }
func (NopAggregateUpdater) IncrementRewardsClaimed(context.Context, string, int) error { return nil }
func (NopAggregateUpdater) TouchLastActivity(context.Context, string) error            { return nil }

// Service provides the reward-cycle operations.
type Service struct {
	repo       Repository
	aggregates AggregateUpdater
	logger     zerolog.Logger
	now        func() time.Time
}

// ServiceConfig holds configuration for the ledger service.
type ServiceConfig struct {
	Repository Repository
	Aggregates AggregateUpdater
	Logger     zerolog.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewService creates a new ledger service.
func NewService(cfg ServiceConfig) *Service {
	aggregates := cfg.Aggregates
	if aggregates == nil {
		aggregates = NopAggregateUpdater{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:       cfg.Repository,
		aggregates: aggregates,
		logger:     cfg.Logger,
		now:        now,
	}
}

// Enroll creates a fresh ledger entry for a customer joining an offer.
func (s *Service) Enroll(ctx context.Context, customerID, offerID string, maxStamps int) (*Entry, error) {
	now := s.now()
	entry := &Entry{
		ID:         "led_" + uuid.New().String()[:22],
		CustomerID: customerID,
		OfferID:    offerID,
		MaxStamps:  maxStamps,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Get retrieves an entry by ID.
func (s *Service) Get(ctx context.Context, id string) (*Entry, error) {
	return s.repo.Get(ctx, id)
}

// GetByCustomerAndOffer retrieves the entry for a customer×offer pair.
func (s *Service) GetByCustomerAndOffer(ctx context.Context, customerID, offerID string) (*Entry, error) {
	return s.repo.GetByCustomerAndOffer(ctx, customerID, offerID)
}

// AddStamp records a scan awarding n stamps (n < 1 is treated as 1). The
// stamp count clamps at MaxStamps; crossing the boundary completes the
// cycle. One call is one visit regardless of n.
func (s *Service) AddStamp(ctx context.Context, entryID string, n int) (*Entry, error) {
	if n < 1 {
		n = 1
	}
	now := s.now()

	entry, err := s.repo.Mutate(ctx, entryID, func(e *Entry) error {
		if e.FirstScanAt == nil {
			e.FirstScanAt = &now
		}
		e.LastScanAt = &now
		e.TotalScans += n

		wasCompleted := e.IsCompleted
		e.CurrentStamps += n
		if e.CurrentStamps > e.MaxStamps {
			e.CurrentStamps = e.MaxStamps
		}
		if !wasCompleted && e.CurrentStamps == e.MaxStamps {
			e.IsCompleted = true
			e.CompletedAt = &now
		}
		e.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	// The ledger write is durable; aggregate propagation is fire-and-log.
	s.propagate(ctx, entry.CustomerID, func(ctx context.Context) error {
		if err := s.aggregates.IncrementStamps(ctx, entry.CustomerID, n); err != nil {
			return err
		}
		return s.aggregates.IncrementVisits(ctx, entry.CustomerID, 1)
	})

	return entry, nil
}

// ClaimReward closes a completed cycle: bumps RewardsClaimed, records
// fulfillment metadata when a branch is given, and resets the stamp count
// so the next cycle starts immediately. Fails with ErrRewardNotEarned on an
// incomplete cycle, leaving the entry untouched.
func (s *Service) ClaimReward(ctx context.Context, entryID string, branchID, notes *string) (*Entry, error) {
	now := s.now()

	entry, err := s.repo.Mutate(ctx, entryID, func(e *Entry) error {
		if !e.IsCompleted {
			return ErrRewardNotEarned
		}

		e.RewardsClaimed++
		if branchID != nil {
			e.RewardFulfilledAt = &now
			e.FulfilledByBranch = branchID
			e.FulfillmentNotes = notes
		}

		// Reset: the new cycle begins with the claim.
		e.CurrentStamps = 0
		e.IsCompleted = false
		e.CompletedAt = nil
		e.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.propagate(ctx, entry.CustomerID, func(ctx context.Context) error {
		if err := s.aggregates.IncrementRewardsClaimed(ctx, entry.CustomerID, 1); err != nil {
			return err
		}
		return s.aggregates.TouchLastActivity(ctx, entry.CustomerID)
	})

	return entry, nil
}

// MarkRewardFulfilled records who handed out the reward without resetting
// the cycle, for merchants that log fulfillment separately from the claim.
func (s *Service) MarkRewardFulfilled(ctx context.Context, entryID, branchID string, notes *string) (*Entry, error) {
	now := s.now()

	return s.repo.Mutate(ctx, entryID, func(e *Entry) error {
		if !e.IsCompleted {
			return ErrRewardNotEarned
		}
		e.RewardFulfilledAt = &now
		e.FulfilledByBranch = &branchID
		e.FulfillmentNotes = notes
		e.UpdatedAt = now
		return nil
	})
}

// propagate runs a best-effort aggregate update, logging failures.
func (s *Service) propagate(ctx context.Context, customerID string, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		s.logger.Warn().
			Err(err).
			Str("customer_id", customerID).
			Msg("customer aggregate propagation failed")
	}
}
