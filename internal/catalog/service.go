package catalog

import (
	"context"
	"time"
)

// Service exposes catalog lookups and adapts the repository to the ledger's
// aggregate-updater contract.
type Service struct {
	repo Repository
	now  func() time.Time
}

// ServiceConfig holds configuration for the catalog service.
type ServiceConfig struct {
	Repository Repository

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewService creates a new catalog service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{repo: cfg.Repository, now: now}
}

// Offer retrieves an offer projection.
func (s *Service) Offer(ctx context.Context, id string) (*Offer, error) {
	return s.repo.GetOffer(ctx, id)
}

// Business retrieves a business projection.
func (s *Service) Business(ctx context.Context, id string) (*Business, error) {
	return s.repo.GetBusiness(ctx, id)
}

// Customer retrieves a customer projection.
func (s *Service) Customer(ctx context.Context, id string) (*Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// IncrementStamps adds to the customer's lifetime stamp counter.
func (s *Service) IncrementStamps(ctx context.Context, customerID string, n int) error {
	return s.repo.IncrementCustomerStamps(ctx, customerID, n)
}

// IncrementVisits adds to the customer's lifetime visit counter.
func (s *Service) IncrementVisits(ctx context.Context, customerID string, n int) error {
	return s.repo.IncrementCustomerVisits(ctx, customerID, n)
}

// IncrementRewardsClaimed adds to the customer's lifetime reward counter.
func (s *Service) IncrementRewardsClaimed(ctx context.Context, customerID string, n int) error {
	return s.repo.IncrementCustomerRewards(ctx, customerID, n)
}

// TouchLastActivity records when the customer was last active.
func (s *Service) TouchLastActivity(ctx context.Context, customerID string) error {
	return s.repo.TouchCustomerActivity(ctx, customerID, s.now())
}
