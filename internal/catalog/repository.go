package catalog

import (
	"context"
	"sync"
	"time"
)

// Repository defines read access to catalog projections plus the customer
// counter increments.
type Repository interface {
	GetOffer(ctx context.Context, id string) (*Offer, error)
	GetBusiness(ctx context.Context, id string) (*Business, error)
	GetCustomer(ctx context.Context, id string) (*Customer, error)

	IncrementCustomerStamps(ctx context.Context, customerID string, n int) error
	IncrementCustomerVisits(ctx context.Context, customerID string, n int) error
	IncrementCustomerRewards(ctx context.Context, customerID string, n int) error
	TouchCustomerActivity(ctx context.Context, customerID string, at time.Time) error
}

// InMemoryRepository is an in-memory implementation of Repository used by
// tests.
type InMemoryRepository struct {
	mu         sync.Mutex
	offers     map[string]*Offer
	businesses map[string]*Business
	customers  map[string]*Customer
}

// NewInMemoryRepository creates a new in-memory catalog repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		offers:     make(map[string]*Offer),
		businesses: make(map[string]*Business),
		customers:  make(map[string]*Customer),
	}
}

// SeedOffer stores an offer projection for tests.
func (r *InMemoryRepository) SeedOffer(o *Offer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *o
	r.offers[o.ID] = &c
}

// SeedBusiness stores a business projection for tests.
func (r *InMemoryRepository) SeedBusiness(b *Business) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *b
	r.businesses[b.ID] = &c
}

// SeedCustomer stores a customer projection for tests.
func (r *InMemoryRepository) SeedCustomer(c *Customer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.customers[c.ID] = &cp
}

// GetOffer retrieves an offer projection.
func (r *InMemoryRepository) GetOffer(_ context.Context, id string) (*Offer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.offers[id]
	if !ok {
		return nil, ErrOfferNotFound
	}
	c := *o
	return &c, nil
}

// GetBusiness retrieves a business projection.
func (r *InMemoryRepository) GetBusiness(_ context.Context, id string) (*Business, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.businesses[id]
	if !ok {
		return nil, ErrBusinessNotFound
	}
	c := *b
	return &c, nil
}

// GetCustomer retrieves a customer projection.
func (r *InMemoryRepository) GetCustomer(_ context.Context, id string) (*Customer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.customers[id]
	if !ok {
		return nil, ErrCustomerNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *InMemoryRepository) withCustomer(id string, fn func(*Customer)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.customers[id]
	if !ok {
		return ErrCustomerNotFound
	}
	fn(c)
	return nil
}

// IncrementCustomerStamps adds to the lifetime stamp counter.
func (r *InMemoryRepository) IncrementCustomerStamps(_ context.Context, customerID string, n int) error {
	return r.withCustomer(customerID, func(c *Customer) { c.TotalStamps += n })
}

// IncrementCustomerVisits adds to the lifetime visit counter.
func (r *InMemoryRepository) IncrementCustomerVisits(_ context.Context, customerID string, n int) error {
	return r.withCustomer(customerID, func(c *Customer) { c.TotalVisits += n })
}

// IncrementCustomerRewards adds to the lifetime reward counter.
func (r *InMemoryRepository) IncrementCustomerRewards(_ context.Context, customerID string, n int) error {
	return r.withCustomer(customerID, func(c *Customer) { c.RewardsClaimed += n })
}

// TouchCustomerActivity records when the customer was last active.
func (r *InMemoryRepository) TouchCustomerActivity(_ context.Context, customerID string, at time.Time) error {
	return r.withCustomer(customerID, func(c *Customer) { c.LastActivityAt = &at })
}

// Ensure InMemoryRepository implements Repository.
var _ Repository = (*InMemoryRepository)(nil)
