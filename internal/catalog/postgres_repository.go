package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository. It reads
// the tables the merchant backend owns; only the customer counters are
// written from here.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL catalog repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetOffer retrieves an offer projection.
func (r *PostgresRepository) GetOffer(ctx context.Context, id string) (*Offer, error) {
	query := `
		SELECT offer_id, business_id, name, reward_description, stamps_required, valid_until
		FROM offers
		WHERE offer_id = $1
	`
	var o Offer
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&o.ID, &o.BusinessID, &o.Name, &o.RewardDescription, &o.StampsRequired, &o.ValidUntil,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOfferNotFound
		}
		return nil, err
	}
	return &o, nil
}

// GetBusiness retrieves a business projection.
func (r *PostgresRepository) GetBusiness(ctx context.Context, id string) (*Business, error) {
	query := `SELECT business_id, name, timezone FROM businesses WHERE business_id = $1`
	var b Business
	err := r.pool.QueryRow(ctx, query, id).Scan(&b.ID, &b.Name, &b.Timezone)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBusinessNotFound
		}
		return nil, err
	}
	return &b, nil
}

// GetCustomer retrieves a customer projection.
func (r *PostgresRepository) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	query := `
		SELECT customer_id, name, total_stamps, total_visits, rewards_claimed, last_activity_at
		FROM customers
		WHERE customer_id = $1
	`
	var c Customer
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &c.TotalStamps, &c.TotalVisits, &c.RewardsClaimed, &c.LastActivityAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *PostgresRepository) execCustomer(ctx context.Context, query, customerID string, args ...any) error {
	result, err := r.pool.Exec(ctx, query, append([]any{customerID}, args...)...)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

// IncrementCustomerStamps adds to the lifetime stamp counter.
func (r *PostgresRepository) IncrementCustomerStamps(ctx context.Context, customerID string, n int) error {
	query := `UPDATE customers SET total_stamps = total_stamps + $2 WHERE customer_id = $1`
	return r.execCustomer(ctx, query, customerID, n)
}

// IncrementCustomerVisits adds to the lifetime visit counter.
func (r *PostgresRepository) IncrementCustomerVisits(ctx context.Context, customerID string, n int) error {
	query := `UPDATE customers SET total_visits = total_visits + $2 WHERE customer_id = $1`
	return r.execCustomer(ctx, query, customerID, n)
}

// IncrementCustomerRewards adds to the lifetime reward counter.
func (r *PostgresRepository) IncrementCustomerRewards(ctx context.Context, customerID string, n int) error {
	query := `UPDATE customers SET rewards_claimed = rewards_claimed + $2 WHERE customer_id = $1`
	return r.execCustomer(ctx, query, customerID, n)
}

// TouchCustomerActivity records when the customer was last active.
func (r *PostgresRepository) TouchCustomerActivity(ctx context.Context, customerID string, at time.Time) error {
	query := `UPDATE customers SET last_activity_at = $2 WHERE customer_id = $1`
	return r.execCustomer(ctx, query, customerID, at)
}

// Ensure PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
