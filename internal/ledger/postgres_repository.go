package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stampwise/stampwise/internal/database"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL ledger repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const entryColumns = `
	entry_id, customer_id, offer_id,
	current_stamps, max_stamps, is_completed, completed_at,
	rewards_claimed, reward_fulfilled_at, fulfilled_by_branch, fulfillment_notes,
	first_scan_at, last_scan_at, total_scans,
	created_at, updated_at
`

// scanEntry scans one ledger row from the given row scanner.
func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(
		&e.ID,
		&e.CustomerID,
		&e.OfferID,
		&e.CurrentStamps,
		&e.MaxStamps,
		&e.IsCompleted,
		&e.CompletedAt,
		&e.RewardsClaimed,
		&e.RewardFulfilledAt,
		&e.FulfilledByBranch,
		&e.FulfillmentNotes,
		&e.FirstScanAt,
		&e.LastScanAt,
		&e.TotalScans,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

// Get retrieves an entry by ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE entry_id = $1`
	return scanEntry(r.pool.QueryRow(ctx, query, id))
}

// GetByCustomerAndOffer retrieves the entry for a customer×offer pair.
func (r *PostgresRepository) GetByCustomerAndOffer(ctx context.Context, customerID, offerID string) (*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE customer_id = $1 AND offer_id = $2`
	return scanEntry(r.pool.QueryRow(ctx, query, customerID, offerID))
}

// Create creates a new entry. The unique (customer_id, offer_id) constraint
// backs ErrEntryExists.
func (r *PostgresRepository) Create(ctx context.Context, e *Entry) error {
	query := `
		INSERT INTO ledger_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err := r.pool.Exec(ctx, query,
		e.ID, e.CustomerID, e.OfferID,
		e.CurrentStamps, e.MaxStamps, e.IsCompleted, e.CompletedAt,
		e.RewardsClaimed, e.RewardFulfilledAt, e.FulfilledByBranch, e.FulfillmentNotes,
		e.FirstScanAt, e.LastScanAt, e.TotalScans,
		e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEntryExists
		}
		return err
	}
	return nil
}

// Mutate applies fn to the entry inside a transaction holding a FOR UPDATE
// row lock, so concurrent stamp scans serialize instead of losing counts.
func (r *PostgresRepository) Mutate(ctx context.Context, id string, fn func(*Entry) error) (*Entry, error) {
	var result *Entry

	err := database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		query := `SELECT ` + entryColumns + ` FROM ledger_entries WHERE entry_id = $1 FOR UPDATE`
		entry, err := scanEntry(tx.QueryRow(ctx, query, id))
		if err != nil {
			return err
		}

		if err := fn(entry); err != nil {
			return err
		}

		update := `
			UPDATE ledger_entries SET
				current_stamps = $2,
				is_completed = $3,
				completed_at = $4,
				rewards_claimed = $5,
				reward_fulfilled_at = $6,
				fulfilled_by_branch = $7,
				fulfillment_notes = $8,
				first_scan_at = $9,
				last_scan_at = $10,
				total_scans = $11,
				updated_at = $12
			WHERE entry_id = $1
		`
		_, err = tx.Exec(ctx, update,
			entry.ID,
			entry.CurrentStamps,
			entry.IsCompleted,
			entry.CompletedAt,
			entry.RewardsClaimed,
			entry.RewardFulfilledAt,
			entry.FulfilledByBranch,
			entry.FulfillmentNotes,
			entry.FirstScanAt,
			entry.LastScanAt,
			entry.TotalScans,
			entry.UpdatedAt,
		)
		if err != nil {
			return err
		}

		result = entry
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// Ensure PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
