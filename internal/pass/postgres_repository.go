package pass

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL pass repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const recordColumns = `
	pass_id, ledger_entry_id, offer_id, business_id, customer_id,
	platform, status, serial_number, object_id,
	auth_token, update_tag, manifest_etag, snapshot,
	last_updated_at, scheduled_expiration_at, expiration_notified, deleted_at,
	created_at
`

func scanRecord(row pgx.Row) (*Record, error) {
	var (
		rec         Record
		authToken   *string
		snapshotRaw []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.LedgerEntryID,
		&rec.OfferID,
		&rec.BusinessID,
		&rec.CustomerID,
		&rec.Platform,
		&rec.Status,
		&rec.SerialNumber,
		&rec.ObjectID,
		&authToken,
		&rec.UpdateTag,
		&rec.ManifestETag,
		&snapshotRaw,
		&rec.LastUpdatedAt,
		&rec.ScheduledExpirationAt,
		&rec.ExpirationNotified,
		&rec.DeletedAt,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPassNotFound
		}
		return nil, err
	}
	if authToken != nil {
		rec.AuthToken = *authToken
	}
	if len(snapshotRaw) > 0 {
		rec.Snapshot = &Snapshot{}
		if err := json.Unmarshal(snapshotRaw, rec.Snapshot); err != nil {
			return nil, fmt.Errorf("decode pass snapshot: %w", err)
		}
	}
	return &rec, nil
}

// Get retrieves a pass by internal ID.
func (r *PostgresRepository) Get(ctx context.Context, id string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM passes WHERE pass_id = $1 AND deleted_at IS NULL`
	return scanRecord(r.pool.QueryRow(ctx, query, id))
}

// GetBySerial retrieves an Apple pass by serial number.
func (r *PostgresRepository) GetBySerial(ctx context.Context, serial string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM passes WHERE serial_number = $1 AND deleted_at IS NULL`
	return scanRecord(r.pool.QueryRow(ctx, query, serial))
}

// GetByCustomerOfferPlatform retrieves the pass for the unique triple.
func (r *PostgresRepository) GetByCustomerOfferPlatform(ctx context.Context, customerID, offerID string, platform Platform) (*Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM passes
		WHERE customer_id = $1 AND offer_id = $2 AND platform = $3 AND deleted_at IS NULL
	`
	return scanRecord(r.pool.QueryRow(ctx, query, customerID, offerID, platform))
}

// Create creates a new pass record. The unique (customer_id, offer_id,
// platform) constraint backs ErrPassExists.
func (r *PostgresRepository) Create(ctx context.Context, rec *Record) error {
	snapshotRaw, err := marshalSnapshot(rec.Snapshot)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO passes (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`
	_, err = r.pool.Exec(ctx, query,
		rec.ID, rec.LedgerEntryID, rec.OfferID, rec.BusinessID, rec.CustomerID,
		rec.Platform, rec.Status, rec.SerialNumber, rec.ObjectID,
		nullIfEmpty(rec.AuthToken), rec.UpdateTag, rec.ManifestETag, snapshotRaw,
		rec.LastUpdatedAt, rec.ScheduledExpirationAt, rec.ExpirationNotified, rec.DeletedAt,
		rec.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrPassExists
		}
		return err
	}
	return nil
}

// Update persists the full row.
func (r *PostgresRepository) Update(ctx context.Context, rec *Record) error {
	snapshotRaw, err := marshalSnapshot(rec.Snapshot)
	if err != nil {
		return err
	}

	query := `
		UPDATE passes SET
			status = $2,
			update_tag = $3,
			manifest_etag = $4,
			snapshot = $5,
			last_updated_at = $6,
			scheduled_expiration_at = $7,
			expiration_notified = $8,
			deleted_at = $9
		WHERE pass_id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		rec.ID,
		rec.Status,
		rec.UpdateTag,
		rec.ManifestETag,
		snapshotRaw,
		rec.LastUpdatedAt,
		rec.ScheduledExpirationAt,
		rec.ExpirationNotified,
		rec.DeletedAt,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrPassNotFound
	}
	return nil
}

// EnsureAuthToken stores candidate iff no token is set yet and returns the
// winner. COALESCE makes the read-modify-write a single atomic statement,
// so racing first readers cannot issue two different tokens.
func (r *PostgresRepository) EnsureAuthToken(ctx context.Context, id, candidate string) (string, error) {
	query := `
		UPDATE passes
		SET auth_token = COALESCE(auth_token, $2)
		WHERE pass_id = $1 AND deleted_at IS NULL
		RETURNING auth_token
	`
	var token string
	if err := r.pool.QueryRow(ctx, query, id, candidate).Scan(&token); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrPassNotFound
		}
		return "", err
	}
	return token, nil
}

// ListByIDs retrieves passes by internal ID.
func (r *PostgresRepository) ListByIDs(ctx context.Context, ids []string) ([]*Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + recordColumns + ` FROM passes WHERE pass_id = ANY($1) AND deleted_at IS NULL`
	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SoftDeleteExpiredBefore soft-deletes passes expired before the cutoff.
func (r *PostgresRepository) SoftDeleteExpiredBefore(ctx context.Context, cutoff, deletedAt time.Time) (int, error) {
	query := `
		UPDATE passes
		SET deleted_at = $2, status = $3
		WHERE deleted_at IS NULL
		  AND scheduled_expiration_at IS NOT NULL
		  AND scheduled_expiration_at < $1
	`
	result, err := r.pool.Exec(ctx, query, cutoff, deletedAt, StatusDeleted)
	if err != nil {
		return 0, err
	}
	return int(result.RowsAffected()), nil
}

func marshalSnapshot(s *Snapshot) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode pass snapshot: %w", err)
	}
	return raw, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Ensure PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
