package device

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL device repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func scanDevice(row pgx.Row) (*Device, error) {
	var (
		d       Device
		infoRaw []byte
	)
	err := row.Scan(
		&d.ID,
		&d.LibraryIdentifier,
		&d.PushToken,
		&infoRaw,
		&d.LastSeenAt,
		&d.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	if len(infoRaw) > 0 {
		if err := json.Unmarshal(infoRaw, &d.Info); err != nil {
			return nil, fmt.Errorf("decode device info: %w", err)
		}
	}
	return &d, nil
}

// GetByLibraryIdentifier retrieves a device by its platform identifier.
func (r *PostgresRepository) GetByLibraryIdentifier(ctx context.Context, libraryID string) (*Device, error) {
	query := `
		SELECT device_id, library_identifier, push_token, device_info, last_seen_at, created_at
		FROM devices
		WHERE library_identifier = $1
	`
	return scanDevice(r.pool.QueryRow(ctx, query, libraryID))
}

// Upsert inserts or refreshes a device keyed by library identifier.
func (r *PostgresRepository) Upsert(ctx context.Context, d *Device) (*Device, error) {
	infoRaw, err := json.Marshal(d.Info)
	if err != nil {
		return nil, fmt.Errorf("encode device info: %w", err)
	}

	query := `
		INSERT INTO devices (device_id, library_identifier, push_token, device_info, last_seen_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (library_identifier) DO UPDATE SET
			push_token = EXCLUDED.push_token,
			device_info = EXCLUDED.device_info,
			last_seen_at = EXCLUDED.last_seen_at
		RETURNING device_id, library_identifier, push_token, device_info, last_seen_at, created_at
	`
	return scanDevice(r.pool.QueryRow(ctx, query,
		d.ID, d.LibraryIdentifier, d.PushToken, infoRaw, d.LastSeenAt, d.CreatedAt,
	))
}

// TouchLastSeen refreshes a device's last-seen timestamp.
func (r *PostgresRepository) TouchLastSeen(ctx context.Context, libraryID string, seenAt time.Time) error {
	query := `UPDATE devices SET last_seen_at = $2 WHERE library_identifier = $1`
	result, err := r.pool.Exec(ctx, query, libraryID, seenAt)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// ListAll returns every known device.
func (r *PostgresRepository) ListAll(ctx context.Context) ([]*Device, error) {
	query := `
		SELECT device_id, library_identifier, push_token, device_info, last_seen_at, created_at
		FROM devices
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []*Device
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// DeleteUnseenSince deletes devices not seen since the cutoff. Wallet-log
// rows reference devices with ON DELETE SET NULL, so log history survives
// the sweep.
func (r *PostgresRepository) DeleteUnseenSince(ctx context.Context, cutoff time.Time) (int, error) {
	query := `DELETE FROM devices WHERE last_seen_at < $1`
	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return int(result.RowsAffected()), nil
}

// Ensure PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
