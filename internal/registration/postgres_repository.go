package registration

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL registration repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const registrationColumns = `
	registration_id, device_id, device_library_id, pass_id, pass_type_id,
	registered_at, last_checked_at
`

func scanRegistration(row pgx.Row) (*Registration, error) {
	var reg Registration
	err := row.Scan(
		&reg.ID,
		&reg.DeviceID,
		&reg.DeviceLibraryID,
		&reg.PassID,
		&reg.PassTypeID,
		&reg.RegisteredAt,
		&reg.LastCheckedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRegistrationNotFound
		}
		return nil, err
	}
	return &reg, nil
}

// Get retrieves the registration for a device-pass pair.
func (r *PostgresRepository) Get(ctx context.Context, deviceLibraryID, passID string) (*Registration, error) {
	query := `
		SELECT ` + registrationColumns + `
		FROM registrations
		WHERE device_library_id = $1 AND pass_id = $2
	`
	return scanRegistration(r.pool.QueryRow(ctx, query, deviceLibraryID, passID))
}

// Upsert creates the registration if the pair is new; an existing pair only
// gets its last-checked refreshed. Callers read creation off the returned
// row: a brand-new registration has RegisteredAt equal to LastCheckedAt.
func (r *PostgresRepository) Upsert(ctx context.Context, reg *Registration) (*Registration, error) {
	query := `
		INSERT INTO registrations (` + registrationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_library_id, pass_id)
		DO UPDATE SET last_checked_at = EXCLUDED.last_checked_at
		RETURNING ` + registrationColumns

	return scanRegistration(r.pool.QueryRow(ctx, query,
		reg.ID, reg.DeviceID, reg.DeviceLibraryID, reg.PassID, reg.PassTypeID,
		reg.RegisteredAt, reg.LastCheckedAt,
	))
}

// Delete removes the registration for a device-pass pair.
func (r *PostgresRepository) Delete(ctx context.Context, deviceLibraryID, passID string) (bool, error) {
	query := `DELETE FROM registrations WHERE device_library_id = $1 AND pass_id = $2`
	result, err := r.pool.Exec(ctx, query, deviceLibraryID, passID)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() > 0, nil
}

// ListPassIDsForDevice returns the pass ids a device is registered for.
func (r *PostgresRepository) ListPassIDsForDevice(ctx context.Context, deviceLibraryID, passTypeID string) ([]string, error) {
	query := `
		SELECT pass_id
		FROM registrations
		WHERE device_library_id = $1 AND pass_type_id = $2
	`
	rows, err := r.pool.Query(ctx, query, deviceLibraryID, passTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListForPass returns every registration for a pass.
func (r *PostgresRepository) ListForPass(ctx context.Context, passID string) ([]*Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM registrations WHERE pass_id = $1`
	rows, err := r.pool.Query(ctx, query, passID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

// TouchLastChecked records that the device polled for updates.
func (r *PostgresRepository) TouchLastChecked(ctx context.Context, deviceLibraryID, passTypeID string, at time.Time) error {
	query := `
		UPDATE registrations
		SET last_checked_at = $3
		WHERE device_library_id = $1 AND pass_type_id = $2
	`
	_, err := r.pool.Exec(ctx, query, deviceLibraryID, passTypeID, at)
	return err
}

// DeleteUncheckedSince removes registrations not checked since the cutoff.
func (r *PostgresRepository) DeleteUncheckedSince(ctx context.Context, cutoff time.Time) (int, error) {
	query := `DELETE FROM registrations WHERE last_checked_at < $1`
	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return int(result.RowsAffected()), nil
}

// Ensure PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
