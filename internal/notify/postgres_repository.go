package notify

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL history repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Append stores a history entry.
func (r *PostgresRepository) Append(ctx context.Context, e *HistoryEntry) error {
	query := `
		INSERT INTO notification_history
			(history_id, pass_id, type, header, body, sent_at, count_at_send)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.pool.Exec(ctx, query,
		e.ID, e.PassID, e.Type, e.Header, e.Body, e.SentAt, e.CountAtSend,
	)
	return err
}

// CountSince counts entries for a pass sent at or after the cutoff.
func (r *PostgresRepository) CountSince(ctx context.Context, passID string, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM notification_history WHERE pass_id = $1 AND sent_at >= $2`
	var count int
	if err := r.pool.QueryRow(ctx, query, passID, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// PruneBefore deletes entries older than the cutoff.
func (r *PostgresRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `DELETE FROM notification_history WHERE sent_at < $1`
	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return int(result.RowsAffected()), nil
}

// Ensure PostgresRepository implements Repository.
var _ Repository = (*PostgresRepository)(nil)
