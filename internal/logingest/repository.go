package logingest

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists wallet log records.
type Repository interface {
	Insert(ctx context.Context, records []*Record) error
}

// PostgresRepository is a PostgreSQL implementation of Repository. The
// device_id column references devices with ON DELETE SET NULL, so pruning
// a device keeps its logs.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL log repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Insert stores the records.
func (r *PostgresRepository) Insert(ctx context.Context, records []*Record) error {
	query := `
		INSERT INTO wallet_logs (log_id, message, pattern, device_id, user_agent, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, rec := range records {
		if _, err := r.pool.Exec(ctx, query,
			rec.ID, rec.Message, rec.Pattern, rec.DeviceID, rec.UserAgent, rec.ReceivedAt,
		); err != nil {
			return err
		}
	}
	return nil
}

// InMemoryRepository is an in-memory implementation of Repository used by
// tests.
type InMemoryRepository struct {
	mu      sync.Mutex
	records []*Record
}

// NewInMemoryRepository creates a new in-memory log repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{}
}

// Insert stores the records.
func (r *InMemoryRepository) Insert(_ context.Context, records []*Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		c := *rec
		r.records = append(r.records, &c)
	}
	return nil
}

// All returns the stored records, for tests.
func (r *InMemoryRepository) All() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Record, len(r.records))
	copy(out, r.records)
	return out
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*InMemoryRepository)(nil)
)
