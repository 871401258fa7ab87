// Package design looks up the card design an offer renders with. Designs
// are authored in the merchant dashboard; this package only reads them.
package design

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDesignNotFound is returned when an offer has no stored design.
var ErrDesignNotFound = errors.New("card design not found")

// CardDesign holds the branding applied to a pass. Colors are CSS rgb()
// strings as the wallet payload expects; asset fields are storage keys the
// image renderer resolves.
type CardDesign struct {
	OfferID string

	BackgroundColor string
	ForegroundColor string
	LabelColor      string

	IconKey  string
	LogoKey  string
	StripKey string

	// StampImageKey and UnstampedImageKey draw the progress grid on the
	// strip image.
	StampImageKey     string
	UnstampedImageKey string
}

// DefaultDesign is used when an offer has no stored design yet.
var DefaultDesign = CardDesign{
	BackgroundColor: "rgb(33, 33, 33)",
	ForegroundColor: "rgb(255, 255, 255)",
	LabelColor:      "rgb(189, 189, 189)",
}

// Repository looks up card designs.
type Repository interface {
	GetByOffer(ctx context.Context, offerID string) (*CardDesign, error)
}

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL design repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// GetByOffer retrieves the design for an offer.
func (r *PostgresRepository) GetByOffer(ctx context.Context, offerID string) (*CardDesign, error) {
	query := `
		SELECT offer_id, background_color, foreground_color, label_color,
		       icon_key, logo_key, strip_key, stamp_image_key, unstamped_image_key
		FROM card_designs
		WHERE offer_id = $1
	`
	var d CardDesign
	err := r.pool.QueryRow(ctx, query, offerID).Scan(
		&d.OfferID, &d.BackgroundColor, &d.ForegroundColor, &d.LabelColor,
		&d.IconKey, &d.LogoKey, &d.StripKey, &d.StampImageKey, &d.UnstampedImageKey,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDesignNotFound
		}
		return nil, err
	}
	return &d, nil
}

// InMemoryRepository is an in-memory implementation of Repository used by
// tests.
type InMemoryRepository struct {
	mu      sync.Mutex
	designs map[string]*CardDesign
}

// NewInMemoryRepository creates a new in-memory design repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{designs: make(map[string]*CardDesign)}
}

// Seed stores a design for tests.
func (r *InMemoryRepository) Seed(d *CardDesign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *d
	r.designs[d.OfferID] = &c
}

// GetByOffer retrieves the design for an offer.
func (r *InMemoryRepository) GetByOffer(_ context.Context, offerID string) (*CardDesign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.designs[offerID]
	if !ok {
		return nil, ErrDesignNotFound
	}
	c := *d
	return &c, nil
}

// Lookup returns the offer's design, falling back to DefaultDesign when
// none is stored.
func Lookup(ctx context.Context, repo Repository, offerID string) (*CardDesign, error) {
	d, err := repo.GetByOffer(ctx, offerID)
	if errors.Is(err, ErrDesignNotFound) {
		fallback := DefaultDesign
		fallback.OfferID = offerID
		return &fallback, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*InMemoryRepository)(nil)
)
