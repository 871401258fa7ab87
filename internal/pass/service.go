package pass

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stampwise/stampwise/internal/catalog"
	"github.com/stampwise/stampwise/internal/design"
	"github.com/stampwise/stampwise/internal/imaging"
	"github.com/stampwise/stampwise/internal/ledger"
	"github.com/stampwise/stampwise/internal/signing"
	"github.com/stampwise/stampwise/internal/tier"
)

// EntrySource supplies the ledger entries passes render.
type EntrySource interface {
	Get(ctx context.Context, id string) (*ledger.Entry, error)
}

// CatalogSource supplies the offer, business, and customer projections.
type CatalogSource interface {
	Offer(ctx context.Context, id string) (*catalog.Offer, error)
	Business(ctx context.Context, id string) (*catalog.Business, error)
	Customer(ctx context.Context, id string) (*catalog.Customer, error)
}

// FlagSource gates the regeneration pipeline.
type FlagSource interface {
	IsPassRegenerationDisabled(ctx context.Context) bool
}

// NopFlags never disables anything.
type NopFlags struct{}

// IsPassRegenerationDisabled always reports false.
func (NopFlags) IsPassRegenerationDisabled(context.Context) bool { return false }

// Bundle is one assembled .pkpass archive plus its caching metadata.
type Bundle struct {
	Data         []byte
	ETag         string
	LastModified time.Time
	Filename     string
}

// Service owns pass issuance, regeneration, and bundle assembly.
type Service struct {
	repo     Repository
	entries  EntrySource
	catalog  CatalogSource
	designs  design.Repository
	tiers    *tier.Calculator
	renderer imaging.Renderer
	signer   signing.Signer
	flags    FlagSource
	apple    AppleConfig
	logger   zerolog.Logger
	now      func() time.Time
}

// ServiceConfig holds configuration for the pass service.
type ServiceConfig struct {
	Repository Repository
	Entries    EntrySource
	Catalog    CatalogSource
	Designs    design.Repository
	Tiers      *tier.Calculator
	Renderer   imaging.Renderer
	Signer     signing.Signer
	Flags      FlagSource
	Apple      AppleConfig
	Logger     zerolog.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewService creates a new pass service.
func NewService(cfg ServiceConfig) *Service {
	flags := cfg.Flags
	if flags == nil {
		flags = NopFlags{}
	}
	tiers := cfg.Tiers
	if tiers == nil {
		tiers = tier.NewCalculator(nil)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:     cfg.Repository,
		entries:  cfg.Entries,
		catalog:  cfg.Catalog,
		designs:  cfg.Designs,
		tiers:    tiers,
		renderer: cfg.Renderer,
		signer:   cfg.Signer,
		flags:    flags,
		apple:    cfg.Apple,
		logger:   cfg.Logger,
		now:      now,
	}
}

// Issue creates the pass record for a ledger entry on one platform. The
// snapshot is taken immediately so the first fetch never races the merchant
// backend.
func (s *Service) Issue(ctx context.Context, entryID string, platform Platform) (*Record, error) {
	entry, err := s.entries.Get(ctx, entryID)
	if err != nil {
		return nil, fmt.Errorf("load ledger entry: %w", err)
	}
	offer, err := s.catalog.Offer(ctx, entry.OfferID)
	if err != nil {
		return nil, fmt.Errorf("load offer: %w", err)
	}
	snap, err := s.buildSnapshot(ctx, entry)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec := &Record{
		ID:            "pas_" + uuid.New().String()[:22],
		LedgerEntryID: entry.ID,
		OfferID:       entry.OfferID,
		BusinessID:    offer.BusinessID,
		CustomerID:    entry.CustomerID,
		Platform:      platform,
		Status:        StatusActive,
		UpdateTag:     strconv.FormatInt(now.Unix(), 10),
		Snapshot:      snap,
		LastUpdatedAt: now,
		CreatedAt:     now,
	}
	switch platform {
	case PlatformApple:
		rec.SerialNumber = strings.ToUpper(uuid.New().String())
	case PlatformGoogle:
		rec.ObjectID = "stampwise." + uuid.New().String()
	}
	if offer.ValidUntil != nil {
		exp := *offer.ValidUntil
		rec.ScheduledExpirationAt = &exp
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("pass_id", rec.ID).
		Str("platform", string(platform)).
		Str("ledger_entry_id", entry.ID).
		Msg("pass issued")
	return rec, nil
}

// Get retrieves a pass by internal ID.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	return s.repo.Get(ctx, id)
}

// FindBySerial retrieves an Apple pass by serial number.
func (s *Service) FindBySerial(ctx context.Context, serial string) (*Record, error) {
	return s.repo.GetBySerial(ctx, serial)
}

// FindByCustomerOfferPlatform retrieves the pass for the unique triple.
func (s *Service) FindByCustomerOfferPlatform(ctx context.Context, customerID, offerID string, platform Platform) (*Record, error) {
	return s.repo.GetByCustomerOfferPlatform(ctx, customerID, offerID, platform)
}

// EnsureAuthToken returns the pass's web-service auth token, minting and
// persisting one on first use. Concurrent first callers converge on a
// single winner through the repository's atomic write.
func (s *Service) EnsureAuthToken(ctx context.Context, rec *Record) (string, error) {
	if rec.AuthToken != "" {
		return rec.AuthToken, nil
	}
	candidate, err := newAuthToken(rec.CustomerID, rec.OfferID, s.now())
	if err != nil {
		return "", err
	}
	token, err := s.repo.EnsureAuthToken(ctx, rec.ID, candidate)
	if err != nil {
		return "", err
	}
	rec.AuthToken = token
	return token, nil
}

// VerifyAuthToken checks a presented token against the stored one in
// constant time. A pass that never had its token issued rejects everything.
func (s *Service) VerifyAuthToken(rec *Record, presented string) error {
	if rec.AuthToken == "" || presented == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(rec.AuthToken), []byte(presented)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// MarkChanged refreshes the pass snapshot from live projections and
// advances the update tag, so registered devices see the pass as stale.
// Called after every ledger mutation that changes pass-visible state. The
// tag always moves forward even when the rendered content is identical.
func (s *Service) MarkChanged(ctx context.Context, passID string) (*Record, error) {
	rec, err := s.repo.Get(ctx, passID)
	if err != nil {
		return nil, err
	}

	if s.flags.IsPassRegenerationDisabled(ctx) {
		s.logger.Warn().
			Str("pass_id", passID).
			Msg("pass regeneration disabled, skipping snapshot refresh")
		return rec, nil
	}

	entry, err := s.entries.Get(ctx, rec.LedgerEntryID)
	if err != nil {
		return nil, fmt.Errorf("load ledger entry: %w", err)
	}
	snap, err := s.buildSnapshot(ctx, entry)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec.Snapshot = snap
	rec.UpdateTag = advanceTag(rec.UpdateTag, now)
	rec.LastUpdatedAt = now
	switch rec.Status {
	case StatusActive, StatusCompleted:
		if entry.IsCompleted {
			rec.Status = StatusCompleted
		} else {
			rec.Status = StatusActive
		}
	}

	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Assemble builds the .pkpass archive for a record from its stored
// snapshot. Every assembly advances the update tag, content change or not;
// the device takes the returned state as its next sync cursor. The manifest
// ETag is persisted alongside so later conditional fetches can
// short-circuit before reassembling.
func (s *Service) Assemble(ctx context.Context, rec *Record) (*Bundle, error) {
	snap := rec.Snapshot
	if snap == nil {
		// Pre-snapshot record from an older issue path.
		entry, err := s.entries.Get(ctx, rec.LedgerEntryID)
		if err != nil {
			return nil, fmt.Errorf("load ledger entry: %w", err)
		}
		if snap, err = s.buildSnapshot(ctx, entry); err != nil {
			return nil, err
		}
		rec.Snapshot = snap
	}

	if _, err := s.EnsureAuthToken(ctx, rec); err != nil {
		return nil, fmt.Errorf("ensure auth token: %w", err)
	}

	payload, err := json.Marshal(BuildApplePayload(s.apple, rec, snap))
	if err != nil {
		return nil, fmt.Errorf("encode pass payload: %w", err)
	}

	d, err := design.Lookup(ctx, s.designs, rec.OfferID)
	if err != nil {
		return nil, fmt.Errorf("load card design: %w", err)
	}
	images, err := s.renderer.Render(ctx, imaging.RenderRequest{
		Platform: string(rec.Platform),
		Design:   *d,
		Progress: imaging.RenderProgressSpec{
			CurrentStamps: snap.CurrentStamps,
			MaxStamps:     snap.MaxStamps,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("render pass images: %w", err)
	}

	files := make(map[string][]byte, len(images)+1)
	files["pass.json"] = payload
	for name, data := range images {
		files[name] = data
	}

	manifest, etag, err := BuildManifest(files)
	if err != nil {
		return nil, err
	}
	signature, err := s.signer.Sign(ctx, manifest)
	if err != nil {
		return nil, fmt.Errorf("sign manifest: %w", err)
	}
	data, err := BuildBundle(files, manifest, signature)
	if err != nil {
		return nil, err
	}

	now := s.now()
	rec.ManifestETag = etag
	rec.UpdateTag = advanceTag(rec.UpdateTag, now)
	rec.LastUpdatedAt = now
	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist assembly state: %w", err)
	}

	return &Bundle{
		Data:         data,
		ETag:         etag,
		LastModified: rec.LastUpdatedAt,
		Filename:     SanitizeFilename(snap.OfferName) + ".pkpass",
	}, nil
}

// NotModified evaluates the conditional headers of a pass fetch.
// If-None-Match wins over If-Modified-Since when both are present.
func NotModified(rec *Record, ifNoneMatch, ifModifiedSince string) bool {
	if ifNoneMatch != "" {
		for _, candidate := range strings.Split(ifNoneMatch, ",") {
			candidate = strings.TrimSpace(candidate)
			candidate = strings.TrimPrefix(candidate, "W/")
			candidate = strings.Trim(candidate, `"`)
			if candidate != "" && candidate == rec.ManifestETag {
				return true
			}
		}
		return false
	}
	if ifModifiedSince != "" {
		since, err := http.ParseTime(ifModifiedSince)
		if err != nil {
			return false
		}
		// HTTP dates carry second precision.
		return !rec.LastUpdatedAt.Truncate(time.Second).After(since)
	}
	return false
}

// PruneDeleted soft-deletes passes whose scheduled expiration is past the
// retention window. Returns how many were marked. Called from the retention
// sweep.
func (s *Service) PruneDeleted(ctx context.Context) (int, error) {
	now := s.now()
	marked, err := s.repo.SoftDeleteExpiredBefore(ctx, now.Add(-ExpiredRetentionWindow), now)
	if err != nil {
		return 0, err
	}
	if marked > 0 {
		s.logger.Info().
			Int("marked", marked).
			Msg("soft-deleted passes past expiration retention")
	}
	return marked, nil
}

func (s *Service) buildSnapshot(ctx context.Context, entry *ledger.Entry) (*Snapshot, error) {
	offer, err := s.catalog.Offer(ctx, entry.OfferID)
	if err != nil {
		return nil, fmt.Errorf("load offer: %w", err)
	}
	business, err := s.catalog.Business(ctx, offer.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("load business: %w", err)
	}
	customer, err := s.catalog.Customer(ctx, entry.CustomerID)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}
	d, err := design.Lookup(ctx, s.designs, offer.ID)
	if err != nil {
		return nil, fmt.Errorf("load card design: %w", err)
	}
	standing := s.tiers.Standing(entry.RewardsClaimed)

	return &Snapshot{
		OfferName:         offer.Name,
		RewardDescription: offer.RewardDescription,
		BusinessName:      business.Name,
		CustomerName:      customer.Name,
		CurrentStamps:     entry.CurrentStamps,
		MaxStamps:         entry.MaxStamps,
		RewardsClaimed:    entry.RewardsClaimed,
		CurrentTier:       standing.CurrentTier,
		NextTier:          standing.NextTier,
		RewardsToNextTier: standing.RewardsToNextTier,
		BackgroundColor:   d.BackgroundColor,
		ForegroundColor:   d.ForegroundColor,
		LabelColor:        d.LabelColor,
		GeneratedAt:       s.now(),
	}, nil
}

// advanceTag moves the update tag to now, or one past the old tag when the
// clock has not ticked since the last change. Strict monotonicity is what
// lets devices use the tag as a cursor.
func advanceTag(old string, now time.Time) string {
	next := now.Unix()
	if prev := parseTag(old); next <= prev {
		next = prev + 1
	}
	return strconv.FormatInt(next, 10)
}

// newAuthToken mints a 32-hex-character token bound to the pass identity
// plus fresh randomness.
func newAuthToken(customerID, offerID string, now time.Time) (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("auth token nonce: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(customerID))
	h.Write([]byte{0})
	h.Write([]byte(offerID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(now.UnixNano(), 10)))
	h.Write(nonce)
	return hex.EncodeToString(h.Sum(nil))[:32], nil
}
