// Package pass owns the durable representation of issued wallet passes and
// their regeneration: payload building, manifest hashing, signing, and
// bundle assembly.
//
// One record exists per customer×offer×platform. Apple records carry the
// caching and auth metadata the wallet web service needs (auth token, update
// tag, manifest ETag); Google records hold only the object identity, since
// Google-platform updates flow through the external push collaborator.
package pass

import (
	"errors"
	"strconv"
	"time"
)

// Pass errors.
var (
	ErrPassNotFound = errors.New("pass not found")
	ErrPassExists   = errors.New("pass already exists for customer, offer, and platform")

	// ErrUnauthorized is returned when a presented auth token does not
	// match the stored one. Deliberately carries no detail.
	ErrUnauthorized = errors.New("unauthorized")
)

// Platform identifies the wallet platform a pass was issued on.
type Platform string

const (
	PlatformApple  Platform = "apple"
	PlatformGoogle Platform = "google"
)

// Status is the lifecycle status of a pass.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
	StatusDeleted   Status = "deleted"
)

// ExpiredRetentionWindow is how long a pass is kept after its scheduled
// expiration before the retention sweep soft-deletes it.
const ExpiredRetentionWindow = 90 * 24 * time.Hour

// Record is the durable state of one issued wallet pass.
type Record struct {
	// ID is the internal identifier (format: pas_XXXX).
	ID string

	// References to the entities the pass renders.
	LedgerEntryID string
	OfferID       string
	BusinessID    string
	CustomerID    string

	Platform Platform
	Status   Status

	// SerialNumber is the Apple pass serial; ObjectID is the Google
	// object id. Exactly one is populated, matching Platform.
	SerialNumber string
	ObjectID     string

	// AuthToken is the Apple web-service token, lazily generated and
	// persisted exactly once. Empty until first requested.
	AuthToken string

	// UpdateTag is the opaque monotonically advancing marker devices use
	// as their staleness cursor. Unix seconds by convention.
	UpdateTag string

	// ManifestETag is the hash of the last-served manifest.
	ManifestETag string

	// Snapshot is the full regeneration input persisted at the last
	// regeneration.
	Snapshot *Snapshot

	// LastUpdatedAt backs the If-Modified-Since check.
	LastUpdatedAt time.Time

	// Lifecycle fields.
	ScheduledExpirationAt *time.Time
	ExpirationNotified    bool
	DeletedAt             *time.Time

	CreatedAt time.Time
}

// Snapshot is the explicitly-typed regeneration input. A typed struct
// rather than an open map keeps the schema from drifting; only the raw
// user-agent style vendor strings stay free-form inside device metadata.
type Snapshot struct {
	OfferName         string `json:"offerName"`
	RewardDescription string `json:"rewardDescription"`
	BusinessName      string `json:"businessName"`
	CustomerName      string `json:"customerName"`

	CurrentStamps  int `json:"currentStamps"`
	MaxStamps      int `json:"maxStamps"`
	RewardsClaimed int `json:"rewardsClaimed"`

	CurrentTier       string `json:"currentTier"`
	NextTier          string `json:"nextTier,omitempty"`
	RewardsToNextTier int    `json:"rewardsToNextTier,omitempty"`

	BackgroundColor string `json:"backgroundColor"`
	ForegroundColor string `json:"foregroundColor"`
	LabelColor      string `json:"labelColor"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// TagAfter reports whether the record's update tag is strictly newer than
// the given cursor. Tags are Unix-seconds strings compared numerically; an
// unparsable cursor counts as zero so a garbage cursor returns everything
// rather than nothing.
func (r *Record) TagAfter(since string) bool {
	return parseTag(r.UpdateTag) > parseTag(since)
}

func parseTag(tag string) int64 {
	v, err := strconv.ParseInt(tag, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// copyRecord returns a deep copy of a record.
func copyRecord(r *Record) *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Snapshot != nil {
		s := *r.Snapshot
		c.Snapshot = &s
	}
	if r.ScheduledExpirationAt != nil {
		v := *r.ScheduledExpirationAt
		c.ScheduledExpirationAt = &v
	}
	if r.DeletedAt != nil {
		v := *r.DeletedAt
		c.DeletedAt = &v
	}
	return &c
}
