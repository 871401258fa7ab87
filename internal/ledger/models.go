// Package ledger tracks stamp progress for one customer on one offer and
// owns the completion/claim/reset reward cycle.
//
// The cycle repeats: InProgress (stamps < max) advances to Completed
// (stamps == max), a claim resets the entry to InProgress(0) and bumps the
// cycle counter. IsCompleted therefore describes only the current cycle,
// never history; RewardsClaimed is the monotonic record of finished cycles.
package ledger

import (
	"errors"
	"math"
	"time"
)

// Ledger errors.
var (
	ErrEntryNotFound = errors.New("ledger entry not found")
	ErrEntryExists   = errors.New("ledger entry already exists for customer and offer")

	// ErrRewardNotEarned is returned when a claim or fulfillment is
	// attempted on an incomplete cycle.
	ErrRewardNotEarned = errors.New("reward not earned: cycle is not completed")
)

// Entry is one customer's stamp progress toward one offer.
type Entry struct {
	// ID is the unique entry identifier (format: led_XXXX).
	ID string

	// CustomerID and OfferID form the entry's unique business key.
	CustomerID string
	OfferID    string

	// CurrentStamps is the stamp count in the current cycle, clamped to
	// [0, MaxStamps].
	CurrentStamps int

	// MaxStamps is the stamp requirement of the offer (>= 1).
	MaxStamps int

	// IsCompleted is true iff CurrentStamps == MaxStamps in the current
	// cycle. Reset to false by a claim.
	IsCompleted bool

	// CompletedAt is when the current cycle completed, nil otherwise.
	CompletedAt *time.Time

	// RewardsClaimed counts finished cycles. Monotonic.
	RewardsClaimed int

	// Fulfillment metadata for the most recent reward handout.
	RewardFulfilledAt *time.Time
	FulfilledByBranch *string
	FulfillmentNotes  *string

	// Scan bookkeeping across all cycles.
	FirstScanAt *time.Time
	LastScanAt  *time.Time
	TotalScans  int

	// CreatedAt is when the customer joined the offer.
	CreatedAt time.Time

	// UpdatedAt is when the entry was last mutated.
	UpdatedAt time.Time
}

// ProgressPercentage returns the current cycle's progress rounded to whole
// percent.
func (e *Entry) ProgressPercentage() int {
	if e.MaxStamps <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(e.CurrentStamps) / float64(e.MaxStamps)))
}

// Remaining returns the stamps still needed in the current cycle.
func (e *Entry) Remaining() int {
	if r := e.MaxStamps - e.CurrentStamps; r > 0 {
		return r
	}
	return 0
}

// CanClaim reports whether the current cycle's reward is claimable.
func (e *Entry) CanClaim() bool {
	return e.IsCompleted
}

// EstimatedDaysToComplete projects the days until the current cycle
// completes from the customer's observed stamp rate. Returns nil when there
// is nothing to project: no scans yet, an already completed cycle, or a
// single data point.
func (e *Entry) EstimatedDaysToComplete(now time.Time) *int {
	if e.FirstScanAt == nil || e.IsCompleted || e.TotalScans <= 1 || e.CurrentStamps <= 0 {
		return nil
	}

	days := now.Sub(*e.FirstScanAt).Hours() / 24
	if days <= 0 {
		return nil
	}

	rate := float64(e.CurrentStamps) / days
	est := int(math.Ceil(float64(e.Remaining()) / rate))
	return &est
}

// copyEntry returns a deep copy of an entry.
func copyEntry(e *Entry) *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.CompletedAt = copyTime(e.CompletedAt)
	c.RewardFulfilledAt = copyTime(e.RewardFulfilledAt)
	c.FulfilledByBranch = copyString(e.FulfilledByBranch)
	c.FulfillmentNotes = copyString(e.FulfillmentNotes)
	c.FirstScanAt = copyTime(e.FirstScanAt)
	c.LastScanAt = copyTime(e.LastScanAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
