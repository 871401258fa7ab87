// Package catalog exposes read-only projections of the offers, businesses,
// and customers managed by the merchant backend. The synchronization engine
// never writes these entities except the lifetime counters on the customer
// aggregate, which are best-effort fed from ledger mutations.
package catalog

import (
	"errors"
	"time"
)

// Catalog errors.
var (
	ErrOfferNotFound    = errors.New("offer not found")
	ErrBusinessNotFound = errors.New("business not found")
	ErrCustomerNotFound = errors.New("customer not found")
)

// Offer is the loyalty program definition a card is issued against.
type Offer struct {
	ID                string
	BusinessID        string
	Name              string
	RewardDescription string
	StampsRequired    int

	// ValidUntil, when set, drives the pass's scheduled expiration.
	ValidUntil *time.Time
}

// Business is the merchant running an offer.
type Business struct {
	ID       string
	Name     string
	Timezone string
}

// Customer is the cardholder, with the lifetime counters the ledger
// propagates into.
type Customer struct {
	ID   string
	Name string

	TotalStamps    int
	TotalVisits    int
	RewardsClaimed int
	LastActivityAt *time.Time
}
