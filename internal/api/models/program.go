package models

import "time"

// StampRequest is the body of POST /v1/program/cards/{cardId}/stamps.
// Count defaults to 1; a multi-stamp promotion can award more per visit.
type StampRequest struct {
	Count    int     `json:"count,omitempty"`
	BranchID *string `json:"branchId,omitempty"`
}

// ClaimRequest is the body of POST /v1/program/cards/{cardId}/claim.
type ClaimRequest struct {
	BranchID *string `json:"branchId,omitempty"`
	Notes    *string `json:"notes,omitempty"`
}

// FulfillmentRequest is the body of POST /v1/program/cards/{cardId}/fulfillment.
// Records who handed out the reward without resetting the cycle.
type FulfillmentRequest struct {
	BranchID string  `json:"branchId"`
	Notes    *string `json:"notes,omitempty"`
}

// Card is the program surface's view of one loyalty card: the ledger entry
// plus derived progress.
type Card struct {
	CustomerID    string     `json:"customerId"`
	OfferID       string     `json:"offerId"`
	CurrentStamps int        `json:"currentStamps"`
	MaxStamps     int        `json:"maxStamps"`
	IsCompleted   bool       `json:"isCompleted"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`

	RewardsClaimed int        `json:"rewardsClaimed"`
	FirstScanAt    *time.Time `json:"firstScanAt,omitempty"`
	LastScanAt     *time.Time `json:"lastScanAt,omitempty"`
	TotalScans     int        `json:"totalScans"`

	ProgressPercentage      int  `json:"progressPercentage"`
	Remaining               int  `json:"remaining"`
	CanClaim                bool `json:"canClaim"`
	EstimatedDaysToComplete *int `json:"estimatedDaysToComplete,omitempty"`
}

// DispatchResult reports a push fan-out triggered by a program action.
type DispatchResult struct {
	Sent    int  `json:"sent"`
	Failed  int  `json:"failed"`
	Skipped bool `json:"skipped,omitempty"`
}
