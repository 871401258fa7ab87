// Package notify fans out silent change pushes to the devices registered
// for a pass, with a per-pass daily cap so a scan-happy merchant cannot
// drain customer batteries.
package notify

import "time"

// DefaultDailyCap is the number of pushes one pass may trigger per local
// calendar day.
const DefaultDailyCap = 10

// HistoryWindow bounds the send history; entries older than this are
// pruned on every write.
const HistoryWindow = 30 * 24 * time.Hour

// HistoryEntry records one dispatched notification for a pass.
type HistoryEntry struct {
	ID     string
	PassID string

	// Type distinguishes update pushes from other notification kinds.
	Type   string
	Header string
	Body   string

	SentAt time.Time

	// CountAtSend is how many notifications the pass had triggered that
	// day, this one included. Makes cap behavior auditable after the
	// fact.
	CountAtSend int
}

// Notification types.
const (
	TypePassUpdate = "pass_update"
)

// DispatchResult summarizes one dispatch run.
type DispatchResult struct {
	PassID  string
	Devices int
	Sent    int

	// Failures lists the devices that could not be reached. Failures
	// never fail the dispatch itself.
	Failures []DeviceFailure

	// InvalidTokens counts device tokens the provider declared dead.
	InvalidTokens int

	// CapExceeded is set when the daily cap suppressed the send.
	CapExceeded bool

	// PushDisabled is set when the kill switch suppressed the send.
	PushDisabled bool
}

// DeviceFailure is one device that could not be notified.
type DeviceFailure struct {
	DeviceLibraryID string
	Reason          string
}
