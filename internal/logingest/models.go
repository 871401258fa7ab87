// Package logingest stores the error logs wallets submit through the web
// service protocol. Everything here is best-effort diagnostics: a broken
// database or a flooded endpoint must never surface to the device.
package logingest

import "time"

// Pattern buckets a log line by the failure class it reports.
type Pattern string

const (
	PatternSignature   Pattern = "signature"
	PatternCertificate Pattern = "certificate"
	PatternManifest    Pattern = "manifest"
	PatternImage       Pattern = "image"
	PatternOther       Pattern = "other"
)

// Record is one stored wallet log line.
type Record struct {
	ID      string
	Message string
	Pattern Pattern

	// DeviceID is the correlated device, when the submitting user agent
	// matches a registered one. Nil otherwise, and nulled when the
	// device is pruned.
	DeviceID *string

	UserAgent  string
	ReceivedAt time.Time
}

// DefaultSpikeThreshold is the per-minute submission rate above which the
// ingest flags a spike. A healthy fleet submits logs rarely; a sustained
// burst means a broken pass is in the wild.
const DefaultSpikeThreshold = 60

// SamplingDivisor is the keep rate under the sampling-only flag: one line
// in this many is stored.
const SamplingDivisor = 10
