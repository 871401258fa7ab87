// Package push delivers the silent change notifications that make wallets
// poll for updated passes. The only implementation that leaves the process
// is APNs; Google-platform updates are handled by the external wallet API
// collaborator and never pass through here.
package push

import (
	"context"
	"sync"
)

// Failure is one device token that could not be notified.
type Failure struct {
	Token  string
	Reason string
}

// BatchResult summarizes one fan-out.
type BatchResult struct {
	Sent     int
	Failures []Failure

	// InvalidTokens are tokens the provider rejected as dead. Callers
	// should stop pushing to these devices.
	InvalidTokens []string
}

// Sender delivers silent pushes to a batch of device tokens. Per-token
// failures land in the result; the error is reserved for total outage.
type Sender interface {
	SendBatch(ctx context.Context, tokens []string) (*BatchResult, error)
}

// FakeSender records batches for tests.
type FakeSender struct {
	mu      sync.Mutex
	batches [][]string

	// FailTokens maps tokens to a failure reason.
	FailTokens map[string]string

	// InvalidTokens marks tokens the provider would report as dead.
	InvalidTokens map[string]bool

	// Err, when set, fails the whole batch.
	Err error
}

// NewFakeSender creates an empty fake sender.
func NewFakeSender() *FakeSender {
	return &FakeSender{
		FailTokens:    make(map[string]string),
		InvalidTokens: make(map[string]bool),
	}
}

// SendBatch records the batch and applies the configured outcomes.
func (f *FakeSender) SendBatch(_ context.Context, tokens []string) (*BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return nil, f.Err
	}

	f.batches = append(f.batches, append([]string(nil), tokens...))

	result := &BatchResult{}
	for _, token := range tokens {
		if f.InvalidTokens[token] {
			result.InvalidTokens = append(result.InvalidTokens, token)
			continue
		}
		if reason, ok := f.FailTokens[token]; ok {
			result.Failures = append(result.Failures, Failure{Token: token, Reason: reason})
			continue
		}
		result.Sent++
	}
	return result, nil
}

// Batches returns the recorded batches.
func (f *FakeSender) Batches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.batches))
	copy(out, f.batches)
	return out
}

var _ Sender = (*FakeSender)(nil)
