// Package signing calls the manifest-signing sidecar that holds the pass
// type certificate. The signature blob is opaque to this service; it goes
// into the bundle byte for byte.
package signing

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"

	"github.com/stampwise/stampwise/internal/resilience"
)

// Signer produces the detached signature for a pass manifest.
type Signer interface {
	Sign(ctx context.Context, manifest []byte) ([]byte, error)
}

// HTTPSigner talks to the signing sidecar through the resilience client.
type HTTPSigner struct {
	baseURL string
	client  *resilience.Client
}

// NewHTTPSigner creates a signer against the sidecar base URL.
func NewHTTPSigner(baseURL string, client *resilience.Client) *HTTPSigner {
	return &HTTPSigner{baseURL: baseURL, client: client}
}

// Sign posts the manifest and returns the raw signature blob.
func (s *HTTPSigner) Sign(ctx context.Context, manifest []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/sign", bytes.NewReader(manifest))
	if err != nil {
		return nil, fmt.Errorf("build sign request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sign call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("signing sidecar returned %d: %s", resp.StatusCode, payload)
	}

	signature, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read signature: %w", err)
	}
	return signature, nil
}

// FakeSigner returns a deterministic stand-in signature derived from the
// manifest hash. Tests assert signature presence and stability, never
// cryptographic validity.
type FakeSigner struct{}

// Sign returns a pseudo signature for the manifest.
func (FakeSigner) Sign(_ context.Context, manifest []byte) ([]byte, error) {
	sum := sha256.Sum256(manifest)
	return append([]byte("fakesig:"), sum[:]...), nil
}

var (
	_ Signer = (*HTTPSigner)(nil)
	_ Signer = (FakeSigner{})
)
