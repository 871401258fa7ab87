package push

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/stampwise/stampwise/internal/resilience"
)

// APNs hosts.
const (
	APNsProductionHost = "https://api.push.apple.com"
	APNsSandboxHost    = "https://api.sandbox.push.apple.com"
)

// providerTokenTTL is how long a signed provider token is reused. Apple
// accepts tokens up to an hour old; refreshing at 50 minutes keeps a
// margin.
const providerTokenTTL = 50 * time.Minute

// silentPayload wakes the wallet without showing anything. Pass-update
// pushes carry no content; the device reacts by polling the web service.
var silentPayload = []byte(`{"aps":{"content-available":1}}`)

// APNsConfig holds the provider identity for token-based APNs auth.
type APNsConfig struct {
	Host   string
	Topic  string // the pass type identifier
	KeyID  string
	TeamID string

	// PrivateKey is the ES256 signing key downloaded from the developer
	// portal.
	PrivateKey *ecdsa.PrivateKey
}

// APNsSender sends silent pushes over the APNs HTTP/2 API.
type APNsSender struct {
	cfg    APNsConfig
	client *resilience.Client
	logger zerolog.Logger
	now    func() time.Time

	mu          sync.Mutex
	token       string
	tokenIssued time.Time
}

// NewAPNsSender creates a sender. The resilience client must wrap an
// HTTP/2-capable transport; APNs refuses HTTP/1.1.
func NewAPNsSender(cfg APNsConfig, client *resilience.Client, logger zerolog.Logger) *APNsSender {
	if cfg.Host == "" {
		cfg.Host = APNsProductionHost
	}
	return &APNsSender{cfg: cfg, client: client, logger: logger, now: time.Now}
}

// SendBatch pushes the silent payload to each token. Per-token rejections
// are collected in the result; only a provider-token failure aborts the
// batch.
func (s *APNsSender) SendBatch(ctx context.Context, tokens []string) (*BatchResult, error) {
	bearer, err := s.providerToken()
	if err != nil {
		return nil, fmt.Errorf("apns provider token: %w", err)
	}

	result := &BatchResult{}
	for _, token := range tokens {
		if err := s.sendOne(ctx, bearer, token); err != nil {
			var rejection *rejectionError
			if errors.As(err, &rejection) && rejection.tokenDead() {
				result.InvalidTokens = append(result.InvalidTokens, token)
			} else {
				result.Failures = append(result.Failures, Failure{Token: token, Reason: err.Error()})
			}
			continue
		}
		result.Sent++
	}
	return result, nil
}

func (s *APNsSender) sendOne(ctx context.Context, bearer, token string) error {
	url := s.cfg.Host + "/3/device/" + token
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(silentPayload)))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apns-topic", s.cfg.Topic)
	req.Header.Set("apns-push-type", "background")
	req.Header.Set("apns-priority", "5")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	var body struct {
		Reason string `json:"reason"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	_ = json.Unmarshal(raw, &body)

	return &rejectionError{status: resp.StatusCode, reason: body.Reason}
}

// providerToken returns a cached ES256 provider JWT, re-signing when the
// cached one nears Apple's one-hour limit.
func (s *APNsSender) providerToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Sub(s.tokenIssued) < providerTokenTTL {
		return s.token, nil
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": s.cfg.TeamID,
		"iat": now.Unix(),
	})
	tok.Header["kid"] = s.cfg.KeyID

	signed, err := tok.SignedString(s.cfg.PrivateKey)
	if err != nil {
		return "", err
	}
	s.token = signed
	s.tokenIssued = now
	s.logger.Debug().Str("key_id", s.cfg.KeyID).Msg("signed fresh apns provider token")
	return signed, nil
}

// LoadAuthKey parses the .p8 signing key downloaded from the developer
// portal.
func LoadAuthKey(pemBytes []byte) (*ecdsa.PrivateKey, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse apns auth key: %w", err)
	}
	return key, nil
}

// rejectionError is a non-200 APNs response for a single token.
type rejectionError struct {
	status int
	reason string
}

func (e *rejectionError) Error() string {
	if e.reason == "" {
		return fmt.Sprintf("apns rejected push: status %d", e.status)
	}
	return fmt.Sprintf("apns rejected push: %s (status %d)", e.reason, e.status)
}

// tokenDead reports whether the rejection means the device token will never
// work again.
func (e *rejectionError) tokenDead() bool {
	if e.status == http.StatusGone {
		return true
	}
	return e.reason == "BadDeviceToken" || e.reason == "Unregistered" || e.reason == "DeviceTokenNotForTopic"
}

var _ Sender = (*APNsSender)(nil)
