package resilience

import (
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// UpstreamHealth is the health view of one upstream collaborator, surfaced
// on the readiness endpoint.
type UpstreamHealth struct {
	// Name is the upstream identifier (apns, imaging, signing).
	Name string

	// CircuitState is the current circuit breaker state.
	CircuitState gobreaker.State

	// Counts contains circuit breaker statistics.
	Counts gobreaker.Counts

	// LastSuccessAt is the timestamp of the last successful request.
	LastSuccessAt *time.Time

	// LastFailureAt is the timestamp of the last failed request.
	LastFailureAt *time.Time

	// LastError is the most recent error message, if any.
	LastError string
}

// IsHealthy returns true when the breaker is closed.
func (h *UpstreamHealth) IsHealthy() bool {
	return h.CircuitState == gobreaker.StateClosed
}

// Upstreams tracks the resilient clients talking to upstream collaborators
// and their recent outcomes.
type Upstreams struct {
	mu      sync.RWMutex
	clients map[string]*trackedUpstream
}

type trackedUpstream struct {
	client        *Client
	lastSuccessAt *time.Time
	lastFailureAt *time.Time
	lastError     string
}

// NewUpstreams creates an empty upstream tracker.
func NewUpstreams() *Upstreams {
	return &Upstreams{clients: make(map[string]*trackedUpstream)}
}

// Track adds an upstream client to the tracker.
func (u *Upstreams) Track(name string, client *Client) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.clients[name] = &trackedUpstream{client: client}
}

// RecordSuccess records a successful request for an upstream.
func (u *Upstreams) RecordSuccess(name string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if c, ok := u.clients[name]; ok {
		now := time.Now()
		c.lastSuccessAt = &now
	}
}

// RecordFailure records a failed request for an upstream.
func (u *Upstreams) RecordFailure(name string, err error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if c, ok := u.clients[name]; ok {
		now := time.Now()
		c.lastFailureAt = &now
		if err != nil {
			c.lastError = err.Error()
		}
	}
}

// Health returns the health of every tracked upstream.
func (u *Upstreams) Health() []*UpstreamHealth {
	u.mu.RLock()
	defer u.mu.RUnlock()

	health := make([]*UpstreamHealth, 0, len(u.clients))
	for name, c := range u.clients {
		health = append(health, &UpstreamHealth{
			Name:          name,
			CircuitState:  c.client.CircuitBreakerState(),
			Counts:        c.client.CircuitBreakerCounts(),
			LastSuccessAt: c.lastSuccessAt,
			LastFailureAt: c.lastFailureAt,
			LastError:     c.lastError,
		})
	}
	return health
}
