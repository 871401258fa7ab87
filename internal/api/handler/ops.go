// Package handler provides HTTP handlers for the Stampwise API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/stampwise/stampwise/internal/api/models"
	"github.com/stampwise/stampwise/internal/api/response"
	"github.com/stampwise/stampwise/internal/resilience"
)

// Pinger checks database connectivity. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	db        Pinger
	upstreams *resilience.Upstreams
}

// OpsHandlerConfig holds configuration for the ops handler.
type OpsHandlerConfig struct {
	Version   string
	BuildTime string
	DB        Pinger
	Upstreams *resilience.Upstreams
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsHandlerConfig) *OpsHandler {
	return &OpsHandler{
		version:   cfg.Version,
		buildTime: cfg.BuildTime,
		db:        cfg.DB,
		upstreams: cfg.Upstreams,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   time.Now().UTC(),
		Details: map[string]string{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check. Down when
// the database is unreachable, degraded when an upstream breaker is open.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status:  models.HealthStatusOK,
		Time:    time.Now().UTC(),
		Details: map[string]string{},
	}

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			health.Status = models.HealthStatusDown
			health.Details["database"] = err.Error()
		} else {
			health.Details["database"] = "ok"
		}
	}

	if h.upstreams != nil {
		for _, upstream := range h.upstreams.Health() {
			if upstream.IsHealthy() {
				health.Details[upstream.Name] = "ok"
				continue
			}
			if health.Status == models.HealthStatusOK {
				health.Status = models.HealthStatusDegraded
			}
			health.Details[upstream.Name] = "circuit " + upstream.CircuitState.String()
		}
	}

	status := http.StatusOK
	if health.Status == models.HealthStatusDown {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, health)
}
