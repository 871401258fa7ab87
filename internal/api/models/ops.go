package models

import "time"

// HealthStatus is the coarse health of the service or a subsystem.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "OK"
	HealthStatusDegraded HealthStatus = "DEGRADED"
	HealthStatusDown     HealthStatus = "DOWN"
)

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus      `json:"status"`
	Time    time.Time         `json:"time"`
	Details map[string]string `json:"details,omitempty"`
}
