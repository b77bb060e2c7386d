package domain

import "time"

// HealthStatus summarises the state of a dependency or the whole service.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// DependencyHealth is the outcome of probing one dependency.
type DependencyHealth struct {
	Status    HealthStatus  `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Latency   time.Duration `json:"latencyMs"`
	CheckedAt time.Time     `json:"checkedAt"`
}

// ReadinessReport aggregates dependency probes.
type ReadinessReport struct {
	Status      HealthStatus                `json:"status"`
	Checks      map[string]DependencyHealth `json:"checks"`
	GeneratedAt time.Time                   `json:"generatedAt"`
}
