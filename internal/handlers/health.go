package handlers

import (
	"context"
	"net/http"
	"time"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/httpx"
)

// ReadinessCollector reports dependency health.
type ReadinessCollector interface {
	Collect(ctx context.Context) domain.ReadinessReport
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	readiness ReadinessCollector
	started   time.Time
	version   string
}

type HealthOption func(*HealthHandlers)

func WithReadiness(collector ReadinessCollector) HealthOption {
	return func(h *HealthHandlers) {
		h.readiness = collector
	}
}

func WithBuildVersion(version string) HealthOption {
	return func(h *HealthHandlers) {
		h.version = version
	}
}

func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{started: time.Now()}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

type livenessResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	Version   string `json:"version,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Healthz never touches dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, livenessResponse{
		Status:    string(domain.HealthStatusOK),
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
		Version:   h.version,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz returns 503 only when a required dependency failed. Degraded still reports ready.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.readiness == nil {
		h.Healthz(w, r)
		return
	}
	report := h.readiness.Collect(r.Context())
	status := http.StatusOK
	if report.Status == domain.HealthStatusError {
		status = http.StatusServiceUnavailable
	}
	httpx.WriteJSON(w, status, report)
}
