package api

import (
	"net/http"
	"time"

	"github.com/receiptless/receiptless/internal/health"
)

// HealthHandlers reports dependency health.
type HealthHandlers struct {
	checkers map[string]health.Checker
}

// NewHealthHandlers creates health handlers over the given named checkers.
// Checkers may be nil for deployments without that dependency.
func NewHealthHandlers(checkers map[string]health.Checker) *HealthHandlers {
	filtered := make(map[string]health.Checker, len(checkers))
	for name, c := range checkers {
		if c != nil {
			filtered[name] = c
		}
	}
	return &HealthHandlers{checkers: filtered}
}

// HealthResponse represents the health check response body.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Health handles GET /health - probes every dependency and returns 503 if
// any of them fail.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(h.checkers))
	overall := "ok"

	for name, checker := range h.checkers {
		if err := checker.HealthCheck(r.Context()); err != nil {
			checks[name] = err.Error()
			overall = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	writeJSON(w, r.Context(), status, HealthResponse{
		Status:    overall,
		Checks:    checks,
		Timestamp: time.Now().UTC(),
	})
}
