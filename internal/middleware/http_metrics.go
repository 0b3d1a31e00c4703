package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// normalizePath converts paths with dynamic segments to route patterns to
// prevent cardinality explosion in metrics. This maps paths like
// /api/proofs/Ab3xY9/status to /api/proofs/{id}/status.
func normalizePath(path string) string {
	// Exact matches for static routes (no normalization needed)
	staticRoutes := map[string]bool{
		"/":                    true,
		"/api/proofs":          true,
		"/api/merchant/proofs": true,
		"/api/admin/login":     true,
		"/api/admin/logout":    true,
		"/api/admin/audit":     true,
		"/api/admin/audit/export": true,
		"/api/admin/audit/stream": true,
		"/api/admin/merchants":    true,
		"/health":                 true,
		"/metrics":                true,
	}

	if staticRoutes[path] {
		return path
	}

	// /api/proofs/{id} and /api/proofs/{id}/status|evidence
	if strings.HasPrefix(path, "/api/proofs/") {
		parts := strings.Split(path, "/")
		if len(parts) == 5 && (parts[4] == "status" || parts[4] == "evidence") {
			return "/api/proofs/{id}/" + parts[4]
		}
		if len(parts) == 4 && parts[3] != "" {
			return "/api/proofs/{id}"
		}
	}

	// /api/admin/proofs/{id} and its subresources
	if strings.HasPrefix(path, "/api/admin/proofs/") {
		parts := strings.Split(path, "/")
		if len(parts) == 6 {
			switch parts[5] {
			case "verify", "reject", "audit", "evidence":
				return "/api/admin/proofs/{id}/" + parts[5]
			}
		}
		if len(parts) == 5 && parts[4] != "" {
			return "/api/admin/proofs/{id}"
		}
	}

	// /api/admin/merchants/{id}/keys
	if strings.HasPrefix(path, "/api/admin/merchants/") {
		parts := strings.Split(path, "/")
		if len(parts) == 6 && parts[5] == "keys" {
			return "/api/admin/merchants/{id}/keys"
		}
		if len(parts) == 5 && parts[4] != "" {
			return "/api/admin/merchants/{id}"
		}
	}

	// /api/admin/keys/{id}/revoke
	if strings.HasPrefix(path, "/api/admin/keys/") {
		parts := strings.Split(path, "/")
		if len(parts) == 6 && parts[5] == "revoke" {
			return "/api/admin/keys/{id}/revoke"
		}
	}

	// Fallback: return as-is for unknown patterns
	// This ensures we don't accidentally break metrics for new routes
	return path
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

// WriteHeader captures the status code before writing it.
func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size and writes the data.
func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// newMetricsResponseWriter creates a new metricsResponseWriter with default 200 status.
func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics is a middleware that records HTTP request metrics.
// It captures duration, request/response sizes, and request counts.
// The health endpoint is excluded from metrics to avoid noise from probes.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			mrw := newMetricsResponseWriter(w)

			requestSize := int64(0)
			if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
				if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
					requestSize = size
				}
			}

			next.ServeHTTP(mrw, r)

			duration := time.Since(start).Seconds()

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				duration,
				requestSize,
				mrw.size,
			)
		})
	}
}
