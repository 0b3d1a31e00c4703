package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/receiptless/receiptless/internal/auth"
	"github.com/receiptless/receiptless/internal/merchant"
	"github.com/receiptless/receiptless/internal/middleware"
)

// RouterConfig wires the handler groups and their guards into one mux.
type RouterConfig struct {
	Proofs    *ProofHandlers
	Merchants *MerchantHandlers
	Admin     *AdminHandlers
	Health    *HealthHandlers

	Authority *merchant.Authority
	Sessions  *auth.SessionStore
	Tokens    *auth.TokenService

	Metrics        *middleware.Metrics
	RateLimitStore middleware.RateLimitStore
	LoginLimit     middleware.RateLimitConfig
	CreateLimit    middleware.RateLimitConfig

	Registry *prometheus.Registry
}

// NewRouter builds the HTTP mux. Route-group middleware (auth guards and
// the tighter per-route rate limits) is applied here; the outer chain
// (request ID, tracing, logging, metrics, CORS, global limit) belongs to
// the caller.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mux := http.NewServeMux()

	requireAdmin := middleware.RequireAdmin(cfg.Tokens, cfg.Sessions, cfg.Metrics)
	requireMerchant := middleware.RequireMerchant(cfg.Authority, cfg.Metrics)
	loginLimit := middleware.RateLimiter(cfg.RateLimitStore, cfg.LoginLimit, middleware.IPKeyFunc())
	createLimit := middleware.RateLimiter(cfg.RateLimitStore, cfg.CreateLimit, middleware.ActorKeyFunc())

	// Public proof surface.
	mux.Handle("POST /api/proofs", createLimit(http.HandlerFunc(cfg.Proofs.CreateProof)))
	mux.HandleFunc("GET /api/proofs/{publicId}", cfg.Proofs.GetProof)
	mux.HandleFunc("GET /api/proofs/{publicId}/status", cfg.Proofs.GetStatus)
	mux.HandleFunc("POST /api/proofs/{publicId}/evidence", cfg.Proofs.UploadEvidence)

	// Merchant surface, authenticated by API key.
	mux.Handle("POST /api/merchant/proofs",
		requireMerchant(createLimit(http.HandlerFunc(cfg.Merchants.IssueProof))))

	// Admin surface. Login is the only unauthenticated admin route.
	mux.Handle("POST /api/admin/login", loginLimit(http.HandlerFunc(cfg.Admin.Login)))

	admin := func(h http.HandlerFunc) http.Handler {
		return requireAdmin(h)
	}
	mux.Handle("POST /api/admin/logout", admin(cfg.Admin.Logout))
	mux.Handle("GET /api/admin/proofs/{publicId}", admin(cfg.Admin.GetProof))
	mux.Handle("GET /api/admin/proofs/{publicId}/evidence", admin(cfg.Admin.GetEvidence))
	mux.Handle("POST /api/admin/proofs/{publicId}/verify", admin(cfg.Admin.Verify))
	mux.Handle("POST /api/admin/proofs/{publicId}/reject", admin(cfg.Admin.Reject))
	mux.Handle("GET /api/admin/proofs/{publicId}/audit", admin(cfg.Admin.ProofAudit))
	mux.Handle("GET /api/admin/audit", admin(cfg.Admin.RecentAudit))
	mux.Handle("GET /api/admin/audit/export", admin(cfg.Admin.ExportAudit))
	mux.Handle("GET /api/admin/audit/stream", admin(cfg.Admin.StreamAudit))
	mux.Handle("POST /api/admin/merchants", admin(cfg.Admin.CreateMerchant))
	mux.Handle("GET /api/admin/merchants", admin(cfg.Admin.ListMerchants))
	mux.Handle("POST /api/admin/merchants/{id}/keys", admin(cfg.Admin.IssueKey))
	mux.Handle("GET /api/admin/merchants/{id}/keys", admin(cfg.Admin.ListKeys))
	mux.Handle("POST /api/admin/keys/{keyId}/revoke", admin(cfg.Admin.RevokeKey))

	// Operational endpoints.
	mux.HandleFunc("GET /health", cfg.Health.Health)
	if cfg.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Registry, promhttp.HandlerOpts{}))
	}

	return mux
}
