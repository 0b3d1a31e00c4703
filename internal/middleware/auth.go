package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/receiptless/receiptless/internal/auth"
	"github.com/receiptless/receiptless/internal/merchant"
)

// APIKeyHeader carries the merchant API secret.
const APIKeyHeader = "X-API-Key"

// sessionIDKey is the context key for the admin session ID.
type sessionIDKey struct{}

// merchantKey is the context key for the authenticated merchant.
type merchantKey struct{}

// GetSessionID returns the admin session ID from context. Returns empty
// string if not present.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GetMerchant returns the authenticated merchant from context, or nil.
func GetMerchant(ctx context.Context) *merchant.Merchant {
	if m, ok := ctx.Value(merchantKey{}).(*merchant.Merchant); ok {
		return m
	}
	return nil
}

// RequireAdmin guards admin routes. It validates the bearer token signature
// and then checks the jti against the live session store, so logged-out
// tokens are refused before their expiry.
func RequireAdmin(tokens *auth.TokenService, sessions *auth.SessionStore, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				denyAuth(w, r, metrics, "admin")
				return
			}

			claims, err := tokens.Validate(token)
			if err != nil {
				denyAuth(w, r, metrics, "admin")
				return
			}
			if !sessions.IsValid(claims.ID) {
				denyAuth(w, r, metrics, "admin")
				return
			}

			ctx := SetActor(r.Context(), "admin")
			ctx = context.WithValue(ctx, sessionIDKey{}, claims.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireMerchant guards merchant API routes. Unknown and revoked keys are
// refused identically; the response never says which.
func RequireMerchant(authority *merchant.Authority, metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m, err := authority.Resolve(r.Context(), r.Header.Get(APIKeyHeader))
			if err != nil {
				denyAuth(w, r, metrics, "merchant")
				return
			}

			ctx := SetActor(r.Context(), m.ID)
			ctx = context.WithValue(ctx, merchantKey{}, m)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func denyAuth(w http.ResponseWriter, r *http.Request, metrics *Metrics, surface string) {
	if metrics != nil {
		metrics.IncAuthFailures(surface)
	}
	SetErrorCode(r.Context(), "auth_failed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    "auth_failed",
			"message": "Authentication required",
		},
	})
}
