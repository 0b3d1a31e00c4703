package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/receiptless/receiptless/internal/audit"
	"github.com/receiptless/receiptless/internal/auth"
	"github.com/receiptless/receiptless/internal/evidence"
	"github.com/receiptless/receiptless/internal/merchant"
	"github.com/receiptless/receiptless/internal/middleware"
	"github.com/receiptless/receiptless/internal/proof"
)

// defaultAuditLimit caps the recent-journal listing when no limit is given.
const defaultAuditLimit = 100

// maxAuditLimit is the hard ceiling for a single journal read.
const maxAuditLimit = 1000

// AdminHandlers holds dependencies for the admin surface: login, review
// verdicts, the audit journal and merchant management.
type AdminHandlers struct {
	proofs      *proof.Service
	journal     audit.Repository
	broadcaster *audit.Broadcaster
	authority   *merchant.Authority
	blobs       evidence.BlobStore

	sessions      *auth.SessionStore
	tokens        *auth.TokenService
	adminUsername string
	passwordHash  string

	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// AdminHandlersConfig configures the admin handlers.
type AdminHandlersConfig struct {
	Proofs      *proof.Service
	Journal     audit.Repository
	Broadcaster *audit.Broadcaster
	Authority   *merchant.Authority
	Blobs       evidence.BlobStore

	Sessions      *auth.SessionStore
	Tokens        *auth.TokenService
	AdminUsername string
	PasswordHash  string

	Logger *slog.Logger
}

// NewAdminHandlers creates a new AdminHandlers instance.
func NewAdminHandlers(cfg AdminHandlersConfig) *AdminHandlers {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandlers{
		proofs:        cfg.Proofs,
		journal:       cfg.Journal,
		broadcaster:   cfg.Broadcaster,
		authority:     cfg.Authority,
		blobs:         cfg.Blobs,
		sessions:      cfg.Sessions,
		tokens:        cfg.Tokens,
		adminUsername: cfg.AdminUsername,
		passwordHash:  cfg.PasswordHash,
		logger:        logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// LoginRequest represents the admin login request body.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the bearer token for subsequent admin requests.
type LoginResponse struct {
	Token string `json:"token"`
}

// Login handles POST /api/admin/login.
func (h *AdminHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	if err := auth.VerifyAdminLogin(req.Username, req.Password, h.adminUsername, h.passwordHash); err != nil {
		fail(w, r, http.StatusUnauthorized, ErrCodeAuthFailed, "Invalid username or password")
		return
	}

	sessionID := h.sessions.Create(req.Username)
	token, err := h.tokens.Generate(req.Username, sessionID)
	if err != nil {
		h.sessions.Invalidate(sessionID)
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to create session")
		return
	}

	h.logger.Info("admin logged in", slog.String("username", req.Username))
	writeJSON(w, r.Context(), http.StatusOK, LoginResponse{Token: token})
}

// Logout handles POST /api/admin/logout. Idempotent.
func (h *AdminHandlers) Logout(w http.ResponseWriter, r *http.Request) {
	if sessionID := middleware.GetSessionID(r.Context()); sessionID != "" {
		h.sessions.Invalidate(sessionID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdminProofResponse is the admin projection of a proof: everything the
// public one has plus review-relevant fields.
type AdminProofResponse struct {
	ProofResponse
	IssuerType         string     `json:"issuerType"`
	MerchantID         string     `json:"merchantId,omitempty"`
	EvidenceMIME       string     `json:"evidenceMime,omitempty"`
	EvidenceUploadedAt *time.Time `json:"evidenceUploadedAt,omitempty"`
	RejectionReason    string     `json:"rejectionReason,omitempty"`
}

func toAdminProofResponse(p *proof.Proof) AdminProofResponse {
	return AdminProofResponse{
		ProofResponse:      toProofResponse(p),
		IssuerType:         string(p.IssuerType),
		MerchantID:         p.MerchantID,
		EvidenceMIME:       p.EvidenceMIME,
		EvidenceUploadedAt: p.EvidenceUploadedAt,
		RejectionReason:    p.RejectionReason,
	}
}

// GetProof handles GET /api/admin/proofs/{publicId}.
func (h *AdminHandlers) GetProof(w http.ResponseWriter, r *http.Request) {
	p, err := h.proofs.Get(r.Context(), r.PathValue("publicId"))
	if err != nil {
		h.writeProofError(w, r, err, "Failed to load proof")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, toAdminProofResponse(p))
}

// GetEvidence handles GET /api/admin/proofs/{publicId}/evidence - streams
// the stored evidence bytes with their original content type.
func (h *AdminHandlers) GetEvidence(w http.ResponseWriter, r *http.Request) {
	p, err := h.proofs.Get(r.Context(), r.PathValue("publicId"))
	if err != nil {
		h.writeProofError(w, r, err, "Failed to load proof")
		return
	}
	if !p.HasEvidence() {
		fail(w, r, http.StatusNotFound, ErrCodeNotFound, "Proof has no evidence")
		return
	}

	data, contentType, err := h.blobs.Get(r.Context(), p.EvidencePath)
	if err != nil {
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to fetch evidence")
		return
	}
	if contentType == "" {
		contentType = p.EvidenceMIME
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("failed to write evidence response", slog.String("error", err.Error()))
	}
}

// Verify handles POST /api/admin/proofs/{publicId}/verify.
func (h *AdminHandlers) Verify(w http.ResponseWriter, r *http.Request) {
	p, err := h.proofs.Verify(r.Context(), r.PathValue("publicId"), middleware.GetActor(r.Context()))
	if err != nil {
		h.writeProofError(w, r, err, "Failed to verify proof")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, toAdminProofResponse(p))
}

// RejectRequest represents the rejection request body.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// Reject handles POST /api/admin/proofs/{publicId}/reject.
func (h *AdminHandlers) Reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	p, err := h.proofs.Reject(r.Context(), r.PathValue("publicId"), req.Reason, middleware.GetActor(r.Context()))
	if err != nil {
		if errors.Is(err, proof.ErrReasonRequired) {
			fail(w, r, http.StatusBadRequest, ErrCodeValidation, "reason is required")
			return
		}
		h.writeProofError(w, r, err, "Failed to reject proof")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, toAdminProofResponse(p))
}

// writeProofError maps proof service errors onto the API envelope.
func (h *AdminHandlers) writeProofError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var ite *proof.IllegalTransitionError
	switch {
	case errors.Is(err, proof.ErrNotFound):
		fail(w, r, http.StatusNotFound, ErrCodeNotFound, "Proof not found")
	case errors.As(err, &ite):
		fail(w, r, http.StatusConflict, ErrCodeIllegalTransition, ite.Error())
	default:
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, fallback)
	}
}

// ProofAudit handles GET /api/admin/proofs/{publicId}/audit - the full
// trail for one proof, ascending.
func (h *AdminHandlers) ProofAudit(w http.ResponseWriter, r *http.Request) {
	publicID := r.PathValue("publicId")
	if _, err := h.proofs.Get(r.Context(), publicID); err != nil {
		h.writeProofError(w, r, err, "Failed to load proof")
		return
	}

	events, err := h.journal.ListForProof(r.Context(), publicID)
	if err != nil {
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to load audit trail")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, map[string]any{"events": events})
}

// RecentAudit handles GET /api/admin/audit?limit= - newest events first.
func (h *AdminHandlers) RecentAudit(w http.ResponseWriter, r *http.Request) {
	limit := defaultAuditLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			fail(w, r, http.StatusBadRequest, ErrCodeValidation, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	events, err := h.journal.Recent(r.Context(), limit)
	if err != nil {
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to load audit journal")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, map[string]any{"events": events})
}

// ExportAudit handles GET /api/admin/audit/export?format=csv|json|cbor&proofId=.
// With proofId the export covers one proof ascending; without it, the most
// recent events across all proofs.
func (h *AdminHandlers) ExportAudit(w http.ResponseWriter, r *http.Request) {
	format, err := audit.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		fail(w, r, http.StatusBadRequest, ErrCodeValidation, "format must be one of csv, json, cbor")
		return
	}

	var events []*audit.Event
	if proofID := r.URL.Query().Get("proofId"); proofID != "" {
		events, err = h.journal.ListForProof(r.Context(), proofID)
	} else {
		events, err = h.journal.Recent(r.Context(), maxAuditLimit)
	}
	if err != nil {
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to load audit journal")
		return
	}

	data, err := audit.Export(events, format)
	if err != nil {
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to export audit journal")
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.`+string(format)+`"`)
	if _, err := w.Write(data); err != nil {
		h.logger.Warn("failed to write audit export", slog.String("error", err.Error()))
	}
}

// StreamAudit handles GET /api/admin/audit/stream - upgrades to a WebSocket
// carrying committed audit events as they happen. The connection is
// best-effort; the journal endpoints remain the source of truth.
func (h *AdminHandlers) StreamAudit(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	h.broadcaster.Subscribe(conn)
	h.logger.Info("audit stream subscriber connected")

	defer func() {
		h.broadcaster.Unsubscribe(conn)
		_ = conn.Close()
		h.logger.Info("audit stream subscriber disconnected")
	}()

	// Drain control frames until the client goes away.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// CreateMerchantRequest represents the merchant registration body.
type CreateMerchantRequest struct {
	Name string `json:"name"`
}

// CreateMerchant handles POST /api/admin/merchants.
func (h *AdminHandlers) CreateMerchant(w http.ResponseWriter, r *http.Request) {
	var req CreateMerchantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	m, err := h.authority.RegisterMerchant(r.Context(), req.Name)
	if err != nil {
		if errors.Is(err, merchant.ErrNameRequired) {
			fail(w, r, http.StatusBadRequest, ErrCodeValidation, "name is required")
			return
		}
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to register merchant")
		return
	}

	writeJSON(w, r.Context(), http.StatusCreated, m)
}

// ListMerchants handles GET /api/admin/merchants.
func (h *AdminHandlers) ListMerchants(w http.ResponseWriter, r *http.Request) {
	merchants, err := h.authority.ListMerchants(r.Context())
	if err != nil {
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to list merchants")
		return
	}
	writeJSON(w, r.Context(), http.StatusOK, map[string]any{"merchants": merchants})
}

// IssueKeyRequest represents the key issuance body.
type IssueKeyRequest struct {
	Label string `json:"label,omitempty"`
}

// IssuedKeyResponse carries the one-time plaintext secret. It is never
// retrievable again.
type IssuedKeyResponse struct {
	KeyID     string    `json:"keyId"`
	Secret    string    `json:"secret"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// IssueKey handles POST /api/admin/merchants/{id}/keys.
func (h *AdminHandlers) IssueKey(w http.ResponseWriter, r *http.Request) {
	var req IssueKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	issued, err := h.authority.IssueKey(r.Context(), r.PathValue("id"), req.Label)
	if err != nil {
		if errors.Is(err, merchant.ErrMerchantNotFound) {
			fail(w, r, http.StatusNotFound, ErrCodeNotFound, "Merchant not found")
			return
		}
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to issue key")
		return
	}

	writeJSON(w, r.Context(), http.StatusCreated, IssuedKeyResponse{
		KeyID:     issued.Key.ID,
		Secret:    issued.Secret,
		Label:     issued.Key.Label,
		CreatedAt: issued.Key.CreatedAt,
	})
}

// KeyMetadataResponse is the listing projection of an API key: metadata and
// active flag only, never hash or secret.
type KeyMetadataResponse struct {
	KeyID     string     `json:"keyId"`
	Label     string     `json:"label,omitempty"`
	Active    bool       `json:"active"`
	CreatedAt time.Time  `json:"createdAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// ListKeys handles GET /api/admin/merchants/{id}/keys.
func (h *AdminHandlers) ListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.authority.ListKeys(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, merchant.ErrMerchantNotFound) {
			fail(w, r, http.StatusNotFound, ErrCodeNotFound, "Merchant not found")
			return
		}
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to list keys")
		return
	}

	out := make([]KeyMetadataResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyMetadataResponse{
			KeyID:     k.ID,
			Label:     k.Label,
			Active:    k.Active(),
			CreatedAt: k.CreatedAt,
			RevokedAt: k.RevokedAt,
		})
	}
	writeJSON(w, r.Context(), http.StatusOK, map[string]any{"keys": out})
}

// RevokeKeyResponse reports a revocation outcome.
type RevokeKeyResponse struct {
	RevokedAt      *time.Time `json:"revokedAt"`
	AlreadyRevoked bool       `json:"alreadyRevoked"`
}

// RevokeKey handles POST /api/admin/keys/{keyId}/revoke. Idempotent:
// revoking twice succeeds and reports alreadyRevoked.
func (h *AdminHandlers) RevokeKey(w http.ResponseWriter, r *http.Request) {
	result, err := h.authority.RevokeKey(r.Context(), r.PathValue("keyId"))
	if err != nil {
		if errors.Is(err, merchant.ErrKeyNotFound) {
			fail(w, r, http.StatusNotFound, ErrCodeNotFound, "API key not found")
			return
		}
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to revoke key")
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, RevokeKeyResponse{
		RevokedAt:      result.Key.RevokedAt,
		AlreadyRevoked: result.AlreadyRevoked,
	})
}
