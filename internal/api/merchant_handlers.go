package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/receiptless/receiptless/internal/middleware"
	"github.com/receiptless/receiptless/internal/proof"
)

// MerchantHandlers holds dependencies for the merchant API surface.
// All routes behind these handlers require a valid X-API-Key.
type MerchantHandlers struct {
	svc *proof.Service
}

// NewMerchantHandlers creates a new MerchantHandlers instance.
func NewMerchantHandlers(svc *proof.Service) *MerchantHandlers {
	return &MerchantHandlers{svc: svc}
}

// IssueProofRequest represents the request body for a merchant-issued proof.
// The merchant name comes from the authenticated credential, not the body.
type IssueProofRequest struct {
	Reference string `json:"reference"`
	Item      string `json:"item,omitempty"`
}

// IssueProof handles POST /api/merchant/proofs - issues a pre-verified
// proof on behalf of the authenticated merchant.
func (h *MerchantHandlers) IssueProof(w http.ResponseWriter, r *http.Request) {
	m := middleware.GetMerchant(r.Context())
	if m == nil {
		fail(w, r, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	var req IssueProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	p, err := h.svc.IssueMerchantProof(r.Context(), m.ID, m.Name, req.Reference, req.Item)
	if err != nil {
		if errors.Is(err, proof.ErrReferenceRequired) {
			fail(w, r, http.StatusBadRequest, ErrCodeValidation, "reference is required")
			return
		}
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to issue proof")
		return
	}

	writeJSON(w, r.Context(), http.StatusCreated, toProofResponse(p))
}
