package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/receiptless/receiptless/internal/evidence"
	"github.com/receiptless/receiptless/internal/proof"
)

// ProofHandlers holds dependencies for the public proof endpoints.
type ProofHandlers struct {
	svc         *proof.Service
	blobs       evidence.BlobStore
	maxEvidence int64
}

// NewProofHandlers creates a new ProofHandlers instance. maxEvidenceBytes
// bounds accepted evidence uploads.
func NewProofHandlers(svc *proof.Service, blobs evidence.BlobStore, maxEvidenceBytes int64) *ProofHandlers {
	return &ProofHandlers{svc: svc, blobs: blobs, maxEvidence: maxEvidenceBytes}
}

// CreateProofRequest represents the request body for creating a proof.
type CreateProofRequest struct {
	Merchant  string `json:"merchant"`
	Reference string `json:"reference"`
	Item      string `json:"item,omitempty"`
}

// ProofResponse is the public projection of a proof. It never carries
// evidence bytes or the evidence storage key.
type ProofResponse struct {
	PublicID    string     `json:"publicId"`
	Merchant    string     `json:"merchant"`
	Item        string     `json:"item,omitempty"`
	ProofHash   string     `json:"proofHash"`
	Status      string     `json:"status"`
	HasEvidence bool       `json:"hasEvidence"`
	VerifiedAt  *time.Time `json:"verifiedAt,omitempty"`
	RejectedAt  *time.Time `json:"rejectedAt,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
}

func toProofResponse(p *proof.Proof) ProofResponse {
	return ProofResponse{
		PublicID:    p.PublicID,
		Merchant:    p.Merchant,
		Item:        p.Item,
		ProofHash:   p.ProofHash,
		Status:      string(p.Status),
		HasEvidence: p.HasEvidence(),
		VerifiedAt:  p.VerifiedAt,
		RejectedAt:  p.RejectedAt,
		CreatedAt:   p.CreatedAt,
	}
}

// StatusResponse represents the verification status of a proof. valid is
// true only while the proof is in the verified state.
type StatusResponse struct {
	Valid           bool       `json:"valid"`
	Status          string     `json:"status"`
	VerifiedAt      *time.Time `json:"verifiedAt,omitempty"`
	RejectedAt      *time.Time `json:"rejectedAt,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
}

// CreateProof handles POST /api/proofs - issues a self-service proof.
func (h *ProofHandlers) CreateProof(w http.ResponseWriter, r *http.Request) {
	var req CreateProofRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(w, r, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	p, err := h.svc.CreateCustomerProof(r.Context(), req.Merchant, req.Reference, req.Item)
	if err != nil {
		switch {
		case errors.Is(err, proof.ErrMerchantRequired):
			fail(w, r, http.StatusBadRequest, ErrCodeValidation, "merchant is required")
		case errors.Is(err, proof.ErrReferenceRequired):
			fail(w, r, http.StatusBadRequest, ErrCodeValidation, "reference is required")
		default:
			fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to create proof")
		}
		return
	}

	writeJSON(w, r.Context(), http.StatusCreated, toProofResponse(p))
}

// GetProof handles GET /api/proofs/{publicId} - the public projection.
func (h *ProofHandlers) GetProof(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), r.PathValue("publicId"))
	if err != nil {
		if errors.Is(err, proof.ErrNotFound) {
			fail(w, r, http.StatusNotFound, ErrCodeNotFound, "Proof not found")
			return
		}
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to load proof")
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, toProofResponse(p))
}

// GetStatus handles GET /api/proofs/{publicId}/status - the holder-facing
// verification check.
func (h *ProofHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Get(r.Context(), r.PathValue("publicId"))
	if err != nil {
		if errors.Is(err, proof.ErrNotFound) {
			fail(w, r, http.StatusNotFound, ErrCodeNotFound, "Proof not found")
			return
		}
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to load proof")
		return
	}

	writeJSON(w, r.Context(), http.StatusOK, StatusResponse{
		Valid:           p.Valid(),
		Status:          string(p.Status),
		VerifiedAt:      p.VerifiedAt,
		RejectedAt:      p.RejectedAt,
		RejectionReason: p.RejectionReason,
	})
}

// UploadEvidence handles POST /api/proofs/{publicId}/evidence - multipart
// evidence submission. The file part must be named "file".
func (h *ProofHandlers) UploadEvidence(w http.ResponseWriter, r *http.Request) {
	publicID := r.PathValue("publicId")

	// Reject early for IDs we will never know, before reading the body.
	if _, err := h.svc.Get(r.Context(), publicID); err != nil {
		if errors.Is(err, proof.ErrNotFound) {
			fail(w, r, http.StatusNotFound, ErrCodeNotFound, "Proof not found")
			return
		}
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to load proof")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxEvidence)
	if err := r.ParseMultipartForm(h.maxEvidence); err != nil {
		fail(w, r, http.StatusRequestEntityTooLarge, ErrCodeValidation, "Evidence file exceeds the maximum allowed size")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		fail(w, r, http.StatusBadRequest, ErrCodeValidation, "Multipart field 'file' is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if err := evidence.ValidateContentType(contentType); err != nil {
		fail(w, r, http.StatusBadRequest, ErrCodeUnsupportedType, "Unsupported evidence content type")
		return
	}

	key, err := evidence.ObjectKey(publicID, contentType)
	if err != nil {
		fail(w, r, http.StatusBadRequest, ErrCodeUnsupportedType, "Unsupported evidence content type")
		return
	}

	if err := h.blobs.Put(r.Context(), key, contentType, file, header.Size); err != nil {
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to store evidence")
		return
	}

	if _, err := h.svc.SubmitEvidence(r.Context(), publicID, proof.Evidence{Path: key, MIME: contentType}); err != nil {
		if errors.Is(err, proof.ErrNotFound) {
			fail(w, r, http.StatusNotFound, ErrCodeNotFound, "Proof not found")
			return
		}
		fail(w, r, http.StatusInternalServerError, ErrCodeInternal, "Failed to record evidence")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
