// Package proof implements the proof-of-purchase lifecycle: issuance,
// evidence submission and the guarded review state machine.
package proof

import (
	"time"
)

// Status is the review state of a proof.
type Status string

// Proof lifecycle states. issued -> pending -> {verified, rejected}.
// verified and rejected are not hard-terminal: a later evidence submission
// moves the proof back to pending and voids the prior verdict.
const (
	StatusIssued   Status = "issued"
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusRejected Status = "rejected"
)

// IssuerType classifies the origin of a proof.
type IssuerType string

const (
	// IssuerUser marks a self-service customer proof, which starts unverified.
	IssuerUser IssuerType = "user"
	// IssuerMerchant marks an API-authenticated merchant proof, which is
	// auto-verified at creation.
	IssuerMerchant IssuerType = "merchant"
)

// Evidence is the reference to an uploaded evidence object. The bytes live in
// the blob store; the proof record only carries the storage key and MIME type.
type Evidence struct {
	Path string
	MIME string
}

// Proof is a proof-of-purchase record. PublicID is the short token shared
// with the holder; it is immutable and globally unique. ProofHash is computed
// once at creation and never recomputed.
type Proof struct {
	PublicID   string
	Merchant   string
	Item       string
	ProofHash  string
	Status     Status
	IssuerType IssuerType
	// MerchantID is set only for merchant-issued proofs.
	MerchantID string

	EvidencePath       string
	EvidenceMIME       string
	EvidenceUploadedAt *time.Time

	VerifiedAt      *time.Time
	RejectedAt      *time.Time
	RejectionReason string

	CreatedAt time.Time
}

// HasEvidence reports whether evidence has ever been attached.
func (p *Proof) HasEvidence() bool {
	return p.EvidencePath != ""
}

// Valid reports whether the proof currently counts as a verified purchase.
func (p *Proof) Valid() bool {
	return p.Status == StatusVerified
}
