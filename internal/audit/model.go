// Package audit provides the append-only event journal recording every
// state-changing action against a proof.
package audit

import (
	"time"
)

// Event kinds appended by the proof lifecycle. The column is free-form TEXT
// so new kinds can be added without a migration.
const (
	KindProofCreated     = "proof_created"
	KindAutoVerified     = "auto_verified"
	KindEvidenceUploaded = "evidence_uploaded"
	KindAdminVerified    = "admin_verified"
	KindAdminRejected    = "admin_rejected"
)

// Event is a single immutable entry in the journal. The ID is assigned by
// storage and is monotonically increasing, so ascending ID order is
// insertion order.
type Event struct {
	ID        int64             `json:"id,omitempty" cbor:"id,omitempty"`
	ProofID   string            `json:"proofId" cbor:"proofId"`
	Kind      string            `json:"kind" cbor:"kind"`
	Meta      map[string]string `json:"meta,omitempty" cbor:"meta,omitempty"`
	CreatedAt time.Time         `json:"createdAt" cbor:"createdAt"`
}

// Entry is the input for appending an event.
type Entry struct {
	ProofID string
	Kind    string
	Meta    map[string]string
}
