package proof

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/receiptless/receiptless/internal/audit"
)

func newTestService(t *testing.T) (*Service, *audit.InMemoryRepository) {
	t.Helper()
	journal := audit.NewInMemoryRepository()
	repo := NewInMemoryRepository(journal)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, nil, logger)
	return svc, journal
}

func TestCreateCustomerProof(t *testing.T) {
	svc, journal := newTestService(t)

	p, err := svc.CreateCustomerProof(context.Background(), "Blue Bottle", "order-4412", "espresso beans")
	if err != nil {
		t.Fatalf("CreateCustomerProof failed: %v", err)
	}

	if p.Status != StatusIssued {
		t.Errorf("customer proof should start issued, got %s", p.Status)
	}
	if p.IssuerType != IssuerUser {
		t.Errorf("expected issuer user, got %s", p.IssuerType)
	}
	if p.VerifiedAt != nil {
		t.Errorf("customer proof must not be verified at creation")
	}
	if len(p.PublicID) != 6 {
		t.Errorf("expected 6-char public ID, got %q", p.PublicID)
	}
	if p.ProofHash == "" {
		t.Errorf("expected proof hash to be set")
	}

	events, _ := journal.ListForProof(context.Background(), p.PublicID)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Kind != audit.KindProofCreated || events[0].Meta["issuer"] != "user" {
		t.Errorf("unexpected creation event: %+v", events[0])
	}
}

func TestCreateCustomerProofValidation(t *testing.T) {
	svc, _ := newTestService(t)

	tests := []struct {
		name      string
		merchant  string
		reference string
		wantErr   error
	}{
		{"missing merchant", "", "ref", ErrMerchantRequired},
		{"whitespace merchant", "   ", "ref", ErrMerchantRequired},
		{"missing reference", "Acme", "", ErrReferenceRequired},
		{"whitespace reference", "Acme", "  ", ErrReferenceRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateCustomerProof(context.Background(), tt.merchant, tt.reference, "")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestIssueMerchantProofAutoVerifies(t *testing.T) {
	svc, journal := newTestService(t)

	p, err := svc.IssueMerchantProof(context.Background(), "merch_1", "Blue Bottle", "pos-9001", "cold brew")
	if err != nil {
		t.Fatalf("IssueMerchantProof failed: %v", err)
	}

	if p.Status != StatusVerified {
		t.Errorf("merchant proof should be verified at creation, got %s", p.Status)
	}
	if p.VerifiedAt == nil || !p.VerifiedAt.Equal(p.CreatedAt) {
		t.Errorf("expected verifiedAt == createdAt, got %v vs %v", p.VerifiedAt, p.CreatedAt)
	}
	if p.IssuerType != IssuerMerchant || p.MerchantID != "merch_1" {
		t.Errorf("unexpected issuer fields: %s / %s", p.IssuerType, p.MerchantID)
	}

	events, _ := journal.ListForProof(context.Background(), p.PublicID)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Kind != audit.KindProofCreated {
		t.Errorf("first event should be proof_created, got %s", events[0].Kind)
	}
	if events[0].Meta["issuer"] != "merchant" || events[0].Meta["merchantId"] != "merch_1" {
		t.Errorf("unexpected creation meta: %+v", events[0].Meta)
	}
	if events[1].Kind != audit.KindAutoVerified || events[1].Meta["reason"] != "merchant_issued" {
		t.Errorf("second event should be auto_verified with merchant_issued reason, got %+v", events[1])
	}
	if events[1].ID <= events[0].ID {
		t.Errorf("auto_verified must order after proof_created")
	}
}

func TestSubmitEvidence(t *testing.T) {
	svc, journal := newTestService(t)

	p, _ := svc.CreateCustomerProof(context.Background(), "Acme", "ref-1", "")

	updated, err := svc.SubmitEvidence(context.Background(), p.PublicID,
		Evidence{Path: "evidence/" + p.PublicID + "/r.jpg", MIME: "image/jpeg"})
	if err != nil {
		t.Fatalf("SubmitEvidence failed: %v", err)
	}
	if updated.Status != StatusPending {
		t.Errorf("expected pending, got %s", updated.Status)
	}

	events, _ := journal.ListForProof(context.Background(), p.PublicID)
	last := events[len(events)-1]
	if last.Kind != audit.KindEvidenceUploaded || last.Meta["mime"] != "image/jpeg" {
		t.Errorf("unexpected evidence event: %+v", last)
	}
}

func TestSubmitEvidenceRequiresFile(t *testing.T) {
	svc, _ := newTestService(t)
	p, _ := svc.CreateCustomerProof(context.Background(), "Acme", "ref-1", "")

	if _, err := svc.SubmitEvidence(context.Background(), p.PublicID, Evidence{}); !errors.Is(err, ErrEvidenceRequired) {
		t.Errorf("expected ErrEvidenceRequired, got %v", err)
	}
}

func TestVerifyThenRejectFails(t *testing.T) {
	svc, _ := newTestService(t)
	p, _ := svc.CreateCustomerProof(context.Background(), "Acme", "ref-1", "")
	if _, err := svc.SubmitEvidence(context.Background(), p.PublicID, Evidence{Path: "e", MIME: "image/png"}); err != nil {
		t.Fatalf("SubmitEvidence failed: %v", err)
	}

	if _, err := svc.Verify(context.Background(), p.PublicID, "admin"); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	_, err := svc.Reject(context.Background(), p.PublicID, "changed my mind", "admin")
	if !IsIllegalTransition(err) {
		t.Fatalf("expected IllegalTransitionError, got %v", err)
	}
	if err.Error() != "cannot reject from status 'verified'" {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	svc, _ := newTestService(t)
	p, _ := svc.CreateCustomerProof(context.Background(), "Acme", "ref-1", "")
	if _, err := svc.SubmitEvidence(context.Background(), p.PublicID, Evidence{Path: "e", MIME: "image/png"}); err != nil {
		t.Fatalf("SubmitEvidence failed: %v", err)
	}

	if _, err := svc.Reject(context.Background(), p.PublicID, "   ", "admin"); !errors.Is(err, ErrReasonRequired) {
		t.Errorf("expected ErrReasonRequired, got %v", err)
	}

	// The proof must still be reviewable.
	if _, err := svc.Reject(context.Background(), p.PublicID, "illegible", "admin"); err != nil {
		t.Errorf("reject with reason should succeed: %v", err)
	}
}

func TestRejectRecordsReasonAndActor(t *testing.T) {
	svc, journal := newTestService(t)
	p, _ := svc.CreateCustomerProof(context.Background(), "Acme", "ref-1", "")
	if _, err := svc.SubmitEvidence(context.Background(), p.PublicID, Evidence{Path: "e", MIME: "image/png"}); err != nil {
		t.Fatalf("SubmitEvidence failed: %v", err)
	}

	rejected, err := svc.Reject(context.Background(), p.PublicID, "amount mismatch", "admin")
	if err != nil {
		t.Fatalf("Reject failed: %v", err)
	}
	if rejected.RejectionReason != "amount mismatch" {
		t.Errorf("expected reason on the record, got %q", rejected.RejectionReason)
	}

	events, _ := journal.ListForProof(context.Background(), p.PublicID)
	last := events[len(events)-1]
	if last.Kind != audit.KindAdminRejected || last.Meta["reason"] != "amount mismatch" || last.Meta["actor"] != "admin" {
		t.Errorf("unexpected rejection event: %+v", last)
	}
}

func TestResubmissionAfterRejection(t *testing.T) {
	svc, journal := newTestService(t)
	p, _ := svc.CreateCustomerProof(context.Background(), "Acme", "ref-1", "")
	if _, err := svc.SubmitEvidence(context.Background(), p.PublicID, Evidence{Path: "e1", MIME: "image/png"}); err != nil {
		t.Fatalf("SubmitEvidence failed: %v", err)
	}
	if _, err := svc.Reject(context.Background(), p.PublicID, "blurry", "admin"); err != nil {
		t.Fatalf("Reject failed: %v", err)
	}

	resubmitted, err := svc.SubmitEvidence(context.Background(), p.PublicID, Evidence{Path: "e2", MIME: "image/png"})
	if err != nil {
		t.Fatalf("re-submission failed: %v", err)
	}
	if resubmitted.Status != StatusPending || resubmitted.RejectedAt != nil {
		t.Errorf("expected clean pending state, got %+v", resubmitted)
	}

	verified, err := svc.Verify(context.Background(), p.PublicID, "admin")
	if err != nil {
		t.Fatalf("Verify after re-submission failed: %v", err)
	}
	if !verified.Valid() {
		t.Errorf("expected valid proof after re-review")
	}

	// The full history stays in the journal.
	events, _ := journal.ListForProof(context.Background(), p.PublicID)
	kinds := make([]string, len(events))
	for i, e := range events {
		kinds[i] = e.Kind
	}
	want := []string{
		audit.KindProofCreated,
		audit.KindEvidenceUploaded,
		audit.KindAdminRejected,
		audit.KindEvidenceUploaded,
		audit.KindAdminVerified,
	}
	if len(kinds) != len(want) {
		t.Fatalf("expected %d events, got %v", len(want), kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], kinds[i])
		}
	}
}

func TestIdenticalInputsYieldDistinctProofs(t *testing.T) {
	journal := audit.NewInMemoryRepository()
	repo := NewInMemoryRepository(journal)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := NewService(repo, nil, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time {
			now = now.Add(300 * time.Millisecond)
			return now
		}))

	first, err := svc.CreateCustomerProof(context.Background(), "Blue Bottle", "order-4412", "")
	if err != nil {
		t.Fatalf("first creation failed: %v", err)
	}
	second, err := svc.CreateCustomerProof(context.Background(), "Blue Bottle", "order-4412", "")
	if err != nil {
		t.Fatalf("second creation failed: %v", err)
	}

	// Same merchant and reference within the same wall-clock second must
	// still produce independent proofs.
	if first.PublicID == second.PublicID {
		t.Errorf("identical inputs produced the same public ID %q", first.PublicID)
	}
	if first.ProofHash == second.ProofHash {
		t.Errorf("identical inputs produced the same proofHash %s", first.ProofHash)
	}
}

func TestServiceClockInjection(t *testing.T) {
	journal := audit.NewInMemoryRepository()
	repo := NewInMemoryRepository(journal)
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	svc := NewService(repo, nil, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return fixed }))

	p, err := svc.CreateCustomerProof(context.Background(), "Acme", "ref-1", "")
	if err != nil {
		t.Fatalf("CreateCustomerProof failed: %v", err)
	}
	if !p.CreatedAt.Equal(fixed) {
		t.Errorf("expected injected clock time, got %v", p.CreatedAt)
	}
	if p.ProofHash != Fingerprint("Acme", "ref-1", fixed) {
		t.Errorf("proof hash not derived from creation time")
	}
}
