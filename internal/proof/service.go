package proof

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/receiptless/receiptless/internal/audit"
	"github.com/receiptless/receiptless/internal/tracing"
)

// Service coordinates the proof lifecycle: issuance over both paths,
// evidence submission and the admin review verdicts. Audit events are
// persisted atomically with the state change by the repository; the
// broadcaster only sees events after that commit.
type Service struct {
	repo        Repository
	broadcaster *audit.Broadcaster
	metrics     *Metrics
	logger      *slog.Logger
	idLength    int
	timeNow     func() time.Time // For testability
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithPublicIDLength overrides the default public ID length of 6.
func WithPublicIDLength(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.idLength = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.timeNow = now }
}

// WithMetrics attaches lifecycle metrics.
func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a proof service. broadcaster may be nil, in which case
// no live feed is published.
func NewService(repo Repository, broadcaster *audit.Broadcaster, logger *slog.Logger, opts ...ServiceOption) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		repo:        repo,
		broadcaster: broadcaster,
		logger:      logger,
		idLength:    6,
		timeNow:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCustomerProof issues a self-service proof. It starts in issued and
// must go through evidence submission and review to become verified.
func (s *Service) CreateCustomerProof(ctx context.Context, merchant, reference, item string) (*Proof, error) {
	ctx, end := tracing.StartSpan(ctx, "proof.create_customer")
	p, err := s.create(ctx, createParams{
		merchant:  strings.TrimSpace(merchant),
		reference: strings.TrimSpace(reference),
		item:      strings.TrimSpace(item),
		issuer:    IssuerUser,
	})
	end(err)
	return p, err
}

// IssueMerchantProof issues a proof on behalf of an authenticated merchant.
// The proof is verified at creation; merchantName is recorded as the
// merchant field and merchantID links the record to the credential owner.
func (s *Service) IssueMerchantProof(ctx context.Context, merchantID, merchantName, reference, item string) (*Proof, error) {
	ctx, end := tracing.StartSpan(ctx, "proof.issue_merchant")
	p, err := s.create(ctx, createParams{
		merchant:   strings.TrimSpace(merchantName),
		reference:  strings.TrimSpace(reference),
		item:       strings.TrimSpace(item),
		issuer:     IssuerMerchant,
		merchantID: merchantID,
	})
	end(err)
	return p, err
}

type createParams struct {
	merchant   string
	reference  string
	item       string
	issuer     IssuerType
	merchantID string
}

// maxIDAttempts bounds retries on a public ID collision. At 62^6 possible
// IDs a single retry is already vanishingly rare.
const maxIDAttempts = 5

func (s *Service) create(ctx context.Context, params createParams) (*Proof, error) {
	if params.merchant == "" {
		return nil, ErrMerchantRequired
	}
	if params.reference == "" {
		return nil, ErrReferenceRequired
	}

	now := s.timeNow().UTC()

	p := &Proof{
		Merchant:   params.merchant,
		Item:       params.item,
		ProofHash:  Fingerprint(params.merchant, params.reference, now),
		Status:     StatusIssued,
		IssuerType: params.issuer,
		MerchantID: params.merchantID,
		CreatedAt:  now,
	}

	events := []audit.Entry{{Kind: audit.KindProofCreated, Meta: map[string]string{"issuer": string(params.issuer)}}}
	if params.issuer == IssuerMerchant {
		p.Status = StatusVerified
		p.VerifiedAt = &p.CreatedAt
		events[0].Meta["merchantId"] = params.merchantID
		events = append(events, audit.Entry{
			Kind: audit.KindAutoVerified,
			Meta: map[string]string{"reason": "merchant_issued"},
		})
	}

	var lastErr error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		publicID, err := NewPublicID(s.idLength)
		if err != nil {
			return nil, err
		}
		p.PublicID = publicID
		for i := range events {
			events[i].ProofID = publicID
		}

		lastErr = s.repo.Insert(ctx, p, events)
		if lastErr == nil {
			s.logger.Info("proof created",
				slog.String("public_id", p.PublicID),
				slog.String("issuer", string(params.issuer)),
			)
			if s.metrics != nil {
				s.metrics.IncCreated(params.issuer)
			}
			s.publish(events, now)
			return p, nil
		}
		if !errors.Is(lastErr, ErrDuplicatePublicID) {
			return nil, lastErr
		}
		s.logger.Warn("public ID collision, retrying", slog.String("public_id", publicID))
	}
	return nil, lastErr
}

// Get returns a proof by its public ID.
func (s *Service) Get(ctx context.Context, publicID string) (*Proof, error) {
	return s.repo.GetByPublicID(ctx, publicID)
}

// SubmitEvidence attaches an evidence object to the proof and moves it to
// pending. Works from any state: a holder may re-submit after rejection (or
// even after verification), which voids the prior verdict and queues the
// proof for a fresh review.
func (s *Service) SubmitEvidence(ctx context.Context, publicID string, ev Evidence) (*Proof, error) {
	ctx, end := tracing.StartSpan(ctx, "proof.submit_evidence")

	if ev.Path == "" {
		end(ErrEvidenceRequired)
		return nil, ErrEvidenceRequired
	}

	now := s.timeNow().UTC()
	event := audit.Entry{
		ProofID: publicID,
		Kind:    audit.KindEvidenceUploaded,
		Meta:    map[string]string{"mime": ev.MIME},
	}

	p, err := s.repo.AttachEvidence(ctx, publicID, ev, now, event)
	end(err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("evidence attached", slog.String("public_id", publicID), slog.String("mime", ev.MIME))
	if s.metrics != nil {
		s.metrics.IncTransition(TransitionEvidence)
	}
	s.publish([]audit.Entry{event}, now)
	return p, nil
}

// Verify applies an admin verified verdict to a pending proof.
func (s *Service) Verify(ctx context.Context, publicID, actor string) (*Proof, error) {
	ctx, end := tracing.StartSpan(ctx, "proof.verify")

	now := s.timeNow().UTC()
	event := audit.Entry{
		ProofID: publicID,
		Kind:    audit.KindAdminVerified,
		Meta:    map[string]string{"actor": actor},
	}

	p, err := s.repo.Verify(ctx, publicID, now, event)
	end(err)
	if err != nil {
		if IsIllegalTransition(err) && s.metrics != nil {
			s.metrics.IncTransitionDenied(TransitionVerify)
		}
		return nil, err
	}

	s.logger.Info("proof verified", slog.String("public_id", publicID), slog.String("actor", actor))
	if s.metrics != nil {
		s.metrics.IncTransition(TransitionVerify)
	}
	s.publish([]audit.Entry{event}, now)
	return p, nil
}

// Reject applies an admin rejected verdict with a mandatory reason.
func (s *Service) Reject(ctx context.Context, publicID, reason, actor string) (*Proof, error) {
	ctx, end := tracing.StartSpan(ctx, "proof.reject")

	reason = strings.TrimSpace(reason)
	if reason == "" {
		end(ErrReasonRequired)
		return nil, ErrReasonRequired
	}

	now := s.timeNow().UTC()
	event := audit.Entry{
		ProofID: publicID,
		Kind:    audit.KindAdminRejected,
		Meta:    map[string]string{"actor": actor, "reason": reason},
	}

	p, err := s.repo.Reject(ctx, publicID, reason, now, event)
	end(err)
	if err != nil {
		if IsIllegalTransition(err) && s.metrics != nil {
			s.metrics.IncTransitionDenied(TransitionReject)
		}
		return nil, err
	}

	s.logger.Info("proof rejected",
		slog.String("public_id", publicID),
		slog.String("actor", actor),
		slog.String("reason", reason),
	)
	if s.metrics != nil {
		s.metrics.IncTransition(TransitionReject)
	}
	s.publish([]audit.Entry{event}, now)
	return p, nil
}

// publish counts committed events and pushes them to the live feed. The
// feed carries the entry content without storage IDs; readers needing exact
// ordering use the journal endpoints.
func (s *Service) publish(entries []audit.Entry, at time.Time) {
	if s.metrics != nil {
		for _, e := range entries {
			s.metrics.IncAuditAppend(e.Kind)
		}
	}
	if s.broadcaster == nil {
		return
	}
	events := make([]*audit.Event, 0, len(entries))
	for _, e := range entries {
		events = append(events, &audit.Event{
			ProofID:   e.ProofID,
			Kind:      e.Kind,
			Meta:      e.Meta,
			CreatedAt: at,
		})
	}
	s.broadcaster.Publish(events...)
}
