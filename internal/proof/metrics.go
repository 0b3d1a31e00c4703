package proof

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricProofsCreatedTotal     = "proofs_created_total"
	MetricProofTransitionsTotal  = "proof_transitions_total"
	MetricProofTransitionsDenied = "proof_transitions_denied_total"
	MetricAuditEventsAppended    = "audit_events_appended_total"
)

// Transition labels.
const (
	TransitionEvidence = "evidence_uploaded"
	TransitionVerify   = "verify"
	TransitionReject   = "reject"
)

// Metrics contains Prometheus metrics for the proof lifecycle.
// All operations are thread-safe.
type Metrics struct {
	createdTotal      *prometheus.CounterVec
	transitionsTotal  *prometheus.CounterVec
	transitionsDenied *prometheus.CounterVec
	auditAppends      *prometheus.CounterVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register them
// with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		createdTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricProofsCreatedTotal,
				Help: "Total number of proofs created by issuer type",
			},
			[]string{"issuer"},
		),
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricProofTransitionsTotal,
				Help: "Total number of successful proof state transitions by kind",
			},
			[]string{"transition"},
		),
		transitionsDenied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricProofTransitionsDenied,
				Help: "Total number of transitions refused by the state guard",
			},
			[]string{"transition"},
		),
		auditAppends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricAuditEventsAppended,
				Help: "Total number of audit journal events appended by kind",
			},
			[]string{"kind"},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.createdTotal,
		m.transitionsTotal,
		m.transitionsDenied,
		m.auditAppends,
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncCreated increments the created counter for an issuer type.
func (m *Metrics) IncCreated(issuer IssuerType) {
	m.createdTotal.WithLabelValues(string(issuer)).Inc()
}

// IncTransition increments the successful transition counter.
func (m *Metrics) IncTransition(transition string) {
	m.transitionsTotal.WithLabelValues(transition).Inc()
}

// IncTransitionDenied increments the guard-refusal counter.
func (m *Metrics) IncTransitionDenied(transition string) {
	m.transitionsDenied.WithLabelValues(transition).Inc()
}

// IncAuditAppend increments the journal append counter for an event kind.
func (m *Metrics) IncAuditAppend(kind string) {
	m.auditAppends.WithLabelValues(kind).Inc()
}
