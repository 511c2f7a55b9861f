package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the credit module.
// Tracks lifecycle operation counts and critical path durations.
type Metrics struct {
	CreditsIssued      prometheus.Counter
	CreditsTransferred prometheus.Counter
	CreditsRetired     prometheus.Counter
	AnchorFailures     prometheus.Counter
	IssueDuration      prometheus.Histogram
	TransferDuration   prometheus.Histogram
	RetireDuration     prometheus.Histogram
}

// New creates a new Metrics instance with all credit module metrics registered.
func New() *Metrics {
	return &Metrics{
		CreditsIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "karbon_credits_issued_total",
			Help: "Total number of credit entries issued",
		}),
		CreditsTransferred: promauto.NewCounter(prometheus.CounterOpts{
			Name: "karbon_credits_transferred_total",
			Help: "Total number of credit transfers completed",
		}),
		CreditsRetired: promauto.NewCounter(prometheus.CounterOpts{
			Name: "karbon_credits_retired_total",
			Help: "Total number of credits retired",
		}),
		AnchorFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "karbon_credit_anchor_failures_total",
			Help: "Total number of lifecycle operations whose on-chain anchoring failed",
		}),
		IssueDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "karbon_credit_issue_duration_seconds",
			Help:    "Duration of IssueCredits operations including anchoring",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		TransferDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "karbon_credit_transfer_duration_seconds",
			Help:    "Duration of TransferCredits operations including anchoring",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		RetireDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "karbon_credit_retire_duration_seconds",
			Help:    "Duration of RetireCredits operations including the burn",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}
}

// IncrementIssued records a successful issuance.
func (m *Metrics) IncrementIssued() {
	m.CreditsIssued.Inc()
}

// IncrementTransferred records a completed transfer.
func (m *Metrics) IncrementTransferred() {
	m.CreditsTransferred.Inc()
}

// IncrementRetired records a completed retirement.
func (m *Metrics) IncrementRetired() {
	m.CreditsRetired.Inc()
}

// IncrementAnchorFailures records a lifecycle operation whose chain anchoring
// failed.
func (m *Metrics) IncrementAnchorFailures() {
	m.AnchorFailures.Inc()
}

// ObserveIssue records the duration of an IssueCredits operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveIssue(start time.Time) {
	m.IssueDuration.Observe(time.Since(start).Seconds())
}

// ObserveTransfer records the duration of a TransferCredits operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveTransfer(start time.Time) {
	m.TransferDuration.Observe(time.Since(start).Seconds())
}

// ObserveRetire records the duration of a RetireCredits operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveRetire(start time.Time) {
	m.RetireDuration.Observe(time.Since(start).Seconds())
}
