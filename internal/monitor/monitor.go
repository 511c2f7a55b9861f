// Package monitor records per-operation anchoring metrics and derives a
// health verdict for the admin surface.
package monitor

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// OpType classifies an anchoring operation sample.
type OpType string

const (
	OpMint     OpType = "mint"
	OpTransfer OpType = "transfer"
	OpBurn     OpType = "burn"
)

// Sample is one recorded anchoring operation.
type Sample struct {
	Type     OpType
	Success  bool
	Duration time.Duration
	CreditID string
	Error    string
	At       time.Time
}

// Health is the derived verdict.
type Health string

const (
	HealthOK      Health = "ok"
	HealthWarning Health = "warning"
	HealthIssue   Health = "issue"
)

const (
	defaultCapacity = 1000
	// minSamples is the smallest sample size worth judging success rates on.
	minSamples       = 20
	issueThreshold   = 0.90
	warningThreshold = 0.95
	latencyCeiling   = 30 * time.Second
)

// TypeStats aggregates the buffered samples for one operation type.
type TypeStats struct {
	Total       int
	Successes   int
	SuccessRate float64
	AvgLatency  time.Duration
}

// Stats is the full metrics snapshot.
type Stats struct {
	ByType       map[OpType]TypeStats
	ActiveTokens int // mints minus burns over the buffered window
	Health       Health
	Reasons      []string
}

// Monitor keeps a bounded ring buffer of the most recent samples.
type Monitor struct {
	mu      sync.RWMutex
	samples []Sample
	next    int
	filled  bool

	promOps      *prometheus.CounterVec
	promDuration *prometheus.HistogramVec
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithCapacity overrides the ring buffer size.
func WithCapacity(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.samples = make([]Sample, n)
		}
	}
}

// New creates a Monitor and registers its prometheus collectors.
func New(reg prometheus.Registerer, opts ...Option) *Monitor {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Monitor{
		samples: make([]Sample, defaultCapacity),
		promOps: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "karbon_anchor_operations_total",
			Help: "Total anchoring operations by type and outcome.",
		}, []string{"type", "outcome"}),
		promDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "karbon_anchor_operation_seconds",
			Help:    "Anchoring operation latency by type.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"type"}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record stores one operation sample.
func (m *Monitor) Record(s Sample) {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	outcome := "success"
	if !s.Success {
		outcome = "failure"
	}
	m.promOps.WithLabelValues(string(s.Type), outcome).Inc()
	m.promDuration.WithLabelValues(string(s.Type)).Observe(s.Duration.Seconds())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples[m.next] = s
	m.next++
	if m.next == len(m.samples) {
		m.next = 0
		m.filled = true
	}
}

// snapshot returns buffered samples oldest first.
func (m *Monitor) snapshot() []Sample {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.filled {
		out := make([]Sample, m.next)
		copy(out, m.samples[:m.next])
		return out
	}
	out := make([]Sample, 0, len(m.samples))
	out = append(out, m.samples[m.next:]...)
	out = append(out, m.samples[:m.next]...)
	return out
}

// Stats derives per-type rates, the active-token estimate and the health
// verdict from the buffered window.
func (m *Monitor) Stats() Stats {
	samples := m.snapshot()

	type agg struct {
		total, success int
		latency        time.Duration
	}
	byType := map[OpType]*agg{}
	mints, burns := 0, 0
	for _, s := range samples {
		a := byType[s.Type]
		if a == nil {
			a = &agg{}
			byType[s.Type] = a
		}
		a.total++
		a.latency += s.Duration
		if s.Success {
			a.success++
			switch s.Type {
			case OpMint:
				mints++
			case OpBurn:
				burns++
			}
		}
	}

	stats := Stats{ByType: make(map[OpType]TypeStats, len(byType)), ActiveTokens: mints - burns, Health: HealthOK}
	total, success := 0, 0
	var totalLatency time.Duration
	for typ, a := range byType {
		ts := TypeStats{Total: a.total, Successes: a.success}
		if a.total > 0 {
			ts.SuccessRate = float64(a.success) / float64(a.total)
			ts.AvgLatency = a.latency / time.Duration(a.total)
		}
		stats.ByType[typ] = ts
		total += a.total
		success += a.success
		totalLatency += a.latency
	}

	if total >= minSamples {
		rate := float64(success) / float64(total)
		avg := totalLatency / time.Duration(total)
		switch {
		case rate < issueThreshold:
			stats.Health = HealthIssue
			stats.Reasons = append(stats.Reasons, fmt.Sprintf("success rate %.1f%% below %.0f%%", rate*100, issueThreshold*100))
		case rate < warningThreshold:
			stats.Health = HealthWarning
			stats.Reasons = append(stats.Reasons, fmt.Sprintf("success rate %.1f%% below %.0f%%", rate*100, warningThreshold*100))
		}
		if avg > latencyCeiling {
			if stats.Health == HealthOK {
				stats.Health = HealthWarning
			}
			stats.Reasons = append(stats.Reasons, fmt.Sprintf("average latency %s above %s", avg, latencyCeiling))
		}
	}
	return stats
}

// RecentFailures returns up to limit failed samples, newest first.
func (m *Monitor) RecentFailures(limit int) []Sample {
	samples := m.snapshot()
	var out []Sample
	for i := len(samples) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if !samples[i].Success {
			out = append(out, samples[i])
		}
	}
	return out
}

// Export renders a plain-text dump of the derived metrics for scraping by
// tools that do not speak the prometheus endpoint.
func (m *Monitor) Export() string {
	stats := m.Stats()
	var b strings.Builder
	fmt.Fprintf(&b, "health %s\n", stats.Health)
	for _, reason := range stats.Reasons {
		fmt.Fprintf(&b, "health_reason %s\n", reason)
	}
	fmt.Fprintf(&b, "active_tokens %d\n", stats.ActiveTokens)
	for _, typ := range []OpType{OpMint, OpTransfer, OpBurn} {
		ts, ok := stats.ByType[typ]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "%s_total %d\n", typ, ts.Total)
		fmt.Fprintf(&b, "%s_success_rate %.4f\n", typ, ts.SuccessRate)
		fmt.Fprintf(&b, "%s_avg_latency_ms %d\n", typ, ts.AvgLatency.Milliseconds())
	}
	return b.String()
}
