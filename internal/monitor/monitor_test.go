package monitor

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMonitor(opts ...Option) *Monitor {
	return New(prometheus.NewRegistry(), opts...)
}

func record(m *Monitor, typ OpType, success bool, n int, d time.Duration) {
	for i := 0; i < n; i++ {
		m.Record(Sample{Type: typ, Success: success, Duration: d, CreditID: "credit-1", Error: "boom"})
	}
}

func TestRingBufferWraps(t *testing.T) {
	m := newMonitor(WithCapacity(4))
	record(m, OpMint, false, 2, time.Second)
	record(m, OpMint, true, 4, time.Second)

	stats := m.Stats()
	mint := stats.ByType[OpMint]
	assert.Equal(t, 4, mint.Total, "older samples fall off the ring")
	assert.Equal(t, 4, mint.Successes)
}

func TestHealthVerdicts(t *testing.T) {
	t.Run("silent below the minimum sample size", func(t *testing.T) {
		m := newMonitor()
		record(m, OpMint, false, 10, time.Second)

		stats := m.Stats()
		assert.Equal(t, HealthOK, stats.Health)
		assert.Empty(t, stats.Reasons)
	})

	t.Run("warning between thresholds", func(t *testing.T) {
		m := newMonitor()
		record(m, OpMint, true, 93, time.Second)
		record(m, OpMint, false, 7, time.Second)

		stats := m.Stats()
		assert.Equal(t, HealthWarning, stats.Health)
		require.Len(t, stats.Reasons, 1)
		assert.Contains(t, stats.Reasons[0], "success rate")
	})

	t.Run("issue below ninety percent", func(t *testing.T) {
		m := newMonitor()
		record(m, OpTransfer, true, 80, time.Second)
		record(m, OpTransfer, false, 20, time.Second)

		stats := m.Stats()
		assert.Equal(t, HealthIssue, stats.Health)
	})

	t.Run("latency alone degrades to warning", func(t *testing.T) {
		m := newMonitor()
		record(m, OpMint, true, 25, 45*time.Second)

		stats := m.Stats()
		assert.Equal(t, HealthWarning, stats.Health)
		require.Len(t, stats.Reasons, 1)
		assert.Contains(t, stats.Reasons[0], "latency")
	})
}

func TestActiveTokens(t *testing.T) {
	m := newMonitor()
	record(m, OpMint, true, 5, time.Second)
	record(m, OpBurn, true, 2, time.Second)
	// Failed operations never changed chain state, so they do not count.
	record(m, OpMint, false, 3, time.Second)
	record(m, OpBurn, false, 1, time.Second)

	assert.Equal(t, 3, m.Stats().ActiveTokens)
}

func TestRecentFailures(t *testing.T) {
	m := newMonitor()
	m.Record(Sample{Type: OpMint, Success: false, Error: "first"})
	m.Record(Sample{Type: OpMint, Success: true})
	m.Record(Sample{Type: OpBurn, Success: false, Error: "second"})
	m.Record(Sample{Type: OpTransfer, Success: false, Error: "third"})

	failures := m.RecentFailures(2)
	require.Len(t, failures, 2)
	assert.Equal(t, "third", failures[0].Error)
	assert.Equal(t, "second", failures[1].Error)

	assert.Len(t, m.RecentFailures(0), 3, "non-positive limit returns everything")
}

func TestExport(t *testing.T) {
	m := newMonitor()
	record(m, OpMint, true, 3, 2*time.Second)
	record(m, OpBurn, true, 1, time.Second)

	out := m.Export()
	assert.True(t, strings.HasPrefix(out, "health ok\n"))
	assert.Contains(t, out, "active_tokens 2\n")
	assert.Contains(t, out, "mint_total 3\n")
	assert.Contains(t, out, "mint_success_rate 1.0000\n")
	assert.Contains(t, out, "mint_avg_latency_ms 2000\n")
	assert.NotContains(t, out, "transfer_total", "types with no samples are omitted")
}
