package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	require.False(t, timer.start.IsZero())

	time.Sleep(20 * time.Millisecond)
	first := timer.Duration()
	assert.GreaterOrEqual(t, first, 20*time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, timer.Duration(), first)
}

func TestTimerObserveDuration(t *testing.T) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "test_seed_selection_seconds",
		Help: "Test histogram",
	})

	timer := NewTimer()
	timer.ObserveDuration(h)
	timer.ObserveDuration(h)

	assert.Equal(t, 1, testutil.CollectAndCount(h))
}

func TestTimerObserveDurationVec(t *testing.T) {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "test_api_request_seconds",
		Help: "Test histogram vec",
	}, []string{"method", "code"})

	timer := NewTimer()
	timer.ObserveDurationVec(vec, "GET", "200")
	timer.ObserveDurationVec(vec, "POST", "422")
	timer.ObserveDurationVec(vec, "GET", "200")

	assert.Equal(t, 2, testutil.CollectAndCount(vec))
}

func TestRegisteredMetrics(t *testing.T) {
	UpgradesStartedTotal.WithLabelValues("seed-node").Inc()
	UpgradesCompletedTotal.WithLabelValues("seed-node").Inc()
	StateMachineRunsTotal.WithLabelValues("changed").Inc()
	APIRequestDuration.WithLabelValues("GET", "200").Observe(0.01)
	ClustersTotal.WithLabelValues("steady").Set(3)

	assert.Equal(t, float64(3), testutil.ToFloat64(ClustersTotal.WithLabelValues("steady")))

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, name := range []string{
		"rollout_upgrades_started_total",
		"rollout_upgrades_completed_total",
		"rollout_state_machine_runs_total",
		"rollout_api_request_duration_seconds",
		"rollout_clusters_total",
		"rollout_reconciliation_cycles_total",
		"rollout_raft_is_leader",
	} {
		assert.True(t, names[name], name)
	}
}
