package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Cluster metrics
	ClustersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rollout_clusters_total",
			Help: "Total number of managed clusters by phase",
		},
		[]string{"phase"},
	)

	// Upgrade metrics
	UpgradesStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_upgrades_started_total",
			Help: "Total number of upgrades started by kind",
		},
		[]string{"kind"},
	)

	UpgradesCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_upgrades_completed_total",
			Help: "Total number of upgrades completed by kind",
		},
		[]string{"kind"},
	)

	UpgradesFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_upgrades_failed_total",
			Help: "Total number of upgrade phases rolled back or failed by kind",
		},
		[]string{"kind"},
	)

	StateMachineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rollout_state_machine_runs_total",
			Help: "Total number of state machine runs by result",
		},
		[]string{"result"},
	)

	// Seed node metrics
	SeedSelectionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rollout_seed_selection_duration_seconds",
			Help:    "Time taken to balance seed nodes over fault and upgrade domains",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Reconciler metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rollout_reconciliation_duration_seconds",
			Help:    "Duration of one reconciliation cycle over all clusters",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rollout_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles",
		},
	)

	// API metrics
	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rollout_api_request_duration_seconds",
			Help:    "Duration of HTTP API requests by method and status code",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "code"},
	)

	// Raft metrics
	RaftLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rollout_raft_is_leader",
			Help: "Whether this node is the Raft leader (1 = leader, 0 = follower)",
		},
	)

	RaftPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rollout_raft_peers_total",
			Help: "Total number of Raft peers in the control plane",
		},
	)

	RaftAppliedIndex = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rollout_raft_applied_index",
			Help: "Last applied Raft log index",
		},
	)
)

func init() {
	prometheus.MustRegister(ClustersTotal)
	prometheus.MustRegister(UpgradesStartedTotal)
	prometheus.MustRegister(UpgradesCompletedTotal)
	prometheus.MustRegister(UpgradesFailedTotal)
	prometheus.MustRegister(StateMachineRunsTotal)
	prometheus.MustRegister(SeedSelectionDuration)
	prometheus.MustRegister(ReconciliationDuration)
	prometheus.MustRegister(ReconciliationCyclesTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(RaftLeader)
	prometheus.MustRegister(RaftPeers)
	prometheus.MustRegister(RaftAppliedIndex)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed seconds on the labeled histogram
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
