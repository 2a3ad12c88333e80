/*
Package metrics provides Prometheus metrics and health endpoints for the
rollout control plane.

All metrics are registered with the default Prometheus registry at package
init and exposed by Handler on /metrics.

# Metrics

Clusters and upgrades:

	rollout_clusters_total{phase}              gauge, clusters per phase
	rollout_upgrades_started_total{kind}       counter
	rollout_upgrades_completed_total{kind}     counter
	rollout_upgrades_failed_total{kind}        counter, rolled back or failed phases
	rollout_state_machine_runs_total{result}   counter
	rollout_seed_selection_duration_seconds    histogram

Control plane:

	rollout_reconciliation_duration_seconds    histogram, one cycle over all clusters
	rollout_reconciliation_cycles_total        counter
	rollout_api_request_duration_seconds{method,code}
	rollout_raft_is_leader                     gauge, 1 on the leader
	rollout_raft_peers_total                   gauge
	rollout_raft_applied_index                 gauge

Gauges that describe stored state are sampled by a Collector from a Source
every 15 seconds; the manager implements Source. Counters and histograms are
updated where the event happens:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)

# Health

Running services report their component health:

	metrics.UpdateComponent("reconciler", true, "")

HealthHandler answers /health with every reported component and
LivenessHandler answers /livez as long as the process serves requests.
ReadyHandler answers /ready with 200 only when every component named in
CriticalComponents (raft, store, reconciler) is registered and healthy,
and with 503 otherwise.
*/
package metrics
