package reconciler

import (
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/rollout/pkg/cluster"
	"github.com/cuemby/rollout/pkg/deploy"
	"github.com/cuemby/rollout/pkg/log"
	"github.com/cuemby/rollout/pkg/manager"
	"github.com/cuemby/rollout/pkg/metrics"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// DefaultInterval is how often the reconciler polls the orchestrator
const DefaultInterval = 10 * time.Second

// Reconciler drives pending upgrades to completion. Each cycle it asks the
// observer how every cluster is doing on its pending manifest and reports
// convergence, failure or a poll without progress to the manager.
type Reconciler struct {
	manager  *manager.Manager
	observer deploy.Observer
	interval time.Duration
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	logger   zerolog.Logger
}

// NewReconciler creates a new reconciler. A zero interval uses DefaultInterval.
func NewReconciler(mgr *manager.Manager, observer deploy.Observer, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		manager:  mgr,
		observer: observer,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   log.WithComponent("reconciler"),
	}
}

// Start begins the reconciliation loop
func (r *Reconciler) Start() {
	metrics.UpdateComponent("reconciler", true, "")
	go r.run()
}

// Stop stops the reconciler
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := r.Reconcile(); err != nil {
				r.logger.Error().Err(err).Msg("Reconciliation cycle failed")
				metrics.UpdateComponent("reconciler", false, err.Error())
			} else {
				metrics.UpdateComponent("reconciler", true, "")
			}
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile performs one reconciliation cycle. Followers skip it: only the
// leader can commit the results.
func (r *Reconciler) Reconcile() error {
	if !r.manager.IsLeader() {
		return nil
	}

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	clusters, err := r.manager.ListClusters()
	if err != nil {
		return errors.Annotate(err, "listing clusters")
	}

	for _, res := range clusters {
		if err := r.reconcileCluster(res); err != nil {
			r.logger.Warn().Err(err).Str("cluster_id", res.ID).Msg("Failed to reconcile cluster")
		}
	}
	return nil
}

func (r *Reconciler) reconcileCluster(res *cluster.Resource) error {
	p := res.Pending
	if p == nil {
		return r.retry(res)
	}

	obs := r.observer.Observe(res.ID, p.ExternalState)
	switch obs.Outcome {
	case deploy.OutcomeConverged:
		// Sizes are only checked when the orchestrator reports them.
		if obs.ReplicaSetSizes == nil || p.VerifyTargetSystemServicesReplicaSetSize(obs.ReplicaSetSizes) {
			_, err := r.manager.CompleteUpgrade(res.ID)
			return err
		}
		r.logger.Info().Str("cluster_id", res.ID).Str("upgrade_kind", string(p.Kind)).
			Msg("Manifest deployed but system services not resized yet")
		return r.poll(res.ID, false)

	case deploy.OutcomeFailed:
		_, err := r.manager.RollbackUpgrade(res.ID, obs.Reason)
		return err

	default:
		return r.poll(res.ID, obs.Progressed)
	}
}

// poll counts a poll of the pending upgrade and fails it once it made no
// progress for too long
func (r *Reconciler) poll(id string, progressed bool) error {
	res, err := r.manager.RecordPoll(id, progressed)
	if err != nil {
		return err
	}
	p := res.Pending
	if p == nil || !p.ShouldFailOnPollWithoutUpgrade() {
		return nil
	}

	reason := fmt.Sprintf("no progress after %d polls", p.PollCountWithoutUpgrade)
	r.logger.Warn().Str("cluster_id", id).Str("upgrade_kind", string(p.Kind)).Msg("Upgrade stuck, failing it")
	_, err = r.manager.RollbackUpgrade(id, reason)
	return err
}

// retry runs the state machine of a cluster with nothing pending. Uninitialized
// clusters wait on the seed node deadline and only move when polled again.
func (r *Reconciler) retry(res *cluster.Resource) error {
	next, err := r.manager.RunStateMachine(res.ID)
	if err != nil {
		return err
	}
	if next.Pending != nil {
		r.logger.Info().Str("cluster_id", res.ID).Str("upgrade_kind", string(next.Pending.Kind)).
			Msg("Upgrade started on retry")
		return nil
	}
	return r.checkDrift(next)
}

// checkDrift reports what a steady cluster runs so the manager can start a
// gatekeeping upgrade when it drifted from its current manifest
func (r *Reconciler) checkDrift(res *cluster.Resource) error {
	if res.Current == nil {
		return nil
	}
	observed, ok := r.observer.Observed(res.ID)
	if !ok || observed.Equal(res.Current.ExternalState) {
		return nil
	}
	_, err := r.manager.ReportObservedVersion(res.ID, observed)
	return err
}
