package cluster

import (
	"fmt"
	"time"

	"github.com/cuemby/rollout/pkg/events"
	"github.com/cuemby/rollout/pkg/fault"
	"github.com/cuemby/rollout/pkg/log"
	"github.com/cuemby/rollout/pkg/metrics"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/cuemby/rollout/pkg/upgrade"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// maxInstantUpgrades bounds how many upgrades may resolve instantly in a
// single run before the machine yields
const maxInstantUpgrades = 8

// Machine drives cluster resources through their upgrades. Every operation
// takes a resource snapshot and returns the next snapshot together with
// whether it changed; the input is never modified. Callers persist a changed
// snapshot with a version checked replace.
type Machine struct {
	env     *upgrade.Env
	factory *upgrade.Factory
	events  events.Publisher
	logger  zerolog.Logger
}

// NewMachine creates a state machine. publisher may be nil.
func NewMachine(env *upgrade.Env, publisher events.Publisher) *Machine {
	return &Machine{
		env:     env,
		factory: upgrade.NewFactory(env),
		events:  publisher,
		logger:  log.WithComponent("cluster"),
	}
}

// mutate runs fn on a private copy of r
func (m *Machine) mutate(r *Resource, op string, fn func(next *Resource) (bool, error)) (*Resource, bool, error) {
	next, err := r.Clone()
	if err != nil {
		return nil, false, err
	}
	changed, err := fn(next)
	if err != nil {
		metrics.StateMachineRunsTotal.WithLabelValues("error").Inc()
		return r, false, errors.Annotatef(err, "%s on cluster %s", op, r.ID)
	}
	if !changed {
		metrics.StateMachineRunsTotal.WithLabelValues("unchanged").Inc()
		return r, false, nil
	}
	metrics.StateMachineRunsTotal.WithLabelValues("changed").Inc()
	next.UpdatedAt = m.env.Clock.Now()
	return next, true, nil
}

// RunStateMachine moves the cluster towards its staged targets: a baseline
// upgrade for a new cluster, an interruption of an interruptible pending
// upgrade, or the next upgrade of a steady cluster.
func (m *Machine) RunStateMachine(r *Resource) (*Resource, bool, error) {
	return m.mutate(r, "running state machine", m.run)
}

func (m *Machine) run(r *Resource) (bool, error) {
	switch {
	case r.Current == nil:
		return m.tryConfigureBaselineUpgrade(r)
	case r.Pending != nil:
		return m.tryInterruptPendingUpgrade(r)
	default:
		return m.tryProcessUpgrade(r)
	}
}

func (m *Machine) tryConfigureBaselineUpgrade(r *Resource) (bool, error) {
	if r.TargetUserConfig == nil {
		return false, nil
	}
	if r.Pending != nil {
		return false, fault.Invariantf("cluster %s has a pending upgrade but no current state", r.ID)
	}

	node := r.nodeConfig()
	s, err := m.factory.TryCreateUpgradeState(r, r.TargetUserConfig, r.TargetAdminConfig, node)
	if err != nil {
		return false, err
	}
	if s == nil {
		m.logger.Info().Str("cluster_id", r.ID).Msg("Baseline manifest cannot be generated yet")
		return false, nil
	}
	if s.Kind != upgrade.KindBaseline {
		return false, fault.Invariantf("cluster %s without current state got a %s upgrade", r.ID, s.Kind)
	}

	s.ClusterUpgradeStarted(m.env)
	r.Current = s.TargetClusterState()
	r.Pending = s
	r.TargetNodeConfig = node
	r.trackManifestVersion(s)
	m.publish(events.EventClusterCreated, r, "baseline manifest %s generated", s.ExternalState.ManifestVersion())
	return true, nil
}

// tryInterruptPendingUpgrade replaces an interruptible pending upgrade when the
// actor that owns it staged a newer target. Targets staged by other actors
// wait for the pending upgrade to finish.
func (m *Machine) tryInterruptPendingUpgrade(r *Resource) (bool, error) {
	p := r.Pending
	if !p.CanInterruptUpgrade() {
		return false, nil
	}

	user, admin, node := p.TargetUserConfig, p.TargetAdminConfig, p.TargetNodeConfig
	switch p.Owner {
	case upgrade.ActorUser:
		if r.TargetUserConfig != nil && !r.TargetUserConfigFailed {
			user = r.TargetUserConfig
		}
	case upgrade.ActorAdmin:
		if r.TargetAdminConfig != nil && !r.TargetAdminConfigFailed {
			admin = r.TargetAdminConfig
		}
	case upgrade.ActorNodes:
		if r.TargetNodeConfig != nil && !r.TargetNodeConfigFailed {
			node = r.TargetNodeConfig
		}
	}
	if upgrade.SameTargets(user, admin, node, p.TargetUserConfig, p.TargetAdminConfig, p.TargetNodeConfig) {
		return false, nil
	}

	s, err := m.factory.TryCreateUpgradeState(r, user, admin, node)
	if err != nil {
		return false, err
	}
	// Nil when the owner staged the current configuration again. The pending
	// upgrade still finishes, and the next run upgrades back to the staged
	// target, because the orchestrator may already be rolling its manifest out.
	if s == nil {
		m.logger.Info().Str("cluster_id", r.ID).Str("pending", string(p.Kind)).
			Msg("No upgrade for the newer target, pending upgrade continues")
		return false, nil
	}

	m.publish(events.EventUpgradeInterrupted, r, "%s upgrade interrupted by %s upgrade", p.Kind, s.Kind)
	r.Pending = nil
	r.trackManifestVersion(s)
	if s.IsNoOp() {
		r.Current = s.TargetClusterState()
		_, err := m.tryProcessUpgrade(r)
		return true, err
	}
	m.start(r, s)
	return true, nil
}

// tryProcessUpgrade starts the next upgrade of a steady cluster. Upgrades that
// resolve instantly are adopted and the next target is looked at right away.
func (m *Machine) tryProcessUpgrade(r *Resource) (bool, error) {
	changed := false
	for i := 0; i < maxInstantUpgrades; i++ {
		user, admin, node := r.nextTargets()
		cur := r.Current
		if upgrade.SameTargets(user, admin, node, cur.UserConfig, cur.AdminConfig, cur.NodeConfig) {
			return changed, nil
		}

		s, err := m.factory.TryCreateUpgradeState(r, user, admin, node)
		if err != nil {
			return changed, err
		}
		if s == nil {
			return changed, nil
		}
		r.trackManifestVersion(s)
		if s.IsNoOp() {
			r.Current = s.TargetClusterState()
			changed = true
			m.logger.Debug().Str("cluster_id", r.ID).Str("upgrade_kind", string(s.Kind)).Msg("Upgrade adopted without deployment")
			continue
		}
		m.start(r, s)
		return true, nil
	}
	m.logger.Warn().Str("cluster_id", r.ID).Msg("Too many instant upgrades in one run")
	return changed, nil
}

func (m *Machine) start(r *Resource, s *upgrade.State) {
	s.ClusterUpgradeStarted(m.env)
	r.Pending = s
	m.publish(events.EventUpgradeStarted, r, "%s upgrade to manifest %s started", s.Kind, s.ExternalState.ManifestVersion())
}

// ClusterUpgradeCompleted reports that the cluster converged on the external
// state of the pending upgrade
func (m *Machine) ClusterUpgradeCompleted(r *Resource) (*Resource, bool, error) {
	return m.mutate(r, "completing upgrade", func(next *Resource) (bool, error) {
		p := next.Pending
		if p == nil {
			return false, fault.Invariantf("cluster %s has no pending upgrade to complete", next.ID)
		}
		previous := next.Current
		st, err := p.ClusterUpgradeCompleted(next, m.env)
		if err != nil {
			return false, err
		}
		next.trackManifestVersion(p)
		if st == nil {
			m.publish(events.EventUpgradePhaseCompleted, next, "%s upgrade moved to manifest %s", p.Kind, p.ExternalState.ManifestVersion())
			return true, nil
		}
		if st == previous {
			m.publish(events.EventUpgradeRolledBack, next, "%s upgrade rolled back", p.Kind)
		} else {
			m.publish(events.EventUpgradeCompleted, next, "%s upgrade completed on manifest %s", p.Kind, st.ExternalState.ManifestVersion())
		}
		m.promote(next, st)
		return true, nil
	})
}

// ClusterUpgradeRolledBackOrFailed reports that the cluster failed to converge
// on the pending upgrade
func (m *Machine) ClusterUpgradeRolledBackOrFailed(r *Resource, at time.Time, reason string) (*Resource, bool, error) {
	return m.mutate(r, "rolling back upgrade", func(next *Resource) (bool, error) {
		p := next.Pending
		if p == nil {
			return false, fault.Invariantf("cluster %s has no pending upgrade to roll back", next.ID)
		}
		st, err := p.ClusterUpgradeRolledBackOrFailed(next, m.env, at, reason)
		if err != nil {
			return false, err
		}
		if st == nil {
			return true, nil
		}
		m.publish(events.EventUpgradeRolledBack, next, "%s upgrade failed: %s", p.Kind, reason)
		m.promote(next, st)
		return true, nil
	})
}

// promote makes st the current state and looks for the next upgrade. Errors
// of the follow up run are logged: the resolution itself must be kept.
func (m *Machine) promote(r *Resource, st *types.ClusterState) {
	r.Current = st
	r.Pending = nil
	if _, err := m.run(r); err != nil {
		m.logger.Warn().Err(err).Str("cluster_id", r.ID).Msg("Next upgrade could not start")
	}
}

// UpdateNodesStatus merges reported node statuses. A steady cluster then looks
// for topology driven upgrades; a pending upgrade finishes first.
func (m *Machine) UpdateNodesStatus(r *Resource, updates []types.NodeStatus) (*Resource, bool, error) {
	return m.mutate(r, "updating node status", func(next *Resource) (bool, error) {
		if !next.mergeNodeStatuses(updates) {
			return false, nil
		}
		next.NodeConfigVersion++
		next.TargetNodeConfig = next.nodeConfig()
		next.TargetNodeConfigFailed = false
		m.publish(events.EventNodesUpdated, next, "%d node statuses merged, node config version %d", len(updates), next.NodeConfigVersion)

		if next.Pending == nil {
			if _, err := m.run(next); err != nil {
				m.logger.Warn().Err(err).Str("cluster_id", next.ID).Msg("Topology upgrade could not start")
			}
		}
		return true, nil
	})
}

// ReportObservedVersion compares what the cluster actually runs with the
// current state. A steady cluster that drifted gets a gatekeeping upgrade.
func (m *Machine) ReportObservedVersion(r *Resource, observed *types.ExternalState) (*Resource, bool, error) {
	return m.mutate(r, "reporting observed version", func(next *Resource) (bool, error) {
		if next.Current == nil || next.Pending != nil || observed.Equal(next.Current.ExternalState) {
			return false, nil
		}
		s, err := m.factory.TryCreateGatekeeping(next, observed)
		if err != nil || s == nil {
			return false, err
		}
		m.logger.Warn().
			Str("cluster_id", next.ID).
			Str("observed", observed.ManifestVersion()).
			Str("expected", next.Current.ExternalState.ManifestVersion()).
			Msg("Cluster drifted from its current manifest")
		m.start(next, s)
		return true, nil
	})
}

// RecordUpgradeServicePoll counts a poll of the deployment orchestrator for
// the pending upgrade. progressed resets the count of polls without progress.
func (m *Machine) RecordUpgradeServicePoll(r *Resource, progressed bool) (*Resource, bool, error) {
	return m.mutate(r, "recording poll", func(next *Resource) (bool, error) {
		if next.Pending == nil {
			return false, nil
		}
		next.Pending.RecordPoll(progressed)
		next.LastPollAt = m.env.Clock.Now()
		return true, nil
	})
}

// SetTargetUserConfig stages a new user configuration and runs the state
// machine. A target that cannot be accepted is returned as an error and the
// snapshot is left unchanged.
func (m *Machine) SetTargetUserConfig(r *Resource, user *types.UserConfig) (*Resource, bool, error) {
	return m.mutate(r, "setting user configuration", func(next *Resource) (bool, error) {
		next.TargetUserConfig = user
		next.TargetUserConfigFailed = false
		if _, err := m.run(next); err != nil {
			return false, err
		}
		return true, nil
	})
}

// SetTargetAdminConfig stages a new admin configuration and runs the state machine
func (m *Machine) SetTargetAdminConfig(r *Resource, admin *types.AdminConfig) (*Resource, bool, error) {
	return m.mutate(r, "setting admin configuration", func(next *Resource) (bool, error) {
		next.TargetAdminConfig = admin
		next.TargetAdminConfigFailed = false
		if _, err := m.run(next); err != nil {
			return false, err
		}
		return true, nil
	})
}

func (m *Machine) publish(t events.EventType, r *Resource, format string, args ...interface{}) {
	if m.events == nil {
		return
	}
	ev := events.NewEvent(t, r.ID, fmt.Sprintf(format, args...))
	ev.Metadata = map[string]string{"phase": string(r.Phase())}
	m.events.Publish(ev)
}
