package upgrade

import (
	"strconv"
	"time"

	"github.com/cuemby/rollout/pkg/fault"
	"github.com/cuemby/rollout/pkg/log"
	"github.com/cuemby/rollout/pkg/manifest"
	"github.com/cuemby/rollout/pkg/metrics"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// MaxPollCountWithoutUpgrade is how many upgrade service polls may pass without
// progress before an upgrade is considered stuck
const MaxPollCountWithoutUpgrade = 15

// Kind tags the variant of an upgrade state
type Kind string

const (
	KindBaseline    Kind = "baseline"
	KindSimple      Kind = "simple"
	KindCertificate Kind = "certificate"
	KindAutoScale   Kind = "auto-scale"
	KindScaleUp     Kind = "scale-up"
	KindScaleDown   Kind = "scale-down"
	KindSeedNode    Kind = "seed-node"
	KindGatekeeping Kind = "gatekeeping"
)

// IsMultiphase reports whether upgrades of this kind walk a manifest list
func (k Kind) IsMultiphase() bool {
	switch k {
	case KindCertificate, KindAutoScale, KindScaleUp, KindScaleDown, KindSeedNode:
		return true
	default:
		return false
	}
}

// Actor is who requested the change an upgrade converges to
type Actor string

const (
	ActorUser  Actor = "user"
	ActorAdmin Actor = "admin"
	ActorNodes Actor = "nodes"
)

// SystemServices are the stateful system services sized by the reliability level
var SystemServices = []string{"ClusterManagerService", "FailoverManagerService", "NamingService"}

// Cluster is the handle an upgrade state uses to reach the resource that owns it
type Cluster interface {
	ClusterID() string
	CurrentState() *types.ClusterState
	NodeStatuses() []types.NodeStatus
	SetNodeStatus(status types.NodeStatus)
	MarkTargetFailed(actor Actor)
	TracksNodeStatusPerType() bool
	LastManifestVersion() int64
}

// Env holds the collaborators upgrade transitions use
type Env struct {
	Activator manifest.Activator
	Clock     clock.Clock
	Logger    zerolog.Logger
}

// NewEnv creates an Env with the wall clock and the upgrade component logger
func NewEnv(activator manifest.Activator) *Env {
	return &Env{
		Activator: activator,
		Clock:     clock.WallClock,
		Logger:    log.WithComponent("upgrade"),
	}
}

func (e *Env) logger(s *State) zerolog.Logger {
	return log.WithUpgrade(e.Logger, s.ClusterID, string(s.Kind))
}

// Multiphase is the manifest list walked by multiphase upgrades
type Multiphase struct {
	ManifestList        []*types.ClusterManifest `json:"manifestList"`
	CurrentListIndex    int                      `json:"currentListIndex"`
	UpgradeUnsuccessful bool                     `json:"upgradeUnsuccessful"`
}

// ScalePayload lists the nodes a scale upgrade enables or removes
type ScalePayload struct {
	Nodes []string `json:"nodes"`
}

// AutoScalePayload records the reliability level change
type AutoScalePayload struct {
	FromLevel types.ReliabilityLevel `json:"fromLevel"`
	ToLevel   types.ReliabilityLevel `json:"toLevel"`
}

// CertificatePayload records the certificates the rotation started from
type CertificatePayload struct {
	From types.CertificateInformation `json:"from"`
	To   types.CertificateInformation `json:"to"`
}

// State is an upgrade in flight. Kind selects which payload is set and which
// transition rules apply. The owning cluster is referenced by ClusterID and
// passed to every transition as a Cluster.
type State struct {
	Kind      Kind   `json:"kind"`
	ClusterID string `json:"clusterId"`
	Owner     Actor  `json:"owner"`

	TargetUserConfig  *types.UserConfig  `json:"targetUserConfig"`
	TargetAdminConfig *types.AdminConfig `json:"targetAdminConfig"`
	TargetNodeConfig  *types.NodeConfig  `json:"targetNodeConfig"`

	ExternalState         *types.ExternalState `json:"externalState"`
	PreviousExternalState *types.ExternalState `json:"previousExternalState,omitempty"`

	PollCountWithoutUpgrade int       `json:"pollCountWithoutUpgrade"`
	ManifestVersion         int64     `json:"manifestVersion"`
	StartedAt               time.Time `json:"startedAt"`

	TargetSystemServicesReplicaSetSize map[string]types.ReplicaSetSize `json:"targetSystemServicesReplicaSetSize,omitempty"`

	Multiphase  *Multiphase         `json:"multiphase,omitempty"`
	Scale       *ScalePayload       `json:"scale,omitempty"`
	AutoScale   *AutoScalePayload   `json:"autoScale,omitempty"`
	Certificate *CertificatePayload `json:"certificate,omitempty"`

	noOp bool
}

func newState(kind Kind, c Cluster, owner Actor, user *types.UserConfig, admin *types.AdminConfig, node *types.NodeConfig) *State {
	return &State{
		Kind:              kind,
		ClusterID:         c.ClusterID(),
		Owner:             owner,
		TargetUserConfig:  user,
		TargetAdminConfig: admin,
		TargetNodeConfig:  node,
		ManifestVersion:   c.LastManifestVersion(),
	}
}

// GetNextClusterManifestVersion implements manifest.VersionGenerator
func (s *State) GetNextClusterManifestVersion() string {
	s.ManifestVersion++
	return strconv.FormatInt(s.ManifestVersion, 10)
}

// IsNoOp reports whether StartProcessing found nothing to deploy. The target
// can be adopted as the current state right away.
func (s *State) IsNoOp() bool {
	return s.noOp
}

// TargetClusterState is the cluster state this upgrade converges to
func (s *State) TargetClusterState() *types.ClusterState {
	return types.NewClusterState(s.TargetUserConfig, s.TargetAdminConfig, s.TargetNodeConfig, s.ExternalState)
}

// CanInterruptUpgrade reports whether a newer request may replace this upgrade.
// Multiphase upgrades are interruptible only in their first phase.
func (s *State) CanInterruptUpgrade() bool {
	switch s.Kind {
	case KindBaseline, KindGatekeeping:
		return false
	case KindSimple:
		return true
	default:
		return s.Multiphase != nil && s.Multiphase.CurrentListIndex == 0 && !s.Multiphase.UpgradeUnsuccessful
	}
}

// ShouldFailOnPollWithoutUpgrade reports whether the upgrade looks stuck
func (s *State) ShouldFailOnPollWithoutUpgrade() bool {
	return s.PollCountWithoutUpgrade > MaxPollCountWithoutUpgrade
}

// RecordPoll counts an upgrade service poll. Progress resets the counter.
func (s *State) RecordPoll(progressed bool) {
	if progressed {
		s.PollCountWithoutUpgrade = 0
		return
	}
	s.PollCountWithoutUpgrade++
}

// VerifyTargetSystemServicesReplicaSetSize reports whether the observed system
// service replica set sizes reached the target sizes. Upgrades without target
// sizes have nothing to verify.
func (s *State) VerifyTargetSystemServicesReplicaSetSize(observed map[string]types.ReplicaSetSize) bool {
	for service, want := range s.TargetSystemServicesReplicaSetSize {
		got, ok := observed[service]
		if !ok || got.TargetReplicaSetSize != want.TargetReplicaSetSize {
			return false
		}
	}
	return true
}

// StartProcessing generates the manifests of the upgrade. It returns false when
// they cannot be generated yet, e.g. not enough nodes to place the seed nodes.
func (s *State) StartProcessing(c Cluster, env *Env) (bool, error) {
	var (
		ok  bool
		err error
	)
	switch s.Kind {
	case KindBaseline:
		ok, err = s.startBaseline(env)
	case KindSimple:
		ok, err = s.startSimple(c, env)
	case KindGatekeeping:
		ok, err = s.startGatekeeping(c)
	case KindCertificate:
		ok, err = s.startCertificate(c, env)
	case KindAutoScale:
		ok, err = s.startAutoScale(c, env)
	case KindScaleUp:
		ok, err = s.startScaleUp(c, env)
	case KindScaleDown:
		ok, err = s.startScaleDown(c, env)
	case KindSeedNode:
		ok, err = s.startSeedNode(c, env)
	default:
		return false, fault.Invariantf("unknown upgrade kind %q", s.Kind)
	}
	if err != nil {
		return false, errors.Annotatef(err, "starting %s upgrade", s.Kind)
	}

	logger := env.logger(s)
	if !ok {
		logger.Info().Msg("Upgrade cannot start yet")
		return false, nil
	}
	ev := logger.Info().Str("manifest_version", s.ExternalState.ManifestVersion()).Bool("no_op", s.noOp)
	if s.Multiphase != nil {
		ev = ev.Int("phases", len(s.Multiphase.ManifestList))
	}
	ev.Msg("Upgrade processed")
	return true, nil
}

// ClusterUpgradeStarted marks the upgrade as handed to the deployment orchestrator
func (s *State) ClusterUpgradeStarted(env *Env) {
	s.StartedAt = env.Clock.Now()
	s.PollCountWithoutUpgrade = 0
	metrics.UpgradesStartedTotal.WithLabelValues(string(s.Kind)).Inc()
	logger := env.logger(s)
	logger.Info().
		Str("owner", string(s.Owner)).
		Str("manifest_version", s.ExternalState.ManifestVersion()).
		Msg("Upgrade started")
}

// ClusterUpgradeCompleted advances the upgrade after the cluster converged on
// ExternalState. It returns nil while phases remain, otherwise the state the
// cluster resolved to.
func (s *State) ClusterUpgradeCompleted(c Cluster, env *Env) (*types.ClusterState, error) {
	switch s.Kind {
	case KindBaseline, KindSimple, KindGatekeeping:
		return s.resolve(c, env), nil
	case KindCertificate, KindAutoScale, KindScaleUp, KindScaleDown, KindSeedNode:
		if s.Multiphase == nil {
			return nil, fault.Invariantf("%s upgrade of cluster %s has no manifest list", s.Kind, s.ClusterID)
		}
		if !s.Multiphase.completed() {
			s.advance(env, "Upgrade phase completed")
			return nil, nil
		}
		if s.Multiphase.UpgradeUnsuccessful {
			return s.giveUp(c, env), nil
		}
		return s.resolve(c, env), nil
	default:
		return nil, fault.Invariantf("unknown upgrade kind %q", s.Kind)
	}
}

// ClusterUpgradeRolledBackOrFailed applies the failure policy of the kind.
// It returns nil when the upgrade stays pending, otherwise the state the
// cluster resolved to.
func (s *State) ClusterUpgradeRolledBackOrFailed(c Cluster, env *Env, at time.Time, reason string) (*types.ClusterState, error) {
	metrics.UpgradesFailedTotal.WithLabelValues(string(s.Kind)).Inc()
	logger := env.logger(s)
	logger.Warn().
		Time("at", at).
		Str("reason", reason).
		Str("manifest_version", s.ExternalState.ManifestVersion()).
		Msg("Upgrade rolled back or failed")

	switch s.Kind {
	case KindBaseline, KindGatekeeping, KindScaleUp, KindScaleDown:
		// Retried until they succeed.
		s.PollCountWithoutUpgrade = 0
		return nil, nil
	case KindSimple:
		return s.giveUp(c, env), nil
	case KindCertificate, KindAutoScale, KindSeedNode:
		if s.Multiphase == nil {
			return nil, fault.Invariantf("%s upgrade of cluster %s has no manifest list", s.Kind, s.ClusterID)
		}
		if !s.Multiphase.rolledBack() {
			s.advance(env, "Upgrade phase rolled back")
			return nil, nil
		}
		return s.giveUp(c, env), nil
	default:
		return nil, fault.Invariantf("unknown upgrade kind %q", s.Kind)
	}
}

// advance points ExternalState at the manifest of the current phase
func (s *State) advance(env *Env, msg string) {
	m := s.Multiphase
	s.PreviousExternalState = s.ExternalState
	s.ExternalState = s.externalState(m.ManifestList[m.CurrentListIndex])
	s.PollCountWithoutUpgrade = 0
	logger := env.logger(s)
	logger.Info().
		Int("phase", m.CurrentListIndex).
		Int("phases", len(m.ManifestList)).
		Bool("rolling_back", m.UpgradeUnsuccessful).
		Msg(msg)
}

// resolve finalizes node states and returns the converged cluster state
func (s *State) resolve(c Cluster, env *Env) *types.ClusterState {
	nodes := finalizeNodes(c, s.TargetNodeConfig, s.ExternalState.ClusterManifest)
	metrics.UpgradesCompletedTotal.WithLabelValues(string(s.Kind)).Inc()
	logger := env.logger(s)
	logger.Info().Str("manifest_version", s.ExternalState.ManifestVersion()).Msg("Upgrade completed")
	return types.NewClusterState(s.TargetUserConfig, s.TargetAdminConfig, nodes, s.ExternalState)
}

// giveUp abandons the target and returns the cluster to its current state
func (s *State) giveUp(c Cluster, env *Env) *types.ClusterState {
	c.MarkTargetFailed(s.Owner)
	logger := env.logger(s)
	logger.Warn().Str("owner", string(s.Owner)).Msg("Upgrade abandoned, target marked failed")
	return c.CurrentState()
}

func (s *State) externalState(m *types.ClusterManifest) *types.ExternalState {
	msi := ""
	if s.TargetUserConfig != nil {
		msi = s.TargetUserConfig.CodeVersion
	}
	return &types.ExternalState{ClusterManifest: m, MsiVersion: msi}
}

// finalizeNodes promotes enabling nodes that made it into the manifest and
// retires removed nodes that left it
func finalizeNodes(c Cluster, cfg *types.NodeConfig, m *types.ClusterManifest) *types.NodeConfig {
	if cfg == nil {
		return nil
	}
	inManifest := make(map[string]bool)
	if m != nil {
		for _, n := range m.Nodes {
			inManifest[n.NodeName] = true
		}
	}

	out := &types.NodeConfig{Version: cfg.Version, NodesStatus: make([]types.NodeStatus, len(cfg.NodesStatus))}
	for i, st := range cfg.NodesStatus {
		switch {
		case st.NodeState == types.NodeStateEnabling && inManifest[st.NodeName]:
			st.NodeState = types.NodeStateEnabled
			c.SetNodeStatus(st)
		case st.NodeState == types.NodeStateDisabling && !st.IsActive() && !inManifest[st.NodeName]:
			st.NodeState = types.NodeStateDisabled
			if st.NodeDeactivationIntent == types.DeactivationIntentRemoveNode {
				st.NodeState = types.NodeStateRemoved
			}
			c.SetNodeStatus(st)
		}
		out.NodesStatus[i] = st
	}
	return out
}
