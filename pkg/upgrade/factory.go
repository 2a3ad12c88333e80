package upgrade

import (
	"github.com/cuemby/rollout/pkg/certflow"
	"github.com/cuemby/rollout/pkg/fault"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
)

// Topology is the difference between the nodes of the current manifest and the
// nodes that should be in it
type Topology struct {
	Adding          []string
	Removing        []string
	SeedsNeedUpdate bool
}

// HasWork reports whether the manifest nodes or seed nodes must change
func (t Topology) HasWork() bool {
	return len(t.Adding) > 0 || len(t.Removing) > 0 || t.SeedsNeedUpdate
}

// AnalyzeTopology compares the current manifest with the active nodes of node.
// Seed nodes need an update when one of them is no longer eligible or their
// count does not match the reliability level of user.
func AnalyzeTopology(cur *types.ClusterState, user *types.UserConfig, node *types.NodeConfig) Topology {
	var topo Topology
	if cur == nil || cur.ExternalState == nil || cur.ExternalState.ClusterManifest == nil || node == nil {
		return topo
	}
	m := cur.ExternalState.ClusterManifest

	inManifest := set.NewStrings()
	for _, n := range m.Nodes {
		inManifest.Add(n.NodeName)
	}
	active := set.NewStrings()
	eligible := set.NewStrings()
	var primary string
	if user != nil {
		if nt := user.PrimaryNodeType(); nt != nil {
			primary = nt.Name
		}
	}
	for _, st := range node.NodesStatus {
		if st.IsActive() {
			active.Add(st.NodeName)
		}
		if st.NodeTypeRef == primary && st.IsEligibleSeed() {
			eligible.Add(st.NodeName)
		}
	}

	topo.Adding = active.Difference(inManifest).SortedValues()
	topo.Removing = inManifest.Difference(active).SortedValues()
	if user != nil && len(m.SeedNodes) != user.ReliabilityLevel.GetSeedNodeCount() {
		topo.SeedsNeedUpdate = true
	}
	for _, seed := range m.SeedNodes {
		if !eligible.Contains(seed) {
			topo.SeedsNeedUpdate = true
			break
		}
	}
	return topo
}

// NeedsTopologyChange reports whether node changes what the current manifest
// of c must contain
func NeedsTopologyChange(c Cluster, user *types.UserConfig, node *types.NodeConfig) bool {
	cur := c.CurrentState()
	if cur == nil || cur.NodeConfig == nil || node == nil {
		return false
	}
	return node.Version != cur.NodeConfig.Version && AnalyzeTopology(cur, user, node).HasWork()
}

// SameTargets reports whether two target triples are equal. Node
// configurations are compared by version.
func SameTargets(user *types.UserConfig, admin *types.AdminConfig, node *types.NodeConfig,
	otherUser *types.UserConfig, otherAdmin *types.AdminConfig, otherNode *types.NodeConfig) bool {
	return sameJSON(user, otherUser) && sameJSON(admin, otherAdmin) && nodeVersion(node) == nodeVersion(otherNode)
}

func nodeVersion(n *types.NodeConfig) int64 {
	if n == nil {
		return -1
	}
	return n.Version
}

// Factory decides which upgrade converges a cluster to a target triple
type Factory struct {
	Env *Env
}

// NewFactory creates a factory using env for every state it creates
func NewFactory(env *Env) *Factory {
	return &Factory{Env: env}
}

// TryCreateUpgradeState creates and starts the upgrade from the current state
// of c to the given targets. It returns nil when there is nothing to do or the
// upgrade cannot start yet, and a domain error when the change is not allowed.
func (f *Factory) TryCreateUpgradeState(c Cluster, user *types.UserConfig, admin *types.AdminConfig, node *types.NodeConfig) (*State, error) {
	cur := c.CurrentState()
	if cur == nil {
		s := newState(KindBaseline, c, ActorUser, user, admin, node)
		if err := s.ValidateSettingChanges(c); err != nil {
			return nil, err
		}
		ok, err := s.StartProcessing(c, f.Env)
		if err != nil || !ok {
			return nil, err
		}
		return s, nil
	}
	if user == nil || cur.UserConfig == nil {
		return nil, errors.NotValidf("upgrade of cluster %s without user configuration", c.ClusterID())
	}

	_, _, certChanged := certflow.HasCertificateChanged(cur.UserConfig.Certificates(), user.Certificates())
	levelChange := user.ReliabilityLevel.Compare(cur.UserConfig.ReliabilityLevel)
	topo := AnalyzeTopology(cur, user, node)
	nodeChanged := cur.NodeConfig != nil && node != nil && node.Version != cur.NodeConfig.Version && topo.HasWork()

	if certChanged && (levelChange != 0 || nodeChanged) {
		return nil, fault.Newf(fault.CertificateAndScaleUpgradeTogetherNotAllowed,
			"certificate change cannot be combined with a scale change on cluster %s", c.ClusterID())
	}
	if nodeChanged && !c.TracksNodeStatusPerType() {
		return nil, fault.Newf(fault.ScaleUpAndScaleDownUpgradeNotAllowedForOlderClusters,
			"cluster %s does not track node status per node type", c.ClusterID())
	}

	owner := ActorNodes
	switch {
	case !sameJSON(user, cur.UserConfig):
		owner = ActorUser
	case !sameJSON(admin, cur.AdminConfig):
		owner = ActorAdmin
	}

	var kind Kind
	switch {
	case certChanged:
		kind = KindCertificate
	case levelChange != 0:
		kind = KindAutoScale
	case len(topo.Removing) > 0:
		kind = KindScaleDown
	case len(topo.Adding) > 0:
		kind = KindScaleUp
	case topo.SeedsNeedUpdate:
		kind = KindSeedNode
	case owner != ActorNodes || nodeVersion(node) != nodeVersion(cur.NodeConfig):
		kind = KindSimple
	default:
		return nil, nil
	}

	s := newState(kind, c, owner, user, admin, node)
	if err := s.ValidateSettingChanges(c); err != nil {
		return nil, err
	}
	ok, err := s.StartProcessing(c, f.Env)
	if err != nil {
		return nil, err
	}
	if ok {
		return s, nil
	}

	switch {
	case kind == KindScaleUp:
		return f.fallbackToSimple(c, owner, user, admin, node)
	case kind == KindAutoScale && levelChange > 0:
		// Keep the current level until enough nodes arrive for the new one.
		held := cloneUser(user)
		held.ReliabilityLevel = cur.UserConfig.ReliabilityLevel
		return f.fallbackToSimple(c, owner, held, admin, node)
	default:
		return nil, nil
	}
}

// fallbackToSimple accepts a structural change that cannot be deployed yet as a
// simple upgrade so the request does not wait on nodes that cannot arrive
func (f *Factory) fallbackToSimple(c Cluster, owner Actor, user *types.UserConfig, admin *types.AdminConfig, node *types.NodeConfig) (*State, error) {
	cur := c.CurrentState()
	if SameTargets(user, admin, node, cur.UserConfig, cur.AdminConfig, cur.NodeConfig) {
		return nil, nil
	}
	s := newState(KindSimple, c, owner, user, admin, node)
	ok, err := s.StartProcessing(c, f.Env)
	if err != nil || !ok {
		return nil, err
	}
	f.Env.Logger.Info().Str("cluster_id", c.ClusterID()).Msg("Structural change deferred, falling back to simple upgrade")
	return s, nil
}

// TryCreateGatekeeping creates the upgrade that redeploys the current manifest
// of c after observed drifted from it
func (f *Factory) TryCreateGatekeeping(c Cluster, observed *types.ExternalState) (*State, error) {
	cur := c.CurrentState()
	if cur == nil {
		return nil, fault.Invariantf("gatekeeping cluster %s without current state", c.ClusterID())
	}
	s := newState(KindGatekeeping, c, ActorAdmin, cur.UserConfig, cur.AdminConfig, cur.NodeConfig)
	ok, err := s.StartProcessing(c, f.Env)
	if err != nil || !ok {
		return nil, err
	}
	s.PreviousExternalState = observed
	return s, nil
}

func cloneUser(u *types.UserConfig) *types.UserConfig {
	c := *u
	c.NodeTypes = append([]types.NodeType(nil), u.NodeTypes...)
	c.FabricSettings = types.CloneSettings(u.FabricSettings)
	return &c
}
