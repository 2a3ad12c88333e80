package upgrade

import (
	"bytes"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/cuemby/rollout/pkg/fault"
	"github.com/cuemby/rollout/pkg/manifest"
	"github.com/cuemby/rollout/pkg/seednode"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/clock/testclock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCluster struct {
	id          string
	current     *types.ClusterState
	statuses    map[string]types.NodeStatus
	failed      []Actor
	perType     bool
	lastVersion int64
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{id: "c1", statuses: make(map[string]types.NodeStatus), perType: true}
}

func (c *fakeCluster) ClusterID() string                 { return c.id }
func (c *fakeCluster) CurrentState() *types.ClusterState { return c.current }
func (c *fakeCluster) TracksNodeStatusPerType() bool     { return c.perType }
func (c *fakeCluster) LastManifestVersion() int64        { return c.lastVersion }
func (c *fakeCluster) MarkTargetFailed(a Actor)          { c.failed = append(c.failed, a) }

func (c *fakeCluster) NodeStatuses() []types.NodeStatus {
	var out []types.NodeStatus
	for _, s := range c.statuses {
		out = append(out, s)
	}
	types.SortNodeStatuses(out)
	return out
}

func (c *fakeCluster) SetNodeStatus(s types.NodeStatus) {
	c.statuses[s.NodeName] = s
}

func nodeStatus(nodeType string, i int, state types.NodeState) types.NodeStatus {
	return types.NodeStatus{
		NodeDescription: types.NodeDescription{
			NodeName:      fmt.Sprintf("_%s_%d", nodeType, i),
			NodeTypeRef:   nodeType,
			IPAddress:     fmt.Sprintf("10.0.0.%d", i+4),
			FaultDomain:   fmt.Sprintf("fd:/%d", i%5),
			UpgradeDomain: strconv.Itoa(i % 5),
		},
		NodeState: state,
	}
}

func nodes(version int64, count int) *types.NodeConfig {
	cfg := &types.NodeConfig{Version: version}
	for i := 0; i < count; i++ {
		cfg.NodesStatus = append(cfg.NodesStatus, nodeStatus("nt1vm", i, types.NodeStateEnabled))
	}
	return cfg
}

func user(level types.ReliabilityLevel, count int, thumbprint string) *types.UserConfig {
	return &types.UserConfig{
		Version:            "1",
		CodeVersion:        "7.0.470.9590",
		ReliabilityLevel:   level,
		FaultDomainCount:   5,
		UpgradeDomainCount: 5,
		NodeTypes: []types.NodeType{
			{Name: "nt1vm", IsPrimary: true, VMInstanceCount: count, ClientConnectionEndpointPort: 19000, HTTPGatewayEndpointPort: 19080},
			{Name: "nt2vm", VMInstanceCount: 1, ClientConnectionEndpointPort: 19000, HTTPGatewayEndpointPort: 19080},
		},
		Security: &types.Security{
			ClusterCredentialType: "X509",
			CertificateInformation: types.CertificateInformation{
				ClusterCertificate: &types.CertificateDescription{Thumbprint: thumbprint},
			},
		},
	}
}

func testEnv() *Env {
	clk := testclock.NewClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return &Env{
		Activator: manifest.NewStandardActivator(seednode.Config{Clock: clk, Timeout: time.Minute, Seed: 1}),
		Clock:     clk,
		Logger:    zerolog.Nop(),
	}
}

// provisioned returns a cluster that completed its baseline upgrade
func provisioned(t *testing.T, f *Factory, level types.ReliabilityLevel, count int) *fakeCluster {
	t.Helper()
	c := newFakeCluster()
	s, err := f.TryCreateUpgradeState(c, user(level, count, "A"), &types.AdminConfig{Version: "1"}, nodes(1, count))
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, KindBaseline, s.Kind)

	s.ClusterUpgradeStarted(f.Env)
	cur, err := s.ClusterUpgradeCompleted(c, f.Env)
	require.NoError(t, err)
	require.NotNil(t, cur)
	c.current = cur
	c.lastVersion = s.ManifestVersion
	return c
}

func TestBaselineUpgrade(t *testing.T) {
	f := NewFactory(testEnv())
	c := newFakeCluster()

	s, err := f.TryCreateUpgradeState(c, user(types.ReliabilityBronze, 5, "A"), nil, nodes(1, 5))
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, KindBaseline, s.Kind)
	assert.False(t, s.CanInterruptUpgrade())
	assert.Equal(t, "1", s.ExternalState.ManifestVersion())
	assert.Len(t, s.ExternalState.ClusterManifest.SeedNodes, 3)
	assert.Equal(t, "7.0.470.9590", s.ExternalState.MsiVersion)
}

func TestBaselineWaitsForNodes(t *testing.T) {
	f := NewFactory(testEnv())
	s, err := f.TryCreateUpgradeState(newFakeCluster(), user(types.ReliabilitySilver, 5, "A"), nil, nodes(1, 3))
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestNothingToUpgrade(t *testing.T) {
	f := NewFactory(testEnv())
	c := provisioned(t, f, types.ReliabilityBronze, 5)

	s, err := f.TryCreateUpgradeState(c, c.current.UserConfig, c.current.AdminConfig, c.current.NodeConfig)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestCertificateAndScaleTogetherNotAllowed(t *testing.T) {
	f := NewFactory(testEnv())
	c := provisioned(t, f, types.ReliabilityBronze, 5)

	_, err := f.TryCreateUpgradeState(c, user(types.ReliabilitySilver, 5, "B"), c.current.AdminConfig, c.current.NodeConfig)
	require.Error(t, err)
	assert.True(t, fault.HasCode(err, fault.CertificateAndScaleUpgradeTogetherNotAllowed))
	assert.False(t, fault.IsInvariantViolation(err))

	grown := nodes(2, 6)
	_, err = f.TryCreateUpgradeState(c, user(types.ReliabilityBronze, 6, "B"), c.current.AdminConfig, grown)
	assert.True(t, fault.HasCode(err, fault.CertificateAndScaleUpgradeTogetherNotAllowed))
}

func TestScaleNotAllowedForOlderClusters(t *testing.T) {
	f := NewFactory(testEnv())
	c := provisioned(t, f, types.ReliabilityBronze, 5)
	c.perType = false

	_, err := f.TryCreateUpgradeState(c, c.current.UserConfig, c.current.AdminConfig, nodes(2, 6))
	assert.True(t, fault.HasCode(err, fault.ScaleUpAndScaleDownUpgradeNotAllowedForOlderClusters))
}

func TestSettingValidation(t *testing.T) {
	f := NewFactory(testEnv())
	c := provisioned(t, f, types.ReliabilityBronze, 5)

	tests := []struct {
		name   string
		mutate func(u *types.UserConfig)
		code   fault.ErrorCode
	}{
		{
			name:   "unknown reliability",
			mutate: func(u *types.UserConfig) { u.ReliabilityLevel = "Tin" },
			code:   fault.InvalidReliabilityLevel,
		},
		{
			name:   "inverted port range",
			mutate: func(u *types.UserConfig) { u.NodeTypes[0].ApplicationPorts = types.PortRange{StartPort: 30000, EndPort: 20000} },
			code:   fault.InvalidPortRange,
		},
		{
			name: "overlapping ports",
			mutate: func(u *types.UserConfig) {
				u.NodeTypes[0].ApplicationPorts = types.PortRange{StartPort: 20000, EndPort: 30000}
				u.NodeTypes[0].EphemeralPorts = types.PortRange{StartPort: 29000, EndPort: 40000}
			},
			code: fault.EphemeralAndApplicationPortsOverlap,
		},
		{
			name:   "primary node type renamed",
			mutate: func(u *types.UserConfig) { u.NodeTypes[0].IsPrimary, u.NodeTypes[1].IsPrimary = false, true },
			code:   fault.PrimaryNodeTypeModificationNotAllowed,
		},
		{
			name:   "endpoint port changed",
			mutate: func(u *types.UserConfig) { u.NodeTypes[1].HTTPGatewayEndpointPort = 19081 },
			code:   fault.NodeTypeEndpointChangeNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := user(types.ReliabilityBronze, 5, "A")
			u.Version = "2"
			tt.mutate(u)
			_, err := f.TryCreateUpgradeState(c, u, c.current.AdminConfig, c.current.NodeConfig)
			require.Error(t, err)
			assert.True(t, fault.HasCode(err, tt.code), err.Error())
		})
	}
}

func TestSimpleUpgrade(t *testing.T) {
	f := NewFactory(testEnv())
	c := provisioned(t, f, types.ReliabilityBronze, 5)

	u := user(types.ReliabilityBronze, 5, "A")
	u.CodeVersion = "7.1.0.1"
	s, err := f.TryCreateUpgradeState(c, u, c.current.AdminConfig, c.current.NodeConfig)
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, KindSimple, s.Kind)
	assert.Equal(t, ActorUser, s.Owner)
	assert.True(t, s.CanInterruptUpgrade())
	assert.False(t, s.IsNoOp())
	assert.Equal(t, "2", s.ExternalState.ManifestVersion())
	assert.Equal(t, c.current.ExternalState, s.PreviousExternalState)
}

func TestSimpleUpgradeWithoutManifestChangeIsNoOp(t *testing.T) {
	f := NewFactory(testEnv())
	c := provisioned(t, f, types.ReliabilityBronze, 5)

	admin := &types.AdminConfig{Version: "2", AutoUpgradeEnabled: true}
	s, err := f.TryCreateUpgradeState(c, c.current.UserConfig, admin, c.current.NodeConfig)
	require.NoError(t, err)
	require.NotNil(t, s)

	assert.Equal(t, ActorAdmin, s.Owner)
	assert.True(t, s.IsNoOp())
	assert.Equal(t, c.current.ExternalState, s.ExternalState)
	assert.Equal(t, admin, s.TargetClusterState().AdminConfig)
}

func TestSimpleFailureIsTerminal(t *testing.T) {
	env := testEnv()
	f := NewFactory(env)
	c := provisioned(t, f, types.ReliabilityBronze, 5)

	u := user(types.ReliabilityBronze, 5, "A")
	u.CodeVersion = "7.1.0.1"
	s, err := f.TryCreateUpgradeState(c, u, c.current.AdminConfig, c.current.NodeConfig)
	require.NoError(t, err)

	got, err := s.ClusterUpgradeRolledBackOrFailed(c, env, env.Clock.Now(), "health check failed")
	require.NoError(t, err)
	assert.Same(t, c.current, got)
	assert.Equal(t, []Actor{ActorUser}, c.failed)
}

func TestCertificateUpgradeWalksPhases(t *testing.T) {
	env := testEnv()
	f := NewFactory(env)
	c := provisioned(t, f, types.ReliabilityBronze, 5)

	u := user(types.ReliabilityBronze, 5, "B")
	s, err := f.TryCreateUpgradeState(c, u, c.current.AdminConfig, c.current.NodeConfig)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, KindCertificate, s.Kind)
	require.NotNil(t, s.Multiphase)
	require.Len(t, s.Multiphase.ManifestList, 3)
	assert.True(t, s.CanInterruptUpgrade())

	for i := 1; i < 3; i++ {
		got, err := s.ClusterUpgradeCompleted(c, env)
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, i, s.Multiphase.CurrentListIndex)
		assert.Equal(t, s.Multiphase.ManifestList[i].Version, s.ExternalState.ManifestVersion())
		assert.False(t, s.CanInterruptUpgrade())
	}

	got, err := s.ClusterUpgradeCompleted(c, env)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, u, got.UserConfig)
	assert.Equal(t, []string{"B"}, got.ExternalState.ClusterManifest.Certificates.ThumbprintWhiteList)
}

func TestTransitionsLogUpgradeFields(t *testing.T) {
	var buf bytes.Buffer
	env := testEnv()
	env.Logger = zerolog.New(&buf)
	f := NewFactory(env)
	c := provisioned(t, f, types.ReliabilityBronze, 5)

	s, err := f.TryCreateUpgradeState(c, user(types.ReliabilityBronze, 5, "B"), c.current.AdminConfig, c.current.NodeConfig)
	require.NoError(t, err)
	require.Equal(t, KindCertificate, s.Kind)
	s.ClusterUpgradeStarted(env)
	_, err = s.ClusterUpgradeCompleted(c, env)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = s.ClusterUpgradeRolledBackOrFailed(c, env, env.Clock.Now(), "rolled back")
		require.NoError(t, err)
	}

	out := buf.String()
	for _, msg := range []string{
		"Upgrade started",
		"Upgrade completed",
		"Upgrade phase completed",
		"Upgrade rolled back or failed",
		"Upgrade phase rolled back",
		"Upgrade abandoned, target marked failed",
	} {
		assert.Contains(t, out, msg)
	}
	assert.Contains(t, out, `"cluster_id":"c1"`)
	assert.Contains(t, out, `"upgrade_kind":"certificate"`)
	assert.Contains(t, out, `"upgrade_kind":"baseline"`)
}

func TestCertificateRollbackWalksBack(t *testing.T) {
	env := testEnv()
	f := NewFactory(env)
	c := provisioned(t, f, types.ReliabilityBronze, 5)

	s, err := f.TryCreateUpgradeState(c, user(types.ReliabilityBronze, 5, "B"), c.current.AdminConfig, c.current.NodeConfig)
	require.NoError(t, err)
	_, err = s.ClusterUpgradeCompleted(c, env)
	require.NoError(t, err)
	_, err = s.ClusterUpgradeCompleted(c, env)
	require.NoError(t, err)
	require.Equal(t, 2, s.Multiphase.CurrentListIndex)

	for want := 1; want >= 0; want-- {
		got, err := s.ClusterUpgradeRolledBackOrFailed(c, env, env.Clock.Now(), "rolled back")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, want, s.Multiphase.CurrentListIndex)
		assert.True(t, s.Multiphase.UpgradeUnsuccessful)
	}
	assert.False(t, s.CanInterruptUpgrade())

	got, err := s.ClusterUpgradeRolledBackOrFailed(c, env, env.Clock.Now(), "rolled back")
	require.NoError(t, err)
	assert.Same(t, c.current, got)
	assert.Equal(t, []Actor{ActorUser}, c.failed)
}

func TestCompletingRollbackPhasesEndsOnCurrent(t *testing.T) {
	env := testEnv()
	f := NewFactory(env)
	c := provisioned(t, f, types.ReliabilityBronze, 5)

	s, err := f.TryCreateUpgradeState(c, user(types.ReliabilityBronze, 5, "B"), c.current.AdminConfig, c.current.NodeConfig)
	require.NoError(t, err)
	_, err = s.ClusterUpgradeCompleted(c, env)
	require.NoError(t, err)

	got, err := s.ClusterUpgradeRolledBackOrFailed(c, env, env.Clock.Now(), "rolled back")
	require.NoError(t, err)
	assert.Nil(t, got)

	// The orchestrator converged on the phase the rollback pointed at.
	got, err = s.ClusterUpgradeCompleted(c, env)
	require.NoError(t, err)
	assert.Same(t, c.current, got)
}

func TestAutoScaleUp(t *testing.T) {
	env := testEnv()
	f := NewFactory(env)
	c := provisioned(t, f, types.ReliabilityBronze, 5)

	s, err := f.TryCreateUpgradeState(c, user(types.ReliabilitySilver, 5, "A"), c.current.AdminConfig, c.current.NodeConfig)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Equal(t, KindAutoScale, s.Kind)
	assert.Equal(t, types.ReliabilityBronze, s.AutoScale.FromLevel)
	assert.Equal(t, types.ReliabilitySilver, s.AutoScale.ToLevel)

	list := s.Multiphase.ManifestList
	require.Len(t, list, 3)
	assert.Len(t, list[0].SeedNodes, 4)
	assert.Len(t, list[1].SeedNodes, 5)
	size, ok := manifest.ReplicaSetSizeFromSettings(list[2].Settings)
	require.True(t, ok)
	assert.Equal(t, types.ReliabilitySilver.GetReplicaSetSize(), size)

	observed := map[string]types.ReplicaSetSize{}
	for _, svc := range SystemServices {
		observed[svc] = types.ReliabilityBronze.GetReplicaSetSize()
	}
	assert.False(t, s.VerifyTargetSystemServicesReplicaSetSize(observed))
	for _, svc := range SystemServices {
		observed[svc] = types.ReliabilitySilver.GetReplicaSetSize()
	}
	assert.True(t, s.VerifyTargetSystemServicesReplicaSetSize(observed))
}

func TestAutoScaleUpWithoutNodesFallsBackToSimple(t *testing.T) {
	f := NewFactory(testEnv())
	c := provisioned(t, f, types.ReliabilityBronze, 3)

	u := user(types.ReliabilitySilver, 3, "A")
	u.CodeVersion = "7.1.0.1"
	s, err := f.TryCreateUpgradeState(c, u, c.current.AdminConfig, c.current.NodeConfig)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, KindSimple, s.Kind)
	assert.Equal(t, types.ReliabilityBronze, s.TargetUserConfig.ReliabilityLevel)
	assert.Equal(t, "7.1.0.1", s.TargetUserConfig.CodeVersion)

	s, err = f.TryCreateUpgradeState(c, user(types.ReliabilitySilver, 3, "A"), c.current.AdminConfig, c.current.NodeConfig)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestScaleUpWithoutSeedCandidatesFallsBackToSimple(t *testing.T) {
	f := NewFactory(testEnv())
	c := provisioned(t, f, types.ReliabilityBronze, 3)

	// One seed node is paused and a node of another type joins: the seed
	// node set cannot be repaired with the remaining primary nodes.
	grown := nodes(2, 3)
	grown.NodesStatus[0].NodeState = types.NodeStateDisabling
	grown.NodesStatus[0].NodeDeactivationIntent = types.DeactivationIntentPause
	grown.NodesStatus = append(grown.NodesStatus, nodeStatus("nt2vm", 0, types.NodeStateEnabling))

	s, err := f.TryCreateUpgradeState(c, c.current.UserConfig, c.current.AdminConfig, grown)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, KindSimple, s.Kind)
	assert.Equal(t, ActorNodes, s.Owner)
	assert.Len(t, s.ExternalState.ClusterManifest.Nodes, 4)

	got, err := s.ClusterUpgradeCompleted(c, f.Env)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.NodeStateEnabled, c.statuses["_nt2vm_0"].NodeState)
}

func TestScaleUpAndDown(t *testing.T) {
	env := testEnv()
	f := NewFactory(env)
	c := provisioned(t, f, types.ReliabilityBronze, 5)

	grown := nodes(2, 5)
	grown.NodesStatus = append(grown.NodesStatus, nodeStatus("nt1vm", 5, types.NodeStateEnabling))
	s, err := f.TryCreateUpgradeState(c, c.current.UserConfig, c.current.AdminConfig, grown)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, KindScaleUp, s.Kind)
	assert.Equal(t, []string{"_nt1vm_5"}, s.Scale.Nodes)
	require.Len(t, s.Multiphase.ManifestList, 1)
	assert.Len(t, s.ExternalState.ClusterManifest.Nodes, 6)

	// Scale upgrades retry instead of giving up.
	got, err := s.ClusterUpgradeRolledBackOrFailed(c, env, env.Clock.Now(), "timeout")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, c.failed)

	got, err = s.ClusterUpgradeCompleted(c, env)
	require.NoError(t, err)
	require.NotNil(t, got)
	c.current = got
	c.lastVersion = s.ManifestVersion

	shrunk := &types.NodeConfig{Version: 3, NodesStatus: append([]types.NodeStatus(nil), got.NodeConfig.NodesStatus...)}
	var leaving string
	for i, st := range shrunk.NodesStatus {
		if !got.ExternalState.ClusterManifest.IsSeedNode(st.NodeName) {
			continue
		}
		shrunk.NodesStatus[i].NodeState = types.NodeStateDisabling
		shrunk.NodesStatus[i].NodeDeactivationIntent = types.DeactivationIntentRemoveNode
		leaving = st.NodeName
		break
	}

	s, err = f.TryCreateUpgradeState(c, c.current.UserConfig, c.current.AdminConfig, shrunk)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, KindScaleDown, s.Kind)
	assert.Equal(t, []string{leaving}, s.Scale.Nodes)

	list := s.Multiphase.ManifestList
	require.Len(t, list, 3)
	assert.Contains(t, list[0].SeedNodes, leaving)
	assert.Len(t, list[0].SeedNodes, 4)
	assert.NotContains(t, list[1].SeedNodes, leaving)
	assert.Len(t, list[2].Nodes, 5)

	for i := 0; i < 2; i++ {
		got, err = s.ClusterUpgradeCompleted(c, env)
		require.NoError(t, err)
		assert.Nil(t, got)
	}
	got, err = s.ClusterUpgradeCompleted(c, env)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, types.NodeStateRemoved, c.statuses[leaving].NodeState)
}

func TestManifestVersionsIncrease(t *testing.T) {
	f := NewFactory(testEnv())
	c := provisioned(t, f, types.ReliabilityBronze, 5)

	s, err := f.TryCreateUpgradeState(c, user(types.ReliabilitySilver, 5, "A"), c.current.AdminConfig, c.current.NodeConfig)
	require.NoError(t, err)

	prev := c.lastVersion
	for _, m := range s.Multiphase.ManifestList {
		v, err := strconv.ParseInt(m.Version, 10, 64)
		require.NoError(t, err)
		assert.Greater(t, v, prev)
		prev = v
	}
	assert.Equal(t, prev, s.ManifestVersion)
}

func TestGatekeeping(t *testing.T) {
	env := testEnv()
	f := NewFactory(env)
	c := provisioned(t, f, types.ReliabilityBronze, 5)

	observed := &types.ExternalState{ClusterManifest: &types.ClusterManifest{Version: "0"}, MsiVersion: "6.0"}
	s, err := f.TryCreateGatekeeping(c, observed)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, KindGatekeeping, s.Kind)
	assert.False(t, s.CanInterruptUpgrade())
	assert.Equal(t, c.current.ExternalState, s.ExternalState)
	assert.Equal(t, observed, s.PreviousExternalState)

	got, err := s.ClusterUpgradeRolledBackOrFailed(c, env, env.Clock.Now(), "drift")
	require.NoError(t, err)
	assert.Nil(t, got)

	_, err = f.TryCreateGatekeeping(newFakeCluster(), observed)
	assert.True(t, fault.IsInvariantViolation(err))
}

func TestPollCountWithoutUpgrade(t *testing.T) {
	s := &State{Kind: KindSimple}
	for i := 0; i < MaxPollCountWithoutUpgrade; i++ {
		s.RecordPoll(false)
	}
	assert.False(t, s.ShouldFailOnPollWithoutUpgrade())
	s.RecordPoll(false)
	assert.True(t, s.ShouldFailOnPollWithoutUpgrade())
	s.RecordPoll(true)
	assert.Equal(t, 0, s.PollCountWithoutUpgrade)
}

func TestReplicaSetSizeWithoutTarget(t *testing.T) {
	s := &State{Kind: KindSimple}
	assert.True(t, s.VerifyTargetSystemServicesReplicaSetSize(nil))
}

func TestMultiphaseInvariants(t *testing.T) {
	_, err := newMultiphase(nil)
	assert.True(t, fault.IsInvariantViolation(err))
	_, err = newMultiphase([]*types.ClusterManifest{{Version: "1"}, nil})
	assert.True(t, fault.IsInvariantViolation(err))

	s := &State{Kind: KindSeedNode, ClusterID: "c1"}
	_, err = s.ClusterUpgradeCompleted(newFakeCluster(), testEnv())
	assert.True(t, fault.IsInvariantViolation(err))
}
