package manifest

import (
	"sort"
	"sync"

	"github.com/cuemby/rollout/pkg/certflow"
	"github.com/cuemby/rollout/pkg/log"
	"github.com/cuemby/rollout/pkg/seednode"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// VersionGenerator issues monotonically increasing manifest versions
type VersionGenerator interface {
	GetNextClusterManifestVersion() string
}

// Builder produces the manifests a cluster converges to for one set of target
// configurations
type Builder interface {
	// GenerateClusterManifest creates the first manifest of a cluster. It
	// returns nil when the seed nodes cannot be chosen yet.
	GenerateClusterManifest() (*types.ClusterManifest, error)

	// UpdateClusterManifest refreshes nodes and settings of existing. A nil
	// step installs the target certificates directly.
	UpdateClusterManifest(existing *types.ClusterManifest, step *types.CertificateClusterUpgradeStep) (*types.ClusterManifest, error)

	// UpdateCertificateInClusterManifest returns one manifest per certificate
	// rotation step from current to the target certificates.
	UpdateCertificateInClusterManifest(existing *types.ClusterManifest, current types.CertificateInformation) ([]*types.ClusterManifest, error)

	// UpdateSeedNodesInClusterManifest returns one manifest per seed node added
	// or removed. It returns nil when there are not enough eligible nodes and an
	// empty list when the seed nodes are already right.
	UpdateSeedNodesInClusterManifest(existing *types.ClusterManifest) ([]*types.ClusterManifest, error)
}

// Activator creates builders
type Activator interface {
	CreateBuilder(clusterID string, user *types.UserConfig, admin *types.AdminConfig, nodes *types.NodeConfig, versions VersionGenerator) Builder
}

// StandardActivator creates StandardBuilders. It keeps one seed node selector
// per cluster so selections stay stable across calls.
type StandardActivator struct {
	mu        sync.Mutex
	selectors map[string]*seednode.Selector
	seedCfg   seednode.Config
	settings  SettingsActivator
}

// NewStandardActivator creates an activator with the default settings generator
func NewStandardActivator(seedCfg seednode.Config) *StandardActivator {
	return &StandardActivator{
		selectors: make(map[string]*seednode.Selector),
		seedCfg:   seedCfg,
		settings:  DefaultSettingsActivator{},
	}
}

// WithSettingsActivator replaces the settings activator
func (a *StandardActivator) WithSettingsActivator(s SettingsActivator) *StandardActivator {
	a.settings = s
	return a
}

// CreateBuilder implements Activator
func (a *StandardActivator) CreateBuilder(clusterID string, user *types.UserConfig, admin *types.AdminConfig, nodes *types.NodeConfig, versions VersionGenerator) Builder {
	return &StandardBuilder{
		clusterID: clusterID,
		user:      user,
		admin:     admin,
		nodes:     nodes,
		versions:  versions,
		selector:  a.selector(clusterID),
		settings:  a.settings.CreateSettingsGenerator(user, admin),
		logger:    log.WithClusterID(clusterID).With().Str("component", "manifest").Logger(),
	}
}

// Forget drops the seed node selector kept for a deleted cluster
func (a *StandardActivator) Forget(clusterID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.selectors, clusterID)
}

func (a *StandardActivator) selector(clusterID string) *seednode.Selector {
	a.mu.Lock()
	defer a.mu.Unlock()

	s, ok := a.selectors[clusterID]
	if !ok {
		s = seednode.NewSelector(a.seedCfg)
		a.selectors[clusterID] = s
	}
	return s
}

// StandardBuilder builds manifests from node statuses, the seed node selector
// and the certificate rotation planner
type StandardBuilder struct {
	clusterID string
	user      *types.UserConfig
	admin     *types.AdminConfig
	nodes     *types.NodeConfig
	versions  VersionGenerator
	selector  *seednode.Selector
	settings  SettingsGenerator
	logger    zerolog.Logger
}

// GenerateClusterManifest implements Builder
func (b *StandardBuilder) GenerateClusterManifest() (*types.ClusterManifest, error) {
	if b.user == nil {
		return nil, errors.NotValidf("cluster %s without user configuration", b.clusterID)
	}
	seeds := b.selector.Select(
		b.user.ReliabilityLevel,
		b.user.TotalPrimaryNodeCount(),
		b.seedCandidates(),
		b.user.FaultDomainCount,
		b.user.UpgradeDomainCount,
		b.user.IsVMSS,
	)
	if seeds == nil {
		b.logger.Info().Msg("Seed nodes not available yet, manifest not generated")
		return nil, nil
	}

	settings, err := b.settings.GenerateSettings()
	if err != nil {
		return nil, errors.Annotate(err, "generating settings")
	}

	m := &types.ClusterManifest{
		Name:         b.clusterID,
		Version:      b.versions.GetNextClusterManifestVersion(),
		Nodes:        b.activeNodes(),
		Certificates: targetCertificates(b.user.Certificates()),
		Settings:     settings,
	}
	for _, n := range seeds {
		m.SeedNodes = append(m.SeedNodes, n.NodeName)
	}
	sort.Strings(m.SeedNodes)
	return m, nil
}

// UpdateClusterManifest implements Builder
func (b *StandardBuilder) UpdateClusterManifest(existing *types.ClusterManifest, step *types.CertificateClusterUpgradeStep) (*types.ClusterManifest, error) {
	if existing == nil {
		return nil, errors.NotValidf("nil manifest")
	}
	settings, err := b.settings.GenerateSettings()
	if err != nil {
		return nil, errors.Annotate(err, "generating settings")
	}

	m := existing.Clone()
	m.Version = b.versions.GetNextClusterManifestVersion()
	m.Nodes = b.activeNodes()
	m.Settings = settings
	if step != nil {
		s := step.Clone()
		m.Certificates = &s
	} else {
		m.Certificates = targetCertificates(b.user.Certificates())
	}
	return m, nil
}

// UpdateCertificateInClusterManifest implements Builder
func (b *StandardBuilder) UpdateCertificateInClusterManifest(existing *types.ClusterManifest, current types.CertificateInformation) ([]*types.ClusterManifest, error) {
	steps, err := certflow.GetUpgradeFlow(current, b.user.Certificates())
	if err != nil {
		return nil, errors.Trace(err)
	}

	out := make([]*types.ClusterManifest, 0, len(steps))
	prev := existing
	for i := range steps {
		m, err := b.UpdateClusterManifest(prev, &steps[i])
		if err != nil {
			return nil, errors.Trace(err)
		}
		out = append(out, m)
		prev = m
	}
	b.logger.Info().Int("steps", len(out)).Msg("Planned certificate rotation")
	return out, nil
}

// UpdateSeedNodesInClusterManifest implements Builder
func (b *StandardBuilder) UpdateSeedNodesInClusterManifest(existing *types.ClusterManifest) ([]*types.ClusterManifest, error) {
	if existing == nil {
		return nil, errors.NotValidf("nil manifest")
	}
	added, removed, ok := b.selector.TryUpdate(b.user.ReliabilityLevel, existing.SeedNodes, b.seedCandidates())
	if !ok {
		return nil, nil
	}

	out := []*types.ClusterManifest{}
	prev := existing
	seeds := append([]string(nil), existing.SeedNodes...)
	// Grow the voter set before shrinking it so quorum never drops.
	for _, name := range added {
		seeds = append(seeds, name)
		prev = b.withSeeds(prev, seeds)
		out = append(out, prev)
	}
	for _, name := range removed {
		seeds = without(seeds, name)
		prev = b.withSeeds(prev, seeds)
		out = append(out, prev)
	}
	if len(out) > 0 {
		b.logger.Info().
			Strs("added", added).
			Strs("removed", removed).
			Msg("Planned seed node changes")
	}
	return out, nil
}

// withSeeds keeps the nodes of prev so a leaving seed node stays listed until
// the manifest that drops it
func (b *StandardBuilder) withSeeds(prev *types.ClusterManifest, seeds []string) *types.ClusterManifest {
	m := prev.Clone()
	m.Version = b.versions.GetNextClusterManifestVersion()
	m.SeedNodes = append([]string(nil), seeds...)
	sort.Strings(m.SeedNodes)
	return m
}

// activeNodes lists the nodes that belong in the manifest, sorted by name
func (b *StandardBuilder) activeNodes() []types.NodeDescription {
	var out []types.NodeDescription
	if b.nodes == nil {
		return out
	}
	for _, s := range b.nodes.NodesStatus {
		if s.IsActive() {
			out = append(out, s.NodeDescription)
		}
	}
	types.SortNodeDescriptions(out)
	return out
}

// seedCandidates lists the eligible nodes of the primary node type
func (b *StandardBuilder) seedCandidates() []types.NodeDescription {
	primary := b.user.PrimaryNodeType()
	if primary == nil || b.nodes == nil {
		return nil
	}
	var out []types.NodeDescription
	for _, s := range b.nodes.NodesStatus {
		if s.NodeTypeRef == primary.Name && s.IsEligibleSeed() {
			out = append(out, s.NodeDescription)
		}
	}
	return out
}

// targetCertificates is the steady state certificate step for info, or nil
// for an unsecured cluster
func targetCertificates(info types.CertificateInformation) *types.CertificateClusterUpgradeStep {
	if len(info.ClusterCertificate.Thumbprints()) == 0 && info.ClusterCertificateCommonNames.Len() == 0 {
		return nil
	}
	_, step := certflow.TryGetStepThree(info, info, nil)
	return step
}

func without(names []string, name string) []string {
	out := names[:0:0]
	for _, n := range names {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
