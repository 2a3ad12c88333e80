package upgrade

import (
	"bytes"
	"encoding/json"

	"github.com/cuemby/rollout/pkg/fault"
	"github.com/cuemby/rollout/pkg/manifest"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/errors"
)

func (s *State) builder(env *Env) manifest.Builder {
	return env.Activator.CreateBuilder(s.ClusterID, s.TargetUserConfig, s.TargetAdminConfig, s.TargetNodeConfig, s)
}

func currentManifest(c Cluster) (*types.ClusterState, *types.ClusterManifest, error) {
	cur := c.CurrentState()
	if cur == nil || cur.ExternalState == nil || cur.ExternalState.ClusterManifest == nil {
		return nil, nil, fault.Invariantf("cluster %s has no current manifest", c.ClusterID())
	}
	return cur, cur.ExternalState.ClusterManifest, nil
}

func (s *State) startBaseline(env *Env) (bool, error) {
	m, err := s.builder(env).GenerateClusterManifest()
	if err != nil || m == nil {
		return false, errors.Trace(err)
	}
	s.ExternalState = s.externalState(m)
	return true, nil
}

// startSimple deploys settings and node list changes in a single manifest. An
// unchanged manifest on the same binary makes the upgrade a no-op.
func (s *State) startSimple(c Cluster, env *Env) (bool, error) {
	cur, existing, err := currentManifest(c)
	if err != nil {
		return false, err
	}
	m, err := s.builder(env).UpdateClusterManifest(existing, nil)
	if err != nil {
		return false, errors.Trace(err)
	}

	s.PreviousExternalState = cur.ExternalState
	next := s.externalState(m)
	if sameManifestContent(existing, m) && next.MsiVersion == cur.ExternalState.MsiVersion {
		s.ExternalState = cur.ExternalState
		s.noOp = true
		return true, nil
	}
	s.ExternalState = next
	return true, nil
}

// startGatekeeping redeploys the current manifest on a cluster that drifted
func (s *State) startGatekeeping(c Cluster) (bool, error) {
	cur, _, err := currentManifest(c)
	if err != nil {
		return false, err
	}
	s.ExternalState = cur.ExternalState
	return true, nil
}

func (s *State) startCertificate(c Cluster, env *Env) (bool, error) {
	cur, existing, err := currentManifest(c)
	if err != nil {
		return false, err
	}
	s.Certificate = &CertificatePayload{
		From: cur.UserConfig.Certificates(),
		To:   s.TargetUserConfig.Certificates(),
	}
	list, err := s.builder(env).UpdateCertificateInClusterManifest(existing, s.Certificate.From)
	if err != nil {
		return false, errors.Trace(err)
	}
	return s.startPhases(cur, list)
}

// startAutoScale moves the seed nodes and the system service replica set sizes
// to the new reliability level. Growing adds seeds before raising the sizes,
// shrinking lowers the sizes before removing seeds.
func (s *State) startAutoScale(c Cluster, env *Env) (bool, error) {
	cur, existing, err := currentManifest(c)
	if err != nil {
		return false, err
	}
	from, to := cur.UserConfig.ReliabilityLevel, s.TargetUserConfig.ReliabilityLevel
	s.AutoScale = &AutoScalePayload{FromLevel: from, ToLevel: to}
	s.TargetSystemServicesReplicaSetSize = make(map[string]types.ReplicaSetSize, len(SystemServices))
	for _, svc := range SystemServices {
		s.TargetSystemServicesReplicaSetSize[svc] = to.GetReplicaSetSize()
	}

	b := s.builder(env)
	var list []*types.ClusterManifest
	if to.Compare(from) > 0 {
		seeds, err := b.UpdateSeedNodesInClusterManifest(existing)
		if err != nil || seeds == nil {
			return false, errors.Trace(err)
		}
		final, err := b.UpdateClusterManifest(last(existing, seeds), nil)
		if err != nil {
			return false, errors.Trace(err)
		}
		list = append(seeds, final)
	} else {
		sized, err := b.UpdateClusterManifest(existing, nil)
		if err != nil {
			return false, errors.Trace(err)
		}
		seeds, err := b.UpdateSeedNodesInClusterManifest(sized)
		if err != nil || seeds == nil {
			return false, errors.Trace(err)
		}
		list = append([]*types.ClusterManifest{sized}, seeds...)
	}
	return s.startPhases(cur, list)
}

// startScaleUp adds the new nodes first, then places any seed nodes the
// level is short of
func (s *State) startScaleUp(c Cluster, env *Env) (bool, error) {
	cur, existing, err := currentManifest(c)
	if err != nil {
		return false, err
	}
	topo := AnalyzeTopology(cur, s.TargetUserConfig, s.TargetNodeConfig)
	s.Scale = &ScalePayload{Nodes: topo.Adding}

	b := s.builder(env)
	grown, err := b.UpdateClusterManifest(existing, nil)
	if err != nil {
		return false, errors.Trace(err)
	}
	seeds, err := b.UpdateSeedNodesInClusterManifest(grown)
	if err != nil || seeds == nil {
		return false, errors.Trace(err)
	}
	return s.startPhases(cur, append([]*types.ClusterManifest{grown}, seeds...))
}

// startScaleDown moves seed nodes off the leaving nodes before dropping them
func (s *State) startScaleDown(c Cluster, env *Env) (bool, error) {
	cur, existing, err := currentManifest(c)
	if err != nil {
		return false, err
	}
	topo := AnalyzeTopology(cur, s.TargetUserConfig, s.TargetNodeConfig)
	s.Scale = &ScalePayload{Nodes: topo.Removing}

	b := s.builder(env)
	seeds, err := b.UpdateSeedNodesInClusterManifest(existing)
	if err != nil || seeds == nil {
		return false, errors.Trace(err)
	}
	shrunk, err := b.UpdateClusterManifest(last(existing, seeds), nil)
	if err != nil {
		return false, errors.Trace(err)
	}
	return s.startPhases(cur, append(seeds, shrunk))
}

func (s *State) startSeedNode(c Cluster, env *Env) (bool, error) {
	cur, existing, err := currentManifest(c)
	if err != nil {
		return false, err
	}
	seeds, err := s.builder(env).UpdateSeedNodesInClusterManifest(existing)
	if err != nil || len(seeds) == 0 {
		return false, errors.Trace(err)
	}
	return s.startPhases(cur, seeds)
}

func (s *State) startPhases(cur *types.ClusterState, list []*types.ClusterManifest) (bool, error) {
	mp, err := newMultiphase(list)
	if err != nil {
		return false, err
	}
	s.Multiphase = mp
	s.PreviousExternalState = cur.ExternalState
	s.ExternalState = s.externalState(mp.Current())
	return true, nil
}

func last(existing *types.ClusterManifest, list []*types.ClusterManifest) *types.ClusterManifest {
	if len(list) == 0 {
		return existing
	}
	return list[len(list)-1]
}

// sameManifestContent compares two manifests ignoring their versions
func sameManifestContent(a, b *types.ClusterManifest) bool {
	if a == nil || b == nil {
		return a == b
	}
	ac, bc := a.Clone(), b.Clone()
	ac.Version, bc.Version = "", ""
	return sameJSON(ac, bc)
}

// sameJSON compares values by their JSON encoding
func sameJSON(a, b interface{}) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}
