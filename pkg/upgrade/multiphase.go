package upgrade

import (
	"github.com/cuemby/rollout/pkg/fault"
	"github.com/cuemby/rollout/pkg/types"
)

// newMultiphase wraps a non-empty manifest list positioned on its first phase
func newMultiphase(list []*types.ClusterManifest) (*Multiphase, error) {
	if len(list) == 0 {
		return nil, fault.Invariantf("multiphase upgrade without manifests")
	}
	for i, m := range list {
		if m == nil {
			return nil, fault.Invariantf("multiphase upgrade with nil manifest at phase %d", i)
		}
	}
	return &Multiphase{ManifestList: list}, nil
}

// Current returns the manifest of the current phase
func (m *Multiphase) Current() *types.ClusterManifest {
	return m.ManifestList[m.CurrentListIndex]
}

// IsLastPhase reports whether the forward walk reached the final manifest
func (m *Multiphase) IsLastPhase() bool {
	return m.CurrentListIndex == len(m.ManifestList)-1
}

// completed moves one phase in the walk direction. It returns true once the
// walk is over: past the last phase going forward, or past the first going back.
func (m *Multiphase) completed() bool {
	if m.UpgradeUnsuccessful {
		return m.stepBack()
	}
	if m.CurrentListIndex < len(m.ManifestList)-1 {
		m.CurrentListIndex++
		return false
	}
	return true
}

// rolledBack turns the walk around and moves one phase back
func (m *Multiphase) rolledBack() bool {
	m.UpgradeUnsuccessful = true
	return m.stepBack()
}

func (m *Multiphase) stepBack() bool {
	if m.CurrentListIndex > 0 {
		m.CurrentListIndex--
		return false
	}
	return true
}
