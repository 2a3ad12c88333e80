package cluster

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/cuemby/rollout/pkg/types"
	"github.com/cuemby/rollout/pkg/upgrade"
	"github.com/juju/errors"
)

// Phase is the coarse lifecycle position of a cluster resource
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseSteady        Phase = "steady"
	PhaseUpgrading     Phase = "upgrading"
)

// Resource is the persisted aggregate of one cluster: the state it converged
// to, the upgrade in flight and the staged targets the next upgrades move to.
type Resource struct {
	ID        string    `json:"id"`
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Current *types.ClusterState `json:"current,omitempty"`
	Pending *upgrade.State      `json:"pending,omitempty"`

	TargetUserConfig  *types.UserConfig  `json:"targetUserConfig,omitempty"`
	TargetAdminConfig *types.AdminConfig `json:"targetAdminConfig,omitempty"`
	TargetNodeConfig  *types.NodeConfig  `json:"targetNodeConfig,omitempty"`

	// Failed targets are not retried until they are replaced.
	TargetUserConfigFailed  bool `json:"targetUserConfigFailed"`
	TargetAdminConfigFailed bool `json:"targetAdminConfigFailed"`
	TargetNodeConfigFailed  bool `json:"targetNodeConfigFailed"`

	// NodeStatusPerType is false for clusters created before node statuses
	// were tracked per node type. Such clusters cannot be scaled.
	NodeStatusPerType  bool                          `json:"nodeStatusPerType"`
	NodeStatusesByType map[string][]types.NodeStatus `json:"nodeStatusesByType,omitempty"`
	NodeConfigVersion  int64                         `json:"nodeConfigVersion"`

	ManifestVersion int64     `json:"manifestVersion"`
	LastPollAt      time.Time `json:"lastPollAt,omitempty"`
}

// NewResource creates an uninitialized cluster resource with staged targets
func NewResource(id string, user *types.UserConfig, admin *types.AdminConfig, now time.Time) *Resource {
	return &Resource{
		ID:                 id,
		CreatedAt:          now,
		UpdatedAt:          now,
		TargetUserConfig:   user,
		TargetAdminConfig:  admin,
		NodeStatusPerType:  true,
		NodeStatusesByType: make(map[string][]types.NodeStatus),
	}
}

// Clone returns a deep copy through the persisted representation
func (r *Resource) Clone() (*Resource, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Annotatef(err, "encoding cluster %s", r.ID)
	}
	var out Resource
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.Annotatef(err, "decoding cluster %s", r.ID)
	}
	return &out, nil
}

// Phase derives the lifecycle position from Current and Pending
func (r *Resource) Phase() Phase {
	switch {
	case r.Pending != nil:
		return PhaseUpgrading
	case r.Current == nil:
		return PhaseUninitialized
	default:
		return PhaseSteady
	}
}

// ClusterID implements upgrade.Cluster
func (r *Resource) ClusterID() string {
	return r.ID
}

// CurrentState implements upgrade.Cluster
func (r *Resource) CurrentState() *types.ClusterState {
	return r.Current
}

// TracksNodeStatusPerType implements upgrade.Cluster
func (r *Resource) TracksNodeStatusPerType() bool {
	return r.NodeStatusPerType
}

// LastManifestVersion implements upgrade.Cluster
func (r *Resource) LastManifestVersion() int64 {
	return r.ManifestVersion
}

// MarkTargetFailed implements upgrade.Cluster
func (r *Resource) MarkTargetFailed(actor upgrade.Actor) {
	switch actor {
	case upgrade.ActorUser:
		r.TargetUserConfigFailed = true
	case upgrade.ActorAdmin:
		r.TargetAdminConfigFailed = true
	case upgrade.ActorNodes:
		r.TargetNodeConfigFailed = true
	}
}

// NodeStatuses implements upgrade.Cluster. Statuses are sorted by node name.
func (r *Resource) NodeStatuses() []types.NodeStatus {
	var out []types.NodeStatus
	for _, list := range r.NodeStatusesByType {
		out = append(out, list...)
	}
	types.SortNodeStatuses(out)
	return out
}

// SetNodeStatus implements upgrade.Cluster. It settles a node still in the
// transition an upgrade finished; newer reports win.
func (r *Resource) SetNodeStatus(status types.NodeStatus) {
	list := r.NodeStatusesByType[status.NodeTypeRef]
	for i, existing := range list {
		if existing.NodeName != status.NodeName {
			continue
		}
		if existing.InstanceID != status.InstanceID || !transitional(existing.NodeState) {
			return
		}
		list[i].NodeState = status.NodeState
	}
	if r.TargetNodeConfig == nil {
		return
	}
	for i, existing := range r.TargetNodeConfig.NodesStatus {
		if existing.NodeName == status.NodeName && existing.InstanceID == status.InstanceID && transitional(existing.NodeState) {
			r.TargetNodeConfig.NodesStatus[i].NodeState = status.NodeState
		}
	}
}

// mergeNodeStatuses applies reported statuses to the per type lists. Reports
// with a lower instance id than the known status are stale and dropped. It
// returns whether anything changed.
func (r *Resource) mergeNodeStatuses(updates []types.NodeStatus) bool {
	if r.NodeStatusesByType == nil {
		r.NodeStatusesByType = make(map[string][]types.NodeStatus)
	}
	changed := false
	for _, u := range updates {
		list := r.NodeStatusesByType[u.NodeTypeRef]
		found := false
		for i, existing := range list {
			if existing.NodeName != u.NodeName {
				continue
			}
			found = true
			if u.InstanceID < existing.InstanceID || existing == u {
				break
			}
			list[i] = u
			changed = true
			break
		}
		if !found {
			list = append(list, u)
			changed = true
		}
		sort.Slice(list, func(i, j int) bool { return list[i].NodeName < list[j].NodeName })
		r.NodeStatusesByType[u.NodeTypeRef] = list
	}
	return changed
}

// nodeConfig is the node configuration built from the known statuses
func (r *Resource) nodeConfig() *types.NodeConfig {
	return &types.NodeConfig{Version: r.NodeConfigVersion, NodesStatus: r.NodeStatuses()}
}

// nextTargets returns the staged targets that have not failed, falling back to
// the current configuration per axis
func (r *Resource) nextTargets() (*types.UserConfig, *types.AdminConfig, *types.NodeConfig) {
	var (
		user  *types.UserConfig
		admin *types.AdminConfig
		node  *types.NodeConfig
	)
	if r.Current != nil {
		user, admin, node = r.Current.UserConfig, r.Current.AdminConfig, r.Current.NodeConfig
	}
	if r.TargetUserConfig != nil && !r.TargetUserConfigFailed {
		user = r.TargetUserConfig
	}
	if r.TargetAdminConfig != nil && !r.TargetAdminConfigFailed {
		admin = r.TargetAdminConfig
	}
	if r.TargetNodeConfig != nil && !r.TargetNodeConfigFailed {
		node = r.TargetNodeConfig
	}
	return user, admin, node
}

func (r *Resource) trackManifestVersion(s *upgrade.State) {
	if s != nil && s.ManifestVersion > r.ManifestVersion {
		r.ManifestVersion = s.ManifestVersion
	}
}

func transitional(s types.NodeState) bool {
	return s == types.NodeStateEnabling || s == types.NodeStateDisabling
}
