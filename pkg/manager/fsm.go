package manager

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/cuemby/rollout/pkg/cluster"
	"github.com/cuemby/rollout/pkg/storage"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/juju/errors"
)

// Raft log operations
const (
	OpCreateCluster = "create_cluster"
	OpPutCluster    = "put_cluster"
	OpDeleteCluster = "delete_cluster"
	OpPutManifest   = "put_manifest"
)

// RolloutFSM implements the Raft Finite State Machine for the cluster resources.
// It applies log entries to the store and handles snapshots.
type RolloutFSM struct {
	mu    sync.RWMutex
	store storage.Store
}

// NewRolloutFSM creates a new FSM instance
func NewRolloutFSM(store storage.Store) *RolloutFSM {
	return &RolloutFSM{
		store: store,
	}
}

// Command represents a state change operation in the Raft log
type Command struct {
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`
}

// ManifestRecord is the payload of put_manifest
type ManifestRecord struct {
	ClusterID string                 `json:"clusterId"`
	Manifest  *types.ClusterManifest `json:"manifest"`
}

// Apply applies a Raft log entry to the FSM. put_cluster is a version checked
// replace, so a stale writer gets storage.ErrVersionConflict back on every
// replica.
func (f *RolloutFSM) Apply(log *raft.Log) interface{} {
	var cmd Command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return errors.Annotate(err, "decoding command")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case OpCreateCluster:
		var r cluster.Resource
		if err := json.Unmarshal(cmd.Data, &r); err != nil {
			return err
		}
		return f.store.CreateCluster(&r)

	case OpPutCluster:
		var r cluster.Resource
		if err := json.Unmarshal(cmd.Data, &r); err != nil {
			return err
		}
		return f.store.ReplaceCluster(&r)

	case OpDeleteCluster:
		var id string
		if err := json.Unmarshal(cmd.Data, &id); err != nil {
			return err
		}
		return f.store.DeleteCluster(id)

	case OpPutManifest:
		var rec ManifestRecord
		if err := json.Unmarshal(cmd.Data, &rec); err != nil {
			return err
		}
		if rec.Manifest == nil {
			return errors.NotValidf("empty manifest for cluster %s", rec.ClusterID)
		}
		return f.store.PutManifest(rec.ClusterID, rec.Manifest)

	default:
		return errors.NotSupportedf("command %q", cmd.Op)
	}
}

// Snapshot creates a point-in-time snapshot of the FSM
func (f *RolloutFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	clusters, err := f.store.ListClusters()
	if err != nil {
		return nil, errors.Annotate(err, "listing clusters")
	}

	snapshot := &RolloutSnapshot{
		Clusters:  clusters,
		Manifests: make(map[string][]*types.ClusterManifest, len(clusters)),
	}
	for _, r := range clusters {
		manifests, err := f.store.ListManifests(r.ID)
		if err != nil {
			return nil, errors.Annotatef(err, "listing manifests of cluster %s", r.ID)
		}
		snapshot.Manifests[r.ID] = manifests
	}
	return snapshot, nil
}

// Restore restores the FSM from a snapshot
func (f *RolloutFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snapshot RolloutSnapshot
	if err := json.NewDecoder(rc).Decode(&snapshot); err != nil {
		return errors.Annotate(err, "decoding snapshot")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, r := range snapshot.Clusters {
		if err := f.store.PutCluster(r); err != nil {
			return errors.Annotatef(err, "restoring cluster %s", r.ID)
		}
	}
	for id, manifests := range snapshot.Manifests {
		for _, m := range manifests {
			if err := f.store.PutManifest(id, m); err != nil {
				return errors.Annotatef(err, "restoring manifest %s of cluster %s", m.Version, id)
			}
		}
	}
	return nil
}

// RolloutSnapshot represents a point-in-time snapshot of every cluster resource
// and its manifest history
type RolloutSnapshot struct {
	Clusters  []*cluster.Resource
	Manifests map[string][]*types.ClusterManifest
}

// Persist writes the snapshot to the given SnapshotSink
func (s *RolloutSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s); err != nil {
			return err
		}
		return sink.Close()
	}()

	if err != nil {
		sink.Cancel()
	}

	return err
}

// Release releases the snapshot resources
func (s *RolloutSnapshot) Release() {}
