package manager

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/cuemby/rollout/pkg/cluster"
	"github.com/cuemby/rollout/pkg/storage"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	bytes.Buffer
	closed, cancelled bool
}

func (s *memorySink) ID() string    { return "test" }
func (s *memorySink) Close() error  { s.closed = true; return nil }
func (s *memorySink) Cancel() error { s.cancelled = true; return nil }

func newTestFSM(t *testing.T) *RolloutFSM {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewRolloutFSM(store)
}

func applyCommand(t *testing.T, f *RolloutFSM, op string, data interface{}) interface{} {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	entry, err := json.Marshal(Command{Op: op, Data: raw})
	require.NoError(t, err)
	return f.Apply(&raft.Log{Data: entry})
}

func resource(id string) *cluster.Resource {
	return cluster.NewResource(id, &types.UserConfig{Version: "1", ReliabilityLevel: types.ReliabilityBronze}, nil,
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
}

func TestFSMApply(t *testing.T) {
	f := newTestFSM(t)

	assert.Nil(t, applyCommand(t, f, OpCreateCluster, resource("c1")))
	resp := applyCommand(t, f, OpCreateCluster, resource("c1"))
	err, ok := resp.(error)
	require.True(t, ok)
	assert.True(t, errors.Is(err, errors.AlreadyExists))

	r, err := f.store.GetCluster("c1")
	require.NoError(t, err)
	r.NodeConfigVersion = 2
	assert.Nil(t, applyCommand(t, f, OpPutCluster, r))

	// r still carries the version it was read at
	resp = applyCommand(t, f, OpPutCluster, r)
	err, ok = resp.(error)
	require.True(t, ok)
	assert.True(t, errors.Is(err, storage.ErrVersionConflict))

	assert.Nil(t, applyCommand(t, f, OpPutManifest, &ManifestRecord{
		ClusterID: "c1",
		Manifest:  &types.ClusterManifest{Name: "c1", Version: "1"},
	}))
	assert.NotNil(t, applyCommand(t, f, OpPutManifest, &ManifestRecord{ClusterID: "c1"}))

	assert.Nil(t, applyCommand(t, f, OpDeleteCluster, "c1"))
	_, err = f.store.GetCluster("c1")
	assert.True(t, errors.Is(err, errors.NotFound))

	resp = applyCommand(t, f, "bogus", nil)
	err, ok = resp.(error)
	require.True(t, ok)
	assert.True(t, errors.Is(err, errors.NotSupported))
}

func TestFSMSnapshotRestore(t *testing.T) {
	f := newTestFSM(t)
	require.Nil(t, applyCommand(t, f, OpCreateCluster, resource("c1")))
	require.Nil(t, applyCommand(t, f, OpCreateCluster, resource("c2")))
	for _, v := range []string{"1", "2"} {
		require.Nil(t, applyCommand(t, f, OpPutManifest, &ManifestRecord{
			ClusterID: "c1",
			Manifest:  &types.ClusterManifest{Name: "c1", Version: v},
		}))
	}

	snap, err := f.Snapshot()
	require.NoError(t, err)
	sink := &memorySink{}
	require.NoError(t, snap.Persist(sink))
	assert.True(t, sink.closed)
	assert.False(t, sink.cancelled)
	snap.Release()

	restored := newTestFSM(t)
	require.NoError(t, restored.Restore(io.NopCloser(&sink.Buffer)))

	clusters, err := restored.store.ListClusters()
	require.NoError(t, err)
	assert.Len(t, clusters, 2)

	manifests, err := restored.store.ListManifests("c1")
	require.NoError(t, err)
	require.Len(t, manifests, 2)
	assert.Equal(t, "2", manifests[1].Version)
}
