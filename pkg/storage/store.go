package storage

import (
	"github.com/cuemby/rollout/pkg/cluster"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/errors"
)

// ErrVersionConflict is returned when a cluster was replaced by someone else
// since it was read
const ErrVersionConflict = errors.ConstError("cluster version conflict")

// Store defines the interface for cluster resource storage
type Store interface {
	// Clusters
	CreateCluster(r *cluster.Resource) error
	GetCluster(id string) (*cluster.Resource, error)
	ListClusters() ([]*cluster.Resource, error)
	// ReplaceCluster stores r if the stored version still equals r.Version
	// and bumps r.Version.
	ReplaceCluster(r *cluster.Resource) error
	// PutCluster stores r unconditionally, e.g. when restoring a snapshot
	PutCluster(r *cluster.Resource) error
	DeleteCluster(id string) error

	// Manifest history
	PutManifest(clusterID string, m *types.ClusterManifest) error
	GetManifest(clusterID, version string) (*types.ClusterManifest, error)
	ListManifests(clusterID string) ([]*types.ClusterManifest, error)

	// Utility
	Close() error
}
