package storage

import (
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"strconv"

	"github.com/cuemby/rollout/pkg/cluster"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketClusters  = []byte("clusters")
	bucketManifests = []byte("manifests")
)

// BoltStore implements Store interface using BoltDB. Manifests live in one
// nested bucket per cluster keyed by their numeric version.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed store
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "rollout.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, errors.Annotate(err, "opening database")
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketClusters, bucketManifests} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return errors.Annotatef(err, "creating bucket %s", bucket)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// CreateCluster stores a new cluster resource
func (s *BoltStore) CreateCluster(r *cluster.Resource) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		if b.Get([]byte(r.ID)) != nil {
			return errors.AlreadyExistsf("cluster %s", r.ID)
		}
		return putJSON(b, []byte(r.ID), r)
	})
}

func (s *BoltStore) GetCluster(id string) (*cluster.Resource, error) {
	var r cluster.Resource
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketClusters).Get([]byte(id))
		if data == nil {
			return errors.NotFoundf("cluster %s", id)
		}
		return json.Unmarshal(data, &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *BoltStore) ListClusters() ([]*cluster.Resource, error) {
	var out []*cluster.Resource
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketClusters).ForEach(func(k, v []byte) error {
			var r cluster.Resource
			if err := json.Unmarshal(v, &r); err != nil {
				return errors.Annotatef(err, "decoding cluster %s", k)
			}
			out = append(out, &r)
			return nil
		})
	})
	return out, err
}

// ReplaceCluster implements Store
func (s *BoltStore) ReplaceCluster(r *cluster.Resource) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketClusters)
		data := b.Get([]byte(r.ID))
		if data == nil {
			return errors.NotFoundf("cluster %s", r.ID)
		}
		var stored struct {
			Version uint64 `json:"version"`
		}
		if err := json.Unmarshal(data, &stored); err != nil {
			return errors.Annotatef(err, "decoding cluster %s", r.ID)
		}
		if stored.Version != r.Version {
			return errors.Annotatef(ErrVersionConflict, "cluster %s at version %d, replacing %d", r.ID, stored.Version, r.Version)
		}
		r.Version++
		if err := putJSON(b, []byte(r.ID), r); err != nil {
			r.Version--
			return err
		}
		return nil
	})
}

// PutCluster implements Store
func (s *BoltStore) PutCluster(r *cluster.Resource) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketClusters), []byte(r.ID), r)
	})
}

// DeleteCluster removes the cluster and its manifest history
func (s *BoltStore) DeleteCluster(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketClusters).Delete([]byte(id)); err != nil {
			return err
		}
		manifests := tx.Bucket(bucketManifests)
		if manifests.Bucket([]byte(id)) == nil {
			return nil
		}
		return manifests.DeleteBucket([]byte(id))
	})
}

// PutManifest records a manifest in the history of a cluster
func (s *BoltStore) PutManifest(clusterID string, m *types.ClusterManifest) error {
	key, err := manifestKey(m.Version)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketManifests).CreateBucketIfNotExists([]byte(clusterID))
		if err != nil {
			return errors.Annotatef(err, "creating manifest bucket of cluster %s", clusterID)
		}
		return putJSON(b, key, m)
	})
}

func (s *BoltStore) GetManifest(clusterID, version string) (*types.ClusterManifest, error) {
	key, err := manifestKey(version)
	if err != nil {
		return nil, err
	}
	var m types.ClusterManifest
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketManifests).Bucket([]byte(clusterID))
		if b == nil {
			return errors.NotFoundf("manifest %s of cluster %s", version, clusterID)
		}
		data := b.Get(key)
		if data == nil {
			return errors.NotFoundf("manifest %s of cluster %s", version, clusterID)
		}
		return json.Unmarshal(data, &m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListManifests returns the manifest history of a cluster, oldest first
func (s *BoltStore) ListManifests(clusterID string) ([]*types.ClusterManifest, error) {
	var out []*types.ClusterManifest
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketManifests).Bucket([]byte(clusterID))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var m types.ClusterManifest
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, &m)
			return nil
		})
	})
	return out, err
}

func putJSON(b *bolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Trace(err)
	}
	return b.Put(key, data)
}

// manifestKey encodes a numeric manifest version so keys sort by version
func manifestKey(version string) ([]byte, error) {
	n, err := strconv.ParseUint(version, 10, 64)
	if err != nil {
		return nil, errors.NotValidf("manifest version %q", version)
	}
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, n)
	return key, nil
}
