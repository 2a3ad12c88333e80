/*
Package storage provides BoltDB-backed persistence for cluster resources and
their manifest history.

Every manager keeps its own copy of the store. The store is only written by
the Raft FSM, so all replicas hold the same data once they have applied the
same log index.

# Layout

The database lives at <dataDir>/rollout.db and holds two top level buckets:

	clusters                     cluster ID → cluster.Resource (JSON)
	manifests
	  └── <cluster ID>           manifest version (uint64, big endian) →
	                             types.ClusterManifest (JSON)

Manifest versions are numeric strings. They are stored as big endian keys so
a bucket cursor returns the history oldest first; a version that does not
parse as a number is rejected with a NotValid error.

# Optimistic Concurrency

Cluster resources carry a version. ReplaceCluster stores a resource only if
the stored version still equals the version the caller read, and bumps the
version on success:

	r, _ := store.GetCluster("prod-1")        // r.Version == 7
	next := machine.Run(r)                    // snapshot in, snapshot out
	err := store.ReplaceCluster(next)         // stored version 7 → 8

A replace that lost the race returns ErrVersionConflict. The caller rereads
the cluster and runs its operation again. PutCluster skips the check and is
used when a snapshot is restored.

# Errors

Lookups of unknown clusters or manifests return errors satisfying
errors.Is(err, errors.NotFound) from github.com/juju/errors. Creating a
cluster that exists returns an AlreadyExists error. Deleting a cluster also
deletes its manifest bucket.
*/
package storage
