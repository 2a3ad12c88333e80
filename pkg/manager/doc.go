/*
Package manager implements a rollout control plane node with Raft consensus.

Managers replicate the cluster resources and their manifest history through
the Raft log. Every cluster operation is run by the cluster state machine on a
private snapshot; the leader then proposes the resulting snapshot as a
put_cluster command, which the FSM applies as a version checked replace on
every replica:

	API / reconciler
	      │
	      ▼
	Manager.Update ──► cluster.Machine (snapshot in, snapshot out)
	      │
	      ▼
	Raft log ──► RolloutFSM.Apply ──► storage.BoltStore

A replace that lost the race against a concurrent writer is answered with
storage.ErrVersionConflict; Update rereads the cluster and runs the operation
again.

# State Machine Commands

	create_cluster   store a new cluster resource
	put_cluster      version checked replace of a cluster resource
	delete_cluster   remove a cluster and its manifest history
	put_manifest     record a manifest in the history of a cluster

# Usage

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   "manager-1",
		BindAddr: "127.0.0.1:7946",
		DataDir:  "/var/lib/rollout",
	})
	if err != nil {
		return err
	}
	if err := mgr.Bootstrap(); err != nil {
		return err
	}
	defer mgr.Shutdown()

	r, err := mgr.CreateCluster("prod-1", user, admin)

Further managers join with a token issued by the leader (GenerateJoinToken)
and are added as voters.

# Leadership

Only the leader applies commands. Apply on a follower returns an error naming
the current leader.
*/
package manager
