/*
Package events provides an in-memory event broker for cluster rollout
events.

The manager publishes an event whenever a cluster is created or deleted and
whenever the state machine starts, finishes, rolls back or interrupts an
upgrade. Subscribers get every event; filtering by type or cluster is up to
them.

# Event Types

	cluster.created            a cluster got its baseline manifest
	cluster.deleted            a cluster resource and its history were removed
	upgrade.started            a pending upgrade was created
	upgrade.phase_completed    a multiphase upgrade moved to its next phase
	upgrade.completed          the pending upgrade converged
	upgrade.rolled_back        the pending upgrade failed and was rolled back
	upgrade.interrupted        a newer target replaced the pending upgrade
	nodes.updated              node statuses were merged

# Delivery

Publish queues the event on a buffered channel (100 events) and returns.
A single goroutine broadcasts queued events to every subscriber channel
without blocking: a subscriber whose buffer is full misses the event.
Events are informational; the cluster resource in the store is the source
of truth.

Events are published when the state machine produces them, before the
resulting snapshot is committed. An operation retried after a version
conflict may therefore publish the same transition twice.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for ev := range sub {
			fmt.Printf("%s %s: %s\n", ev.ClusterID, ev.Type, ev.Message)
		}
	}()

	broker.Publish(events.NewEvent(events.EventUpgradeStarted, "prod-1", "simple upgrade"))
*/
package events
