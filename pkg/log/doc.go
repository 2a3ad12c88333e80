/*
Package log provides structured logging for the rollout control plane using
zerolog.

A single global zerolog.Logger is configured once at startup with Init. Each
component derives a child logger carrying its context fields, so every line
can be traced back to the node, cluster and upgrade that produced it.

# Configuration

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,      // false writes a human readable console format
		Output:     os.Stderr, // defaults to os.Stdout
	})

Until Init is called the global logger discards everything, which keeps
package tests quiet.

Levels map onto zerolog levels:

	debug   request logs, poll results, store retries
	info    lifecycle: leadership, upgrades started and finished (default)
	warn    conditions that need attention, e.g. missing fault domains
	error   failed operations and invariant violations

# Context Loggers

	log.WithComponent("reconciler")          component=reconciler
	log.WithNodeID("manager-1")              node_id=manager-1
	log.WithClusterID("prod-1")              cluster_id=prod-1
	log.WithUpgrade(logger, "prod-1", "seed") adds cluster_id and upgrade_kind

WithUpgrade extends an existing component logger rather than the global one:

	logger := log.WithComponent("cluster")
	ul := log.WithUpgrade(logger, r.ID, string(state.Kind))
	ul.Info().Str("manifest", version).Msg("Upgrade started")

# Output

Console format:

	2026-01-01T10:00:00Z INF Upgrade started component=cluster cluster_id=prod-1 upgrade_kind=seed manifest=4

JSON format:

	{"level":"info","component":"cluster","cluster_id":"prod-1","upgrade_kind":"seed","manifest":"4","time":"2026-01-01T10:00:00Z","message":"Upgrade started"}

Field names use snake_case. Messages start with a capital letter and carry
no trailing punctuation.
*/
package log
