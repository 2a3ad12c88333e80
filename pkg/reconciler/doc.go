/*
Package reconciler drives pending cluster upgrades to a resolution.

Every interval the leader walks all clusters:

  - A cluster with a pending upgrade is checked against the deployment
    observer. A converged manifest completes the upgrade once the system
    services run with their target replica set sizes. A failed one rolls it
    back. Otherwise the poll is counted, and an upgrade that made no progress
    for more than upgrade.MaxPollCountWithoutUpgrade polls is failed.
  - A cluster with nothing pending has its state machine run again. This is
    how an uninitialized cluster gets its baseline upgrade once the seed node
    deadline passed without every expected node reporting.
  - A steady cluster whose observed manifest or binary version drifted from
    its current state gets a gatekeeping upgrade.

Followers skip the cycle.
*/
package reconciler
