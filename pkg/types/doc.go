/*
Package types defines the data model shared by every rollout package.

The model has three independently versioned configuration axes and the snapshot a
cluster converges to:

  - UserConfig: the customer supplied desired configuration (reliability level,
    node types, security, fabric settings, code version)
  - AdminConfig: the platform supplied overrides layered on top of UserConfig
  - NodeConfig: the observed node statuses, versioned on every merge
  - ClusterState: the immutable (UserConfig, AdminConfig, NodeConfig, ExternalState)
    snapshot recorded when an upgrade resolves

ExternalState pairs the generated ClusterManifest with the binary (msi) version it runs
on. Two external states are equal iff both versions match.

# Reliability

ReliabilityLevel drives both the number of voting seed nodes and the replica set size
of the system services:

	Level     Seeds  Min  Target
	Iron      1      1    1
	Bronze    3      3    3
	Silver    5      3    5
	Gold      7      5    7
	Platinum  9      5    9

# Nodes

NodeDescription is the identity of a node (name, node type, IP, fault and upgrade
domain). NodeStatus embeds it and adds the mutable lifecycle state, the deactivation
intent and a monotonically increasing instance id.

# Certificates

The cluster certificate is described by thumbprint (CertificateDescription, primary and
secondary) and/or by common name pinned to issuer thumbprints
(ServerCertificateCommonNames). A rotation is planned as a list of
CertificateClusterUpgradeStep values; each holds the white, load and file store lists
for both forms.
*/
package types
