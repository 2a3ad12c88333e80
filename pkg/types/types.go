package types

import (
	"sort"
	"strconv"
	"strings"
)

// ReliabilityLevel is the named durability tier of a cluster
type ReliabilityLevel string

const (
	ReliabilityIron     ReliabilityLevel = "Iron"
	ReliabilityBronze   ReliabilityLevel = "Bronze"
	ReliabilitySilver   ReliabilityLevel = "Silver"
	ReliabilityGold     ReliabilityLevel = "Gold"
	ReliabilityPlatinum ReliabilityLevel = "Platinum"
)

// ReliabilityLevels lists every level in ascending order
var ReliabilityLevels = []ReliabilityLevel{
	ReliabilityIron,
	ReliabilityBronze,
	ReliabilitySilver,
	ReliabilityGold,
	ReliabilityPlatinum,
}

// IsValid reports whether the level is one of the known tiers
func (r ReliabilityLevel) IsValid() bool {
	return r.rank() >= 0
}

func (r ReliabilityLevel) rank() int {
	for i, level := range ReliabilityLevels {
		if level == r {
			return i
		}
	}
	return -1
}

// Compare returns -1, 0 or 1 when r is lower than, equal to or higher than other
func (r ReliabilityLevel) Compare(other ReliabilityLevel) int {
	a, b := r.rank(), other.rank()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// GetSeedNodeCount returns the number of voting seed nodes for the level
func (r ReliabilityLevel) GetSeedNodeCount() int {
	switch r {
	case ReliabilityIron:
		return 1
	case ReliabilityBronze:
		return 3
	case ReliabilitySilver:
		return 5
	case ReliabilityGold:
		return 7
	case ReliabilityPlatinum:
		return 9
	default:
		return 0
	}
}

// GetReplicaSetSize returns the system service replica set size for the level
func (r ReliabilityLevel) GetReplicaSetSize() ReplicaSetSize {
	switch r {
	case ReliabilityIron:
		return ReplicaSetSize{MinReplicaSetSize: 1, TargetReplicaSetSize: 1}
	case ReliabilityBronze:
		return ReplicaSetSize{MinReplicaSetSize: 3, TargetReplicaSetSize: 3}
	case ReliabilitySilver:
		return ReplicaSetSize{MinReplicaSetSize: 3, TargetReplicaSetSize: 5}
	case ReliabilityGold:
		return ReplicaSetSize{MinReplicaSetSize: 5, TargetReplicaSetSize: 7}
	case ReliabilityPlatinum:
		return ReplicaSetSize{MinReplicaSetSize: 5, TargetReplicaSetSize: 9}
	default:
		return ReplicaSetSize{}
	}
}

// ReplicaSetSize is the min/target replica count of a stateful system service
type ReplicaSetSize struct {
	MinReplicaSetSize    int `json:"minReplicaSetSize" yaml:"minReplicaSetSize"`
	TargetReplicaSetSize int `json:"targetReplicaSetSize" yaml:"targetReplicaSetSize"`
}

// PortRange is an inclusive range of ports
type PortRange struct {
	StartPort int `json:"startPort" yaml:"startPort"`
	EndPort   int `json:"endPort" yaml:"endPort"`
}

// Overlaps reports whether the two ranges share at least one port
func (p PortRange) Overlaps(other PortRange) bool {
	return p.StartPort <= other.EndPort && other.StartPort <= p.EndPort
}

// NodeType describes a class of nodes in the user configuration
type NodeType struct {
	Name                         string    `json:"name" yaml:"name"`
	IsPrimary                    bool      `json:"isPrimary" yaml:"isPrimary"`
	VMInstanceCount              int       `json:"vmInstanceCount" yaml:"vmInstanceCount"`
	ClientConnectionEndpointPort int       `json:"clientConnectionEndpointPort" yaml:"clientConnectionEndpointPort"`
	HTTPGatewayEndpointPort      int       `json:"httpGatewayEndpointPort" yaml:"httpGatewayEndpointPort"`
	ApplicationPorts             PortRange `json:"applicationPorts" yaml:"applicationPorts"`
	EphemeralPorts               PortRange `json:"ephemeralPorts" yaml:"ephemeralPorts"`
}

// SettingsParameter is a single key/value fabric setting
type SettingsParameter struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}

// SettingsSection groups fabric settings under a section name
type SettingsSection struct {
	Name       string              `json:"name" yaml:"name"`
	Parameters []SettingsParameter `json:"parameters" yaml:"parameters"`
}

// UserConfig is the customer supplied desired configuration (CSM)
type UserConfig struct {
	Version            string            `json:"version" yaml:"version"`
	CodeVersion        string            `json:"codeVersion" yaml:"codeVersion"`
	ReliabilityLevel   ReliabilityLevel  `json:"reliabilityLevel" yaml:"reliabilityLevel"`
	NodeTypes          []NodeType        `json:"nodeTypes" yaml:"nodeTypes"`
	FaultDomainCount   int               `json:"faultDomainCount" yaml:"faultDomainCount"`
	UpgradeDomainCount int               `json:"upgradeDomainCount" yaml:"upgradeDomainCount"`
	IsVMSS             bool              `json:"isVmss" yaml:"isVmss"`
	Security           *Security         `json:"security,omitempty" yaml:"security,omitempty"`
	FabricSettings     []SettingsSection `json:"fabricSettings,omitempty" yaml:"fabricSettings,omitempty"`
}

// PrimaryNodeType returns the primary node type or nil
func (c *UserConfig) PrimaryNodeType() *NodeType {
	if c == nil {
		return nil
	}
	for i := range c.NodeTypes {
		if c.NodeTypes[i].IsPrimary {
			return &c.NodeTypes[i]
		}
	}
	return nil
}

// NodeType returns the named node type or nil
func (c *UserConfig) NodeType(name string) *NodeType {
	if c == nil {
		return nil
	}
	for i := range c.NodeTypes {
		if c.NodeTypes[i].Name == name {
			return &c.NodeTypes[i]
		}
	}
	return nil
}

// TotalPrimaryNodeCount returns the expected number of nodes of the primary type
func (c *UserConfig) TotalPrimaryNodeCount() int {
	if nt := c.PrimaryNodeType(); nt != nil {
		return nt.VMInstanceCount
	}
	return 0
}

// ClusterCertificate returns the thumbprint based cluster certificate or nil
func (c *UserConfig) ClusterCertificate() *CertificateDescription {
	if c == nil || c.Security == nil {
		return nil
	}
	return c.Security.CertificateInformation.ClusterCertificate
}

// ClusterCertificateCommonNames returns the common name based cluster certificates or nil
func (c *UserConfig) ClusterCertificateCommonNames() *ServerCertificateCommonNames {
	if c == nil || c.Security == nil {
		return nil
	}
	return c.Security.CertificateInformation.ClusterCertificateCommonNames
}

// Certificates returns the cluster certificate information, empty when the
// cluster is unsecured
func (c *UserConfig) Certificates() CertificateInformation {
	if c == nil || c.Security == nil {
		return CertificateInformation{}
	}
	return c.Security.CertificateInformation
}

// AdminConfig is the platform supplied configuration layered on top of UserConfig (WRP)
type AdminConfig struct {
	Version            string            `json:"version" yaml:"version"`
	AutoUpgradeEnabled bool              `json:"autoUpgradeEnabled" yaml:"autoUpgradeEnabled"`
	FabricSettings     []SettingsSection `json:"fabricSettings,omitempty" yaml:"fabricSettings,omitempty"`
}

// NodeConfig is the observed node topology. Version is bumped on every status merge.
type NodeConfig struct {
	Version     int64        `json:"version" yaml:"version"`
	NodesStatus []NodeStatus `json:"nodesStatus" yaml:"nodesStatus"`
}

// NodeState is the lifecycle state of a node
type NodeState string

const (
	NodeStateInvalid   NodeState = "Invalid"
	NodeStateEnabling  NodeState = "Enabling"
	NodeStateEnabled   NodeState = "Enabled"
	NodeStateDisabling NodeState = "Disabling"
	NodeStateDisabled  NodeState = "Disabled"
	NodeStateRemoved   NodeState = "Removed"
)

// NodeDeactivationIntent is the reason a node is being deactivated
type NodeDeactivationIntent string

const (
	DeactivationIntentInvalid    NodeDeactivationIntent = "Invalid"
	DeactivationIntentPause      NodeDeactivationIntent = "Pause"
	DeactivationIntentRestart    NodeDeactivationIntent = "Restart"
	DeactivationIntentRemoveData NodeDeactivationIntent = "RemoveData"
	DeactivationIntentRemoveNode NodeDeactivationIntent = "RemoveNode"
)

// NodeDescription is the immutable identity of a node
type NodeDescription struct {
	NodeName      string `json:"nodeName" yaml:"nodeName"`
	NodeTypeRef   string `json:"nodeTypeRef" yaml:"nodeTypeRef"`
	IPAddress     string `json:"ipAddress" yaml:"ipAddress"`
	FaultDomain   string `json:"faultDomain" yaml:"faultDomain"`
	UpgradeDomain string `json:"upgradeDomain" yaml:"upgradeDomain"`
}

// InstanceIndex returns the trailing numeric suffix of the node name (scale set
// naming, e.g. "_nt1vm_4"), or -1 when there is none
func (n NodeDescription) InstanceIndex() int {
	name := n.NodeName
	i := len(name)
	for i > 0 && name[i-1] >= '0' && name[i-1] <= '9' {
		i--
	}
	if i == len(name) {
		return -1
	}
	idx, err := strconv.Atoi(name[i:])
	if err != nil {
		return -1
	}
	return idx
}

// NodeStatus is the mutable lifecycle status of a node
type NodeStatus struct {
	NodeDescription        `json:",inline" yaml:",inline"`
	NodeState              NodeState              `json:"nodeState" yaml:"nodeState"`
	NodeDeactivationIntent NodeDeactivationIntent `json:"nodeDeactivationIntent" yaml:"nodeDeactivationIntent"`
	InstanceID             int64                  `json:"instanceId" yaml:"instanceId"`
}

// IsEligibleSeed reports whether the node may act as a voting seed node
func (s NodeStatus) IsEligibleSeed() bool {
	return s.NodeState == NodeStateEnabled || s.NodeState == NodeStateEnabling
}

// IsActive reports whether the node belongs in the cluster manifest. Nodes
// being paused or restarted stay; nodes being removed do not.
func (s NodeStatus) IsActive() bool {
	switch s.NodeState {
	case NodeStateEnabling, NodeStateEnabled:
		return true
	case NodeStateDisabling:
		return s.NodeDeactivationIntent != DeactivationIntentRemoveData &&
			s.NodeDeactivationIntent != DeactivationIntentRemoveNode
	default:
		return false
	}
}

// SortNodeStatuses sorts statuses by node name in place
func SortNodeStatuses(statuses []NodeStatus) {
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].NodeName < statuses[j].NodeName
	})
}

// SortNodeDescriptions sorts descriptions by node name in place
func SortNodeDescriptions(nodes []NodeDescription) {
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].NodeName < nodes[j].NodeName
	})
}

// ClusterManifest is the versioned artifact a cluster converges to
type ClusterManifest struct {
	Name         string                         `json:"name" yaml:"name"`
	Version      string                         `json:"version" yaml:"version"`
	Nodes        []NodeDescription              `json:"nodes" yaml:"nodes"`
	SeedNodes    []string                       `json:"seedNodes" yaml:"seedNodes"`
	Certificates *CertificateClusterUpgradeStep `json:"certificates,omitempty" yaml:"certificates,omitempty"`
	Settings     []SettingsSection              `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// Clone returns a deep copy of the manifest
func (m *ClusterManifest) Clone() *ClusterManifest {
	if m == nil {
		return nil
	}
	c := *m
	c.Nodes = append([]NodeDescription(nil), m.Nodes...)
	c.SeedNodes = append([]string(nil), m.SeedNodes...)
	if m.Certificates != nil {
		step := m.Certificates.Clone()
		c.Certificates = &step
	}
	c.Settings = CloneSettings(m.Settings)
	return &c
}

// IsSeedNode reports whether the named node is a seed node in the manifest
func (m *ClusterManifest) IsSeedNode(name string) bool {
	if m == nil {
		return false
	}
	for _, seed := range m.SeedNodes {
		if seed == name {
			return true
		}
	}
	return false
}

// CloneSettings deep copies a list of settings sections
func CloneSettings(sections []SettingsSection) []SettingsSection {
	if sections == nil {
		return nil
	}
	out := make([]SettingsSection, len(sections))
	for i, s := range sections {
		out[i] = SettingsSection{
			Name:       s.Name,
			Parameters: append([]SettingsParameter(nil), s.Parameters...),
		}
	}
	return out
}

// ExternalState pairs a generated manifest with the binary version it runs on
type ExternalState struct {
	ClusterManifest *ClusterManifest `json:"clusterManifest"`
	MsiVersion      string           `json:"msiVersion"`
}

// ManifestVersion returns the manifest version or an empty string
func (e *ExternalState) ManifestVersion() string {
	if e == nil || e.ClusterManifest == nil {
		return ""
	}
	return e.ClusterManifest.Version
}

// Equal reports whether both manifest version and binary version match
func (e *ExternalState) Equal(other *ExternalState) bool {
	if e == nil || other == nil {
		return e == other
	}
	return e.ManifestVersion() == other.ManifestVersion() &&
		strings.EqualFold(e.MsiVersion, other.MsiVersion)
}

// ClusterState is the immutable snapshot a cluster has converged to
type ClusterState struct {
	UserConfig    *UserConfig    `json:"userConfig"`
	AdminConfig   *AdminConfig   `json:"adminConfig"`
	NodeConfig    *NodeConfig    `json:"nodeConfig"`
	ExternalState *ExternalState `json:"externalState"`
}

// NewClusterState creates a cluster state snapshot
func NewClusterState(user *UserConfig, admin *AdminConfig, node *NodeConfig, ext *ExternalState) *ClusterState {
	return &ClusterState{
		UserConfig:    user,
		AdminConfig:   admin,
		NodeConfig:    node,
		ExternalState: ext,
	}
}
