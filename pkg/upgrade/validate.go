package upgrade

import (
	"github.com/cuemby/rollout/pkg/fault"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/errors"
)

const maxPort = 65535

// ValidateSettingChanges rejects target configurations that are malformed or
// change what a running cluster cannot change
func (s *State) ValidateSettingChanges(c Cluster) error {
	user := s.TargetUserConfig
	if user == nil {
		return errors.NotValidf("%s upgrade without user configuration", s.Kind)
	}
	if !user.ReliabilityLevel.IsValid() {
		return fault.Newf(fault.InvalidReliabilityLevel, "unknown reliability level %q", user.ReliabilityLevel)
	}
	for _, nt := range user.NodeTypes {
		if err := validatePorts(nt); err != nil {
			return err
		}
	}

	cur := c.CurrentState()
	if s.Kind == KindBaseline || cur == nil || cur.UserConfig == nil {
		return nil
	}

	if curPrimary, newPrimary := cur.UserConfig.PrimaryNodeType(), user.PrimaryNodeType(); curPrimary != nil {
		if newPrimary == nil || newPrimary.Name != curPrimary.Name {
			return fault.Newf(fault.PrimaryNodeTypeModificationNotAllowed,
				"primary node type %q cannot be changed", curPrimary.Name)
		}
	}
	for _, before := range cur.UserConfig.NodeTypes {
		after := user.NodeType(before.Name)
		if after == nil {
			continue
		}
		if after.ClientConnectionEndpointPort != before.ClientConnectionEndpointPort ||
			after.HTTPGatewayEndpointPort != before.HTTPGatewayEndpointPort {
			return fault.Newf(fault.NodeTypeEndpointChangeNotAllowed,
				"endpoint ports of node type %q cannot be changed", before.Name)
		}
	}
	return nil
}

func validatePorts(nt types.NodeType) error {
	ranges := []struct {
		name string
		r    types.PortRange
	}{
		{"application", nt.ApplicationPorts},
		{"ephemeral", nt.EphemeralPorts},
	}
	for _, pr := range ranges {
		if pr.r == (types.PortRange{}) {
			continue
		}
		if pr.r.StartPort <= 0 || pr.r.EndPort > maxPort || pr.r.StartPort > pr.r.EndPort {
			return fault.Newf(fault.InvalidPortRange, "node type %q has invalid %s port range %d-%d",
				nt.Name, pr.name, pr.r.StartPort, pr.r.EndPort)
		}
	}
	if nt.ApplicationPorts != (types.PortRange{}) && nt.EphemeralPorts != (types.PortRange{}) &&
		nt.ApplicationPorts.Overlaps(nt.EphemeralPorts) {
		return fault.Newf(fault.EphemeralAndApplicationPortsOverlap,
			"node type %q application and ephemeral ports overlap", nt.Name)
	}
	return nil
}
