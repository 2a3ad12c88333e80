package main

import (
	"testing"

	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clusterDefinition = `
apiVersion: rollout/v1
kind: Cluster
metadata:
  name: prod-1
spec:
  userConfig:
    version: "1"
    codeVersion: 7.0.470.9590
    reliabilityLevel: Bronze
    faultDomainCount: 5
    upgradeDomainCount: 5
    nodeTypes:
      - name: nt1vm
        isPrimary: true
        vmInstanceCount: 5
  adminConfig:
    version: "1"
  nodes:
    - nodeName: _nt1vm_0
      nodeTypeRef: nt1vm
      faultDomain: fd:/0
      upgradeDomain: "0"
    - nodeName: _nt1vm_1
      nodeTypeRef: nt1vm
      faultDomain: fd:/1
      upgradeDomain: "1"
      nodeState: Disabled
`

func TestParseDefinition(t *testing.T) {
	def, err := parseDefinition([]byte(clusterDefinition))
	require.NoError(t, err)

	assert.Equal(t, "prod-1", def.Metadata.Name)
	require.NotNil(t, def.Spec.UserConfig)
	assert.Equal(t, types.ReliabilityBronze, def.Spec.UserConfig.ReliabilityLevel)
	require.NotNil(t, def.Spec.UserConfig.PrimaryNodeType())
	assert.Equal(t, 5, def.Spec.UserConfig.PrimaryNodeType().VMInstanceCount)
	require.Len(t, def.Spec.Nodes, 2)
	assert.Equal(t, "_nt1vm_0", def.Spec.Nodes[0].NodeName)
	assert.Equal(t, "fd:/1", def.Spec.Nodes[1].FaultDomain)
	assert.Equal(t, types.NodeStateEnabled, def.Spec.Nodes[0].NodeState)
	assert.Equal(t, types.NodeStateDisabled, def.Spec.Nodes[1].NodeState)
}

func TestParseDefinitionRejects(t *testing.T) {
	_, err := parseDefinition([]byte("kind: Service\n"))
	assert.True(t, errors.Is(err, errors.NotSupported))

	_, err = parseDefinition([]byte("spec:\n  nodes:\n    - nodeTypeRef: nt1vm\n"))
	assert.True(t, errors.Is(err, errors.NotValid))

	_, err = parseDefinition([]byte("spec: [\n"))
	assert.True(t, errors.Is(err, errors.NotValid))
}
