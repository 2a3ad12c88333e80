package main

import (
	"fmt"
	"os"

	"github.com/cuemby/rollout/pkg/client"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const (
	definitionAPIVersion = "rollout/v1"
	definitionKind       = "Cluster"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a cluster definition file",
	Long: `Apply a cluster definition from a YAML file.

A cluster that does not exist yet is created. For an existing cluster the
user and admin configurations are staged as new targets. Nodes listed in
the definition are reported as node statuses.

Examples:
  # Create or update a cluster
  rolloutctl apply -f cluster.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Definition is a cluster definition file
type Definition struct {
	APIVersion string             `yaml:"apiVersion"`
	Kind       string             `yaml:"kind"`
	Metadata   DefinitionMetadata `yaml:"metadata"`
	Spec       DefinitionSpec     `yaml:"spec"`
}

type DefinitionMetadata struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

type DefinitionSpec struct {
	UserConfig  *types.UserConfig  `yaml:"userConfig,omitempty"`
	AdminConfig *types.AdminConfig `yaml:"adminConfig,omitempty"`
	Nodes       []types.NodeStatus `yaml:"nodes,omitempty"`
}

func loadDefinition(filename string) (*Definition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %v", err)
	}
	return parseDefinition(data)
}

// parseDefinition decodes a definition and fills the defaults of listed nodes
func parseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, errors.NewNotValid(err, "parsing definition")
	}
	if def.APIVersion != "" && def.APIVersion != definitionAPIVersion {
		return nil, errors.NotSupportedf("apiVersion %q", def.APIVersion)
	}
	if def.Kind != "" && def.Kind != definitionKind {
		return nil, errors.NotSupportedf("kind %q", def.Kind)
	}
	for i := range def.Spec.Nodes {
		n := &def.Spec.Nodes[i]
		if n.NodeName == "" {
			return nil, errors.NotValidf("node %d without name", i)
		}
		if n.NodeState == "" {
			n.NodeState = types.NodeStateEnabled
		}
	}
	return &def, nil
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")
	def, err := loadDefinition(filename)
	if err != nil {
		return err
	}
	if def.Metadata.Name == "" {
		return fmt.Errorf("metadata.name is required")
	}

	c, err := apiClient(cmd)
	if err != nil {
		return err
	}
	return applyDefinition(c, def)
}

func applyDefinition(c *client.Client, def *Definition) error {
	id := def.Metadata.Name

	_, err := c.GetCluster(id)
	switch {
	case errors.Is(err, errors.NotFound):
		if def.Spec.UserConfig == nil {
			return fmt.Errorf("cluster %s does not exist and the definition has no user configuration", id)
		}
		fmt.Printf("Creating cluster: %s\n", id)
		if _, err := c.CreateCluster(id, def.Spec.UserConfig, def.Spec.AdminConfig); err != nil {
			return fmt.Errorf("failed to create cluster: %v", err)
		}
		fmt.Printf("✓ Cluster created: %s\n", id)
	case err != nil:
		return err
	default:
		if def.Spec.UserConfig != nil {
			if _, err := c.SetTargetUserConfig(id, def.Spec.UserConfig); err != nil {
				return fmt.Errorf("failed to stage user configuration: %v", err)
			}
			fmt.Printf("✓ User configuration %s staged for %s\n", def.Spec.UserConfig.Version, id)
		}
		if def.Spec.AdminConfig != nil {
			if _, err := c.SetTargetAdminConfig(id, def.Spec.AdminConfig); err != nil {
				return fmt.Errorf("failed to stage admin configuration: %v", err)
			}
			fmt.Printf("✓ Admin configuration %s staged for %s\n", def.Spec.AdminConfig.Version, id)
		}
	}

	if len(def.Spec.Nodes) > 0 {
		r, err := c.UpdateNodesStatus(id, def.Spec.Nodes)
		if err != nil {
			return fmt.Errorf("failed to report nodes: %v", err)
		}
		fmt.Printf("✓ %d node statuses reported\n", len(def.Spec.Nodes))
		printUpgrade(r)
	}
	return nil
}
