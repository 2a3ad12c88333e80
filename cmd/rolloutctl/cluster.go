package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/rollout/pkg/cluster"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Cluster commands
var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Manage cluster resources",
}

var clusterCreateCmd = &cobra.Command{
	Use:   "create -f FILE",
	Short: "Create a cluster from a definition file",
	Long: `Create a cluster from a YAML definition file. The cluster ID is taken
from metadata.name, or generated when the definition has none.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")
		def, err := loadDefinition(filename)
		if err != nil {
			return err
		}
		id := def.Metadata.Name
		if id == "" {
			id = uuid.NewString()
		}

		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		r, err := c.CreateCluster(id, def.Spec.UserConfig, def.Spec.AdminConfig)
		if err != nil {
			return fmt.Errorf("failed to create cluster: %v", err)
		}
		fmt.Printf("✓ Cluster created: %s (phase=%s)\n", r.ID, r.Phase())
		return nil
	},
}

var clusterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List clusters",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		clusters, err := c.ListClusters()
		if err != nil {
			return err
		}
		if len(clusters) == 0 {
			fmt.Println("No clusters")
			return nil
		}
		fmt.Printf("%-38s %-14s %-12s %-9s %s\n", "ID", "PHASE", "UPGRADE", "MANIFEST", "UPDATED")
		for _, r := range clusters {
			kind := "-"
			if r.Pending != nil {
				kind = string(r.Pending.Kind)
			}
			fmt.Printf("%-38s %-14s %-12s %-9d %s\n", r.ID, r.Phase(), kind, r.ManifestVersion, r.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

var clusterShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a cluster resource",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		r, err := c.GetCluster(args[0])
		if err != nil {
			return err
		}
		printCluster(r)
		return nil
	},
}

var clusterDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a cluster resource and its manifest history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		if err := c.DeleteCluster(args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Cluster deleted: %s\n", args[0])
		return nil
	},
}

var clusterSetTargetCmd = &cobra.Command{
	Use:   "set-target ID -f FILE",
	Short: "Stage new user and admin configurations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")
		def, err := loadDefinition(filename)
		if err != nil {
			return err
		}
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}

		var r *cluster.Resource
		if def.Spec.UserConfig != nil {
			if r, err = c.SetTargetUserConfig(args[0], def.Spec.UserConfig); err != nil {
				return fmt.Errorf("failed to stage user configuration: %v", err)
			}
			fmt.Printf("✓ User configuration %s staged\n", def.Spec.UserConfig.Version)
		}
		if def.Spec.AdminConfig != nil {
			if r, err = c.SetTargetAdminConfig(args[0], def.Spec.AdminConfig); err != nil {
				return fmt.Errorf("failed to stage admin configuration: %v", err)
			}
			fmt.Printf("✓ Admin configuration %s staged\n", def.Spec.AdminConfig.Version)
		}
		if r == nil {
			return fmt.Errorf("%s stages nothing", filename)
		}
		printUpgrade(r)
		return nil
	},
}

var clusterNodesCmd = &cobra.Command{
	Use:   "nodes ID -f FILE",
	Short: "Report node statuses from a definition file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")
		def, err := loadDefinition(filename)
		if err != nil {
			return err
		}
		if len(def.Spec.Nodes) == 0 {
			return fmt.Errorf("%s lists no nodes", filename)
		}
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		r, err := c.UpdateNodesStatus(args[0], def.Spec.Nodes)
		if err != nil {
			return err
		}
		fmt.Printf("✓ %d node statuses reported (node config version %d)\n", len(def.Spec.Nodes), r.NodeConfigVersion)
		printUpgrade(r)
		return nil
	},
}

var clusterManifestsCmd = &cobra.Command{
	Use:   "manifests ID [VERSION]",
	Short: "List the manifest history of a cluster, or print one manifest",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		if len(args) == 2 {
			m, err := c.GetManifest(args[0], args[1])
			if err != nil {
				return err
			}
			return yaml.NewEncoder(os.Stdout).Encode(m)
		}

		manifests, err := c.ListManifests(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%-9s %-6s %-6s %-9s %s\n", "VERSION", "NODES", "SEEDS", "SECTIONS", "CERTIFICATES")
		for _, m := range manifests {
			certs := "-"
			if m.Certificates != nil {
				certs = fmt.Sprintf("%d whitelisted", len(m.Certificates.ThumbprintWhiteList)+len(m.Certificates.CommonNameWhiteList))
			}
			fmt.Printf("%-9s %-6d %-6d %-9d %s\n", m.Version, len(m.Nodes), len(m.SeedNodes), len(m.Settings), certs)
		}
		return nil
	},
}

func init() {
	clusterCmd.AddCommand(clusterCreateCmd)
	clusterCmd.AddCommand(clusterListCmd)
	clusterCmd.AddCommand(clusterShowCmd)
	clusterCmd.AddCommand(clusterDeleteCmd)
	clusterCmd.AddCommand(clusterSetTargetCmd)
	clusterCmd.AddCommand(clusterNodesCmd)
	clusterCmd.AddCommand(clusterManifestsCmd)

	for _, c := range []*cobra.Command{clusterCreateCmd, clusterSetTargetCmd, clusterNodesCmd} {
		c.Flags().StringP("file", "f", "", "YAML cluster definition (required)")
		_ = c.MarkFlagRequired("file")
	}

	rootCmd.AddCommand(clusterCmd)
}

func printCluster(r *cluster.Resource) {
	fmt.Printf("ID:        %s\n", r.ID)
	fmt.Printf("Phase:     %s\n", r.Phase())
	fmt.Printf("Version:   %d\n", r.Version)
	fmt.Printf("Manifest:  %d\n", r.ManifestVersion)
	fmt.Printf("Nodes:     %d (config version %d)\n", len(r.NodeStatuses()), r.NodeConfigVersion)
	if cur := r.CurrentState(); cur != nil && cur.UserConfig != nil {
		fmt.Printf("Running:   user config %s, code %s\n", cur.UserConfig.Version, cur.UserConfig.CodeVersion)
	}
	if r.TargetUserConfig != nil {
		failed := ""
		if r.TargetUserConfigFailed {
			failed = " (failed)"
		}
		fmt.Printf("Target:    user config %s%s\n", r.TargetUserConfig.Version, failed)
	}
	printUpgrade(r)
}

func printUpgrade(r *cluster.Resource) {
	if r.Pending == nil {
		fmt.Println("Upgrade:   none")
		return
	}
	fmt.Printf("Upgrade:   %s by %s, manifest %s, %d polls without progress\n",
		r.Pending.Kind, r.Pending.Owner, r.Pending.ExternalState.ManifestVersion(), r.Pending.PollCountWithoutUpgrade)
}
