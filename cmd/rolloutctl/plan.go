package main

import (
	"fmt"
	"os"

	"github.com/cuemby/rollout/pkg/certflow"
	"github.com/cuemby/rollout/pkg/seednode"
	"github.com/cuemby/rollout/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Plan commands run the planners locally, without a manager
var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Preview seed node and certificate plans",
}

var planSeedsCmd = &cobra.Command{
	Use:   "seeds -f FILE",
	Short: "Select seed nodes for the nodes of a cluster definition",
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")
		seed, _ := cmd.Flags().GetInt64("seed")
		def, err := loadDefinition(filename)
		if err != nil {
			return err
		}
		user := def.Spec.UserConfig
		if user == nil {
			return fmt.Errorf("%s has no user configuration", filename)
		}
		primary := user.PrimaryNodeType()
		if primary == nil {
			return fmt.Errorf("%s has no primary node type", filename)
		}

		var candidates []types.NodeDescription
		for _, n := range def.Spec.Nodes {
			if n.NodeTypeRef == primary.Name && n.IsEligibleSeed() {
				candidates = append(candidates, n.NodeDescription)
			}
		}
		expected := primary.VMInstanceCount
		if len(candidates) < expected {
			fmt.Printf("Only %d of %d primary nodes listed, planning with those\n", len(candidates), expected)
			expected = len(candidates)
		}

		selector := seednode.NewSelector(seednode.Config{Seed: seed})
		seeds := selector.Select(user.ReliabilityLevel, expected, candidates,
			user.FaultDomainCount, user.UpgradeDomainCount, user.IsVMSS)
		if seeds == nil {
			return fmt.Errorf("cannot select %d seed nodes for %s from %d candidates",
				user.ReliabilityLevel.GetSeedNodeCount(), user.ReliabilityLevel, len(candidates))
		}

		fmt.Printf("%d seed nodes for %s:\n", len(seeds), user.ReliabilityLevel)
		fmt.Printf("  %-20s %-16s %s\n", "NODE", "FAULT DOMAIN", "UPGRADE DOMAIN")
		for _, n := range seeds {
			fmt.Printf("  %-20s %-16s %s\n", n.NodeName, n.FaultDomain, n.UpgradeDomain)
		}
		return nil
	},
}

// CertificateChange is the input of plan certs
type CertificateChange struct {
	Current types.CertificateInformation `yaml:"current"`
	Target  types.CertificateInformation `yaml:"target"`
}

var planCertsCmd = &cobra.Command{
	Use:   "certs -f FILE",
	Short: "Plan the rollout steps of a cluster certificate change",
	Long: `Plan the rollout steps of a cluster certificate change. The file holds
the current and target certificate information:

  current:
    clusterCertificate:
      thumbprint: AAAA
  target:
    clusterCertificate:
      thumbprint: BBBB`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filename, _ := cmd.Flags().GetString("file")
		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %v", err)
		}
		var change CertificateChange
		if err := yaml.Unmarshal(data, &change); err != nil {
			return fmt.Errorf("failed to parse YAML: %v", err)
		}

		steps, err := certflow.GetUpgradeFlow(change.Current, change.Target)
		if err != nil {
			return err
		}
		fmt.Printf("%d steps\n", len(steps))
		for i, step := range steps {
			fmt.Printf("--- step %d\n", i+1)
			if err := yaml.NewEncoder(os.Stdout).Encode(step); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	planCmd.AddCommand(planSeedsCmd)
	planCmd.AddCommand(planCertsCmd)

	planSeedsCmd.Flags().Int64("seed", 1, "Random search seed")
	for _, c := range []*cobra.Command{planSeedsCmd, planCertsCmd} {
		c.Flags().StringP("file", "f", "", "YAML input file (required)")
		_ = c.MarkFlagRequired("file")
	}

	rootCmd.AddCommand(planCmd)
}
