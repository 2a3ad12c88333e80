package main

import (
	"fmt"
	"time"

	"github.com/cuemby/rollout/pkg/deploy"
	"github.com/spf13/cobra"
)

// Upgrade commands report on the pending upgrade of a cluster. They stand in
// for the orchestrator when it is driven by hand.
var upgradeCmd = &cobra.Command{
	Use:   "upgrade",
	Short: "Report on pending upgrades",
}

var upgradeCompleteCmd = &cobra.Command{
	Use:   "complete ID",
	Short: "Mark the pending upgrade as converged",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		r, err := c.CompleteUpgrade(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ Upgrade completed, cluster %s is %s\n", r.ID, r.Phase())
		printUpgrade(r)
		return nil
	},
}

var upgradeRollbackCmd = &cobra.Command{
	Use:   "rollback ID",
	Short: "Mark the pending upgrade as failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		r, err := c.RollbackUpgrade(args[0], reason)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Upgrade rolled back, cluster %s is %s\n", r.ID, r.Phase())
		printUpgrade(r)
		return nil
	},
}

var upgradeReportCmd = &cobra.Command{
	Use:   "report ID",
	Short: "Send a deployment report for a manifest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetString("manifest")
		outcome, _ := cmd.Flags().GetString("outcome")
		domains, _ := cmd.Flags().GetInt("domains-done")
		reason, _ := cmd.Flags().GetString("reason")

		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		report := deploy.Report{
			ManifestVersion: version,
			Outcome:         deploy.Outcome(outcome),
			Reason:          reason,
			DomainsDone:     domains,
			At:              time.Now(),
		}
		if err := c.ReportDeployment(args[0], report); err != nil {
			return err
		}
		fmt.Printf("✓ Reported manifest %s as %s\n", version, outcome)
		return nil
	},
}

func init() {
	upgradeCmd.AddCommand(upgradeCompleteCmd)
	upgradeCmd.AddCommand(upgradeRollbackCmd)
	upgradeCmd.AddCommand(upgradeReportCmd)

	upgradeRollbackCmd.Flags().String("reason", "rolled back by operator", "Why the upgrade failed")

	upgradeReportCmd.Flags().String("manifest", "", "Manifest version the report is for (required)")
	upgradeReportCmd.Flags().String("outcome", string(deploy.OutcomeInProgress), "in_progress, converged or failed")
	upgradeReportCmd.Flags().Int("domains-done", 0, "Upgrade domains done so far")
	upgradeReportCmd.Flags().String("reason", "", "Failure reason")
	_ = upgradeReportCmd.MarkFlagRequired("manifest")

	rootCmd.AddCommand(upgradeCmd)
}
