package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage control plane join tokens",
}

var tokenCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Generate a join token for a new manager",
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		c, err := apiClient(cmd)
		if err != nil {
			return err
		}
		jt, err := c.GenerateJoinToken(ttl)
		if err != nil {
			return err
		}

		addr, _ := cmd.Flags().GetString("manager")
		fmt.Printf("Token: %s\n", jt.Token)
		fmt.Printf("Expires: %s\n", jt.ExpiresAt.Format(time.RFC3339))
		fmt.Println()
		fmt.Println("Join a new manager with:")
		fmt.Printf("  rolloutctl serve --node-id <id> --join %s --token %s\n", addr, jt.Token)
		return nil
	},
}

func init() {
	tokenCmd.AddCommand(tokenCreateCmd)
	tokenCreateCmd.Flags().Duration("ttl", 24*time.Hour, "How long the token is valid")

	rootCmd.AddCommand(tokenCmd)
}
