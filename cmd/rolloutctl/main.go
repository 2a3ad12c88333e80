package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cuemby/rollout/pkg/api"
	"github.com/cuemby/rollout/pkg/client"
	"github.com/cuemby/rollout/pkg/deploy"
	"github.com/cuemby/rollout/pkg/log"
	"github.com/cuemby/rollout/pkg/manager"
	"github.com/cuemby/rollout/pkg/metrics"
	"github.com/cuemby/rollout/pkg/reconciler"
	"github.com/juju/clock"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "rolloutctl",
	Short: "Cluster configuration rollout control plane",
	Long: `rolloutctl runs and drives the rollout control plane.

A control plane of one or more managers stores cluster resources in a
Raft replicated store and rolls configuration changes out to each cluster
one upgrade at a time.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOutput, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{
			Level:      log.Level(level),
			JSONOutput: jsonOutput,
			Output:     os.Stderr,
		})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("rolloutctl version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Log in JSON")
	rootCmd.PersistentFlags().String("manager", "127.0.0.1:8080", "Manager API address")

	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// apiClient connects to the manager named by --manager
func apiClient(cmd *cobra.Command) (*client.Client, error) {
	addr, _ := cmd.Flags().GetString("manager")
	return client.NewClient(addr)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a control plane manager",
	Long: `Run a control plane manager.

Without --join the manager bootstraps a new single voter control plane.
With --join it asks the leader at that address to add it as a voter.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("node-id", "manager-1", "Unique node ID")
	serveCmd.Flags().String("bind-addr", "127.0.0.1:7946", "Address for Raft communication")
	serveCmd.Flags().String("api-addr", "127.0.0.1:8080", "Address for the HTTP API")
	serveCmd.Flags().String("data-dir", "./rollout-data", "Data directory for control plane state")
	serveCmd.Flags().String("socket", "", "Unix socket for the read-only API (default <data-dir>/rollout.sock)")
	serveCmd.Flags().Duration("poll-interval", reconciler.DefaultInterval, "How often pending upgrades are polled")
	serveCmd.Flags().String("join", "", "API address of the leader to join")
	serveCmd.Flags().String("token", "", "Join token issued by the leader")
}

func runServe(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	socket, _ := cmd.Flags().GetString("socket")
	interval, _ := cmd.Flags().GetDuration("poll-interval")
	joinAddr, _ := cmd.Flags().GetString("join")
	token, _ := cmd.Flags().GetString("token")

	if joinAddr != "" && token == "" {
		return fmt.Errorf("--token is required with --join")
	}
	if socket == "" {
		socket = filepath.Join(dataDir, "rollout.sock")
	}

	logger := log.WithNodeID(nodeID)
	metrics.SetVersion(Version)

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:   nodeID,
		BindAddr: bindAddr,
		DataDir:  dataDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %v", err)
	}

	if joinAddr == "" {
		if err := mgr.Bootstrap(); err != nil {
			return fmt.Errorf("failed to bootstrap control plane: %v", err)
		}
	} else {
		leader, err := client.NewClient(joinAddr)
		if err != nil {
			return err
		}
		if err := mgr.Join(leader, token); err != nil {
			return fmt.Errorf("failed to join control plane: %v", err)
		}
	}
	if err := mgr.WaitForLeader(30 * time.Second); err != nil {
		logger.Warn().Err(err).Msg("No leader yet, continuing")
	}

	tracker := deploy.NewTracker(clock.WallClock)
	rec := reconciler.NewReconciler(mgr, tracker, interval)
	rec.Start()

	collector := metrics.NewCollector(mgr)
	collector.Start()

	server := api.NewServer(mgr)
	server.SetTracker(tracker)

	errCh := make(chan error, 2)
	go func() {
		errCh <- server.Start(apiAddr)
	}()
	go func() {
		errCh <- server.StartUnix(socket)
	}()

	logger.Info().
		Str("api_addr", apiAddr).
		Str("bind_addr", bindAddr).
		Str("socket", socket).
		Msg("Manager running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("API server stopped")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	server.Stop(ctx)
	rec.Stop()
	collector.Stop()
	if err := mgr.Shutdown(); err != nil {
		logger.Warn().Err(err).Msg("Manager shutdown")
	}
	return serveErr
}
