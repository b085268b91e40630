package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/driftbox/relay/pkg/config"
	"github.com/driftbox/relay/pkg/log"
	"github.com/driftbox/relay/pkg/metrics"
	"github.com/driftbox/relay/pkg/node"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay - Driftbox real-time distribution core",
	Long: `Relay is the real-time distribution core of the Driftbox file-sharing
platform. Each relay node delivers events to the subscribers it hosts,
tracks who is online, and executes administrative session commands,
coordinating with the other nodes over a Redis pub/sub broker.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Relay version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(nodeCmd)
}

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage a relay node",
}

var nodeRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a relay node",
	Long: `Run this machine's relay node until interrupted.

The node connects to the configured Redis broker for cross-node delivery.
If the broker is unreachable the node keeps serving local subscribers in
degraded mode and reconnects with backoff.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		nodeID, _ := cmd.Flags().GetString("node-id")
		redisAddr, _ := cmd.Flags().GetString("redis-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")

		cfg := config.Default()
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg = loaded
		}
		if nodeID != "" {
			cfg.NodeID = nodeID
		}
		if redisAddr != "" {
			cfg.Redis.Addr = redisAddr
		}
		if dataDir != "" {
			cfg.AuditPath = dataDir
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Log.Level),
			JSONOutput: cfg.Log.JSON,
		})

		n, err := node.NewNode(cfg)
		if err != nil {
			return fmt.Errorf("failed to create node: %v", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := n.Start(ctx); err != nil {
			return fmt.Errorf("failed to start node: %v", err)
		}

		// Serve Prometheus metrics in the background
		errCh := make(chan error, 1)
		if cfg.MetricsAddr != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- fmt.Errorf("metrics server error: %v", err)
				}
			}()
			defer server.Close()
		}

		fmt.Printf("Relay node %s is running. Press Ctrl+C to stop.\n", cfg.NodeID)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		if err := n.Shutdown(); err != nil {
			return fmt.Errorf("failed to shutdown: %v", err)
		}

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeRunCmd)

	nodeRunCmd.Flags().String("config", "", "Path to YAML config file")
	nodeRunCmd.Flags().String("node-id", "", "Unique node ID (overrides config)")
	nodeRunCmd.Flags().String("redis-addr", "", "Redis broker address (overrides config)")
	nodeRunCmd.Flags().String("data-dir", "", "Data directory for the audit log (overrides config)")
}
