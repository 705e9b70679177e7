package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dockhand/dockhand/pkg/api"
	"github.com/dockhand/dockhand/pkg/cloud"
	"github.com/dockhand/dockhand/pkg/cloud/awscloud"
	"github.com/dockhand/dockhand/pkg/config"
	"github.com/dockhand/dockhand/pkg/log"
	"github.com/dockhand/dockhand/pkg/orchestrator"
	"github.com/dockhand/dockhand/pkg/registry"
	"github.com/dockhand/dockhand/pkg/types"
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
	Use:   "dockhand",
	Short: "Dockhand - Container deployment console for cloud instances",
	Long: `Dockhand provisions cloud instances, installs a container runtime
over the management channel, and deploys registry images onto them,
streaming progress while it works.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Dockhand version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(instancesCmd)
	rootCmd.AddCommand(terminateCmd)
}

// awsFactory builds a provider for one request's cloud context.
func awsFactory(ctx context.Context, cc types.CloudContext) (cloud.Provider, error) {
	return awscloud.New(ctx, cc)
}

// orchestrationTemplate maps server configuration onto the orchestrator.
func orchestrationTemplate(cfg *config.Config) orchestrator.Config {
	return orchestrator.Config{
		PolicyName:         cfg.PolicyName,
		InstanceProfile:    cfg.InstanceProfile,
		RetryAttempts:      cfg.RetryAttempts,
		RetryDelay:         cfg.RetryDelay(),
		LaunchTimeout:      cfg.LaunchTimeout(),
		AddressTimeout:     cfg.AddressTimeout(),
		PollInterval:       cfg.PollInterval(),
		WorkspacePath:      cfg.WorkspacePath,
		TerminateOnFailure: cfg.TerminateOnFailure,
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the deployment API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		listenAddr, _ := cmd.Flags().GetString("listen")
		dataDir, _ := cmd.Flags().GetString("data-dir")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: true})

		store, err := registry.NewStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open instance registry: %v", err)
		}
		defer store.Close()

		server := api.NewServer(api.Config{
			Factory:       awsFactory,
			Registry:      store,
			Orchestration: orchestrationTemplate(cfg),
			Version:       Version,
		})

		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.ListenAddr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			return err
		}

		// In-flight deployments run on background contexts and keep going;
		// the shutdown only stops accepting new connections.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Stop(ctx)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML configuration file")
	serveCmd.Flags().String("listen", "", "Listen address (overrides config)")
	serveCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
}
