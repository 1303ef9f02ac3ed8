package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corvidlabs/metakeeper/pkg/agent"
	"github.com/corvidlabs/metakeeper/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// configPath is where the YAML configuration is read from; the
// METAKEEPER_CONFIG environment variable overrides the default, the
// --config flag overrides both.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(types.StatusErrArgs.ExitCode())
	}
}

var rootCmd = &cobra.Command{
	Use:   "metakeeper",
	Short: "Metakeeper - failover agent for a replicated metadata service",
	Long: `Metakeeper is the failover agent the cluster resource manager drives
to run a replicated metadata service: it probes the local server, reconciles
its state into a vote score and a promotion strategy, and executes the
start/stop/promote/demote lifecycle.

Each invocation performs exactly one lifecycle action and exits with a
status code the resource manager interprets.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// A bare invocation names no action.
		_ = cmd.Usage()
		os.Exit(types.StatusErrArgs.ExitCode())
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Metakeeper version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	defaultConfig := os.Getenv("METAKEEPER_CONFIG")
	if defaultConfig == "" {
		defaultConfig = "/etc/metakeeper/config.yml"
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "Path to the configuration file")

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(promoteCmd)
	rootCmd.AddCommand(demoteCmd)
	rootCmd.AddCommand(notifyCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(describeCmd)
	rootCmd.AddCommand(clearErrorsCmd)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the metadata server as a shadow",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runAction("start", func(ctx context.Context, a *agent.Agent) types.StatusCode {
			return a.Start(ctx)
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the metadata server, rotating shadow snapshots",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runAction("stop", func(ctx context.Context, a *agent.Agent) types.StatusCode {
			return a.Stop(ctx)
		})
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Probe the server and publish score and metadata version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runAction("monitor", func(ctx context.Context, a *agent.Agent) types.StatusCode {
			rec, err := a.Monitor(ctx)
			if err != nil {
				return types.StatusErrGeneric
			}
			return rec.Status
		})
	},
}

var promoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Promote this node to leader",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runAction("promote", func(ctx context.Context, a *agent.Agent) types.StatusCode {
			return a.Promote(ctx)
		})
	},
}

var demoteCmd = &cobra.Command{
	Use:   "demote",
	Short: "Demote a running leader",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runAction("demote", func(ctx context.Context, a *agent.Agent) types.StatusCode {
			return a.Demote(ctx)
		})
	},
}

// clearErrorsCmd is the detached post-promotion task; promote re-execs the
// agent binary with this action so the staggered error-state clears never
// delay the synchronous promote result.
var clearErrorsCmd = &cobra.Command{
	Use:    "clear-errors",
	Short:  "Clear the resource error state after a promotion",
	Hidden: true,
	Args:   cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		runAction("clear-errors", func(ctx context.Context, a *agent.Agent) types.StatusCode {
			a.ClearErrors(ctx, agent.ClearErrorDelays)
			return types.StatusOK
		})
	},
}
