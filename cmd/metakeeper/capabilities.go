package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/corvidlabs/metakeeper/pkg/config"
	"github.com/corvidlabs/metakeeper/pkg/log"
	"github.com/corvidlabs/metakeeper/pkg/types"
)

// notifyCmd receives cluster transition notifications. The agent keys all
// of its decisions off its own probe, so notifications are recorded for
// operators and acknowledged.
var notifyCmd = &cobra.Command{
	Use:   "notify",
	Short: "Acknowledge a cluster transition notification",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
			os.Exit(types.StatusErrConfigured.ExitCode())
		}
		initLogging(cfg)

		notifyType, _ := cmd.Flags().GetString("type")
		operation, _ := cmd.Flags().GetString("operation")
		logger := log.WithAction("notify")
		logger.Info().
			Str("type", notifyType).
			Str("operation", operation).
			Msg("cluster notification received")
		os.Exit(types.StatusOK.ExitCode())
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration without running any action",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		if _, err := config.Load(configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
			os.Exit(types.StatusErrConfigured.ExitCode())
		}
		fmt.Println("configuration OK")
		os.Exit(types.StatusOK.ExitCode())
	},
}

func init() {
	notifyCmd.Flags().String("type", "", "Notification type (pre or post)")
	notifyCmd.Flags().String("operation", "", "Operation the notification refers to")
}

// capabilityDoc is the machine-readable description of this agent the
// resource manager consumes. Stdout carries nothing else.
type capabilityDoc struct {
	Name    string             `yaml:"name"`
	Version string             `yaml:"version"`
	Roles   []string           `yaml:"roles"`
	Actions []capabilityAction `yaml:"actions"`
}

type capabilityAction struct {
	Name     string `yaml:"name"`
	Timeout  string `yaml:"timeout"`
	Interval string `yaml:"interval,omitempty"`
	Role     string `yaml:"role,omitempty"`
}

var describeCmd = &cobra.Command{
	Use:   "describe-capabilities",
	Short: "Emit the agent capability document on stdout",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		doc := capabilityDoc{
			Name:    "metakeeper",
			Version: Version,
			Roles:   []string{string(types.RoleMaster), string(types.RoleShadow)},
			Actions: []capabilityAction{
				{Name: "start", Timeout: "120s"},
				{Name: "stop", Timeout: "120s"},
				{Name: "monitor", Timeout: "30s", Interval: "10s", Role: string(types.RoleShadow)},
				{Name: "monitor", Timeout: "30s", Interval: "11s", Role: string(types.RoleMaster)},
				{Name: "promote", Timeout: "120s"},
				{Name: "demote", Timeout: "120s"},
				{Name: "notify", Timeout: "30s"},
				{Name: "validate", Timeout: "30s"},
			},
		}

		out, err := yaml.Marshal(doc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(types.StatusErrGeneric.ExitCode())
		}
		os.Stdout.Write(out)
		os.Exit(types.StatusOK.ExitCode())
	},
}
