package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "capstan",
		Short: "Capstan - Capability resolution for remote machines",
		Long: `Capstan resolves diagnostic capabilities on heterogeneous remote
machines: it detects what a target already has, installs what is missing
using platform-appropriate strategies, and memoizes the result per target.

Features:
  - Typed tool configuration via CUE
  - Static (YAML) and dynamic (Starlark) target inventories
  - Platform profile detection over SSH
  - Lazy, policy-gated capability installation
  - SQLite resolution journal and session history`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "capstan.cue", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newTargetsCommand())
	rootCmd.AddCommand(newProfileCommand())
	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newKvpCommand())
	rootCmd.AddCommand(newAgentCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
