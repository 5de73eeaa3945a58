package commands

import (
	"context"
	"fmt"

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
		Use:   "flowmark",
		Short: "Flowmark - Workflow Run Orchestration Engine",
		Long: `Flowmark orchestrates workflow runs through a rule-based transition
pipeline backed by SQLite.

Features:
  - Composable orchestration rules: idempotency, lifecycle validity,
    result caching, concurrency limits, automatic retries
  - Interval, cron, and RFC 5545 recurrence schedules
  - Horizon-based run materialization and crash sweeping
  - Optimistic per-run concurrency over a single SQLite file`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newPreviewCommand())
	rootCmd.AddCommand(newScheduleCommand())
	rootCmd.AddCommand(newRunsCommand())
	rootCmd.AddCommand(newMaterializeCommand())
	rootCmd.AddCommand(newSweepCommand())
	rootCmd.AddCommand(newDaemonCommand())

	return rootCmd
}
