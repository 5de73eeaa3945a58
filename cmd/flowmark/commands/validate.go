package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowmark/flowmark/pkg/config"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a configuration file",
		Long: `Parse and validate a configuration file without touching the database.

Unknown fields, malformed durations, and duplicate concurrency-limit
scopes are rejected; fields absent from the file report their defaults.`,
		Example: `  # Validate a config file
  flowmark validate flowmark.yaml

  # Validate the file named by --config and print the effective config
  flowmark validate --config flowmark.yaml --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				return fmt.Errorf("no config file given; pass a path or use --config")
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(cfg)
			}
			fmt.Printf("%s is valid\n", path)
			fmt.Printf("  database:           %s\n", cfg.Database.Path)
			fmt.Printf("  materialize every:  %s\n", cfg.Materializer.MaterializeSpec)
			fmt.Printf("  horizon:            %s\n", cfg.Materializer.Horizon.Std())
			fmt.Printf("  concurrency limits: %d\n", len(cfg.ConcurrencyLimits))
			return nil
		},
	}

	return cmd
}
