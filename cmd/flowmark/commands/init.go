package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newInitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the database",
		Long: `Create the SQLite database, apply pending schema migrations, and seed
the concurrency limits from the configuration file.

Running init against an existing database is safe: migrations already
applied are skipped and limits are reconciled with the config.`,
		Example: `  # Initialize the default flowmark.db in the working directory
  flowmark init

  # Initialize from a config file
  flowmark init --config /etc/flowmark/flowmark.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			if err := app.applyLimits(ctx, app.cfg.ConcurrencyLimits); err != nil {
				return fmt.Errorf("failed to apply concurrency limits: %w", err)
			}
			if err := app.store.HealthCheck(ctx); err != nil {
				return fmt.Errorf("database health check failed: %w", err)
			}

			fmt.Printf("Initialized database at %s (%d concurrency limits)\n",
				app.cfg.Database.Path, len(app.cfg.ConcurrencyLimits))
			return nil
		},
	}

	return cmd
}
