package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMaterializeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "materialize",
		Short: "Run one materialization pass",
		Long: `Expand every active schedule over the configured horizon and create
the missing runs. The pass is idempotent: occurrences already
materialized, by an earlier pass or a concurrently running daemon, are
skipped.`,
		Example: `  # One pass with the configured horizon
  flowmark materialize --config flowmark.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			created, err := app.materializer().MaterializeDue(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Materialized %d runs\n", created)
			return nil
		},
	}

	return cmd
}

func newSweepCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark stale running runs as crashed",
		Long: `Find runs that have been Running longer than the configured staleness
threshold without committing any progress and move them to Crashed,
releasing their concurrency slots.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			swept, err := app.materializer().SweepCrashed(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Swept %d runs\n", swept)
			return nil
		},
	}

	return cmd
}
