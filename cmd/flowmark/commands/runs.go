package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowmark/flowmark/pkg/orchestration"
	"github.com/flowmark/flowmark/pkg/stores"
)

// cliActor identifies transitions proposed from the command line in run
// histories and the event log.
const cliActor = "cli"

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and steer runs",
		Long: `List runs, inspect their state history, and propose transitions:
cancelling a pending or running run, or retrying a finished one.

All state changes go through the orchestration rule set; a command can
be refused with a reason when a rule rejects the transition.`,
	}

	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsGetCommand())
	cmd.AddCommand(newRunsCancelCommand())
	cmd.AddCommand(newRunsRetryCommand())
	cmd.AddCommand(newRunsEventsCommand())

	return cmd
}

func newRunsListCommand() *cobra.Command {
	var (
		state      string
		scheduleID string
		parentID   string
		limit      int
		offset     int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs",
		Example: `  # All currently running runs
  flowmark runs list --state running

  # Runs materialized from one schedule
  flowmark runs list --schedule 6a1f...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			runs, err := app.store.ListRuns(ctx, stores.RunFilter{
				StateType:  orchestration.StateType(state),
				ScheduleID: scheduleID,
				ParentID:   parentID,
				Limit:      limit,
				Offset:     offset,
			})
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(runs)
			}
			for _, run := range runs {
				fmt.Printf("%s  %-10s  v%-3d  %s\n", run.ID, run.State.Type, run.Version, run.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&state, "state", "", "filter by current state type")
	cmd.Flags().StringVar(&scheduleID, "schedule", "", "filter by originating schedule id")
	cmd.Flags().StringVar(&parentID, "parent", "", "filter task runs by parent run id")
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")

	return cmd
}

func newRunsGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show one run with its state history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			run, err := app.store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(run)
			}
			fmt.Printf("Run:     %s\n", run.ID)
			if run.Name != "" {
				fmt.Printf("Name:    %s\n", run.Name)
			}
			fmt.Printf("State:   %s\n", run.State.Type)
			fmt.Printf("Version: %d\n", run.Version)
			fmt.Printf("Retries: %d remaining, %d attempts made\n", run.RetriesRemaining, run.RunCount)
			fmt.Println("History:")
			for _, rec := range run.StateHistory {
				line := fmt.Sprintf("  %s  %-10s", rec.State.Timestamp.Format(time.RFC3339), rec.State.Type)
				if rec.Reason != "" {
					line += "  " + rec.Reason
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	return cmd
}

func newRunsCancelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a run",
		Long: `Move a run into Cancelling. A run without an executing worker, one
that is scheduled, pending, or paused, is finalized to Cancelled
immediately; a running run stays in Cancelling until its worker
acknowledges and finalizes it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			run, err := app.store.GetRun(ctx, id)
			if err != nil {
				return err
			}
			wasRunning := run.State.Type == orchestration.StateRunning
			tctx := orchestration.Context{Actor: cliActor}

			outcome, err := app.pipeline.ProposeTransition(ctx, id, orchestration.Cancelling(time.Now().UTC()), tctx)
			if err != nil {
				return err
			}
			if outcome.Kind == orchestration.OutcomeRejected {
				return fmt.Errorf("cancel refused by rule %s: %s (run is %s)", outcome.Rule, outcome.Reason, outcome.State.Type)
			}

			if !wasRunning && outcome.State.Type == orchestration.StateCancelling {
				outcome, err = app.pipeline.ProposeTransition(ctx, id, orchestration.Cancelled(time.Now().UTC()), tctx)
				if err != nil {
					return err
				}
			}

			fmt.Printf("Run %s is now %s\n", id, outcome.State.Type)
			return nil
		},
	}

	return cmd
}

func newRunsRetryCommand() *cobra.Command {
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "retry <run-id>",
		Short: "Re-schedule a finished run",
		Long: `Re-schedule a run that already reached a terminal state. Manual
retries bypass the automatic retry budget; the run's counters keep
counting.`,
		Example: `  # Retry a failed run immediately
  flowmark runs retry 9c2e...

  # Retry in ten minutes
  flowmark runs retry 9c2e... --delay 10m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id := args[0]

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			now := time.Now().UTC()
			outcome, err := app.pipeline.ProposeTransition(ctx, id,
				orchestration.Scheduled(now, now.Add(delay)),
				orchestration.Context{Actor: cliActor, ManualRetry: true})
			if err != nil {
				return err
			}
			if outcome.Kind == orchestration.OutcomeRejected {
				return fmt.Errorf("retry refused by rule %s: %s (run is %s)", outcome.Rule, outcome.Reason, outcome.State.Type)
			}

			fmt.Printf("Run %s re-scheduled, due %s\n", id, now.Add(delay).Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", 0, "delay before the retried run is due")

	return cmd
}

func newRunsEventsCommand() *cobra.Command {
	var (
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Show the orchestration log of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			events, err := app.store.ListEvents(ctx, args[0], limit, offset)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(events)
			}
			for _, ev := range events {
				line := fmt.Sprintf("%s  %-7s  %s", ev.Timestamp.Format(time.RFC3339), ev.Level, ev.Message)
				if ev.Rule != "" {
					line += fmt.Sprintf("  (rule: %s)", ev.Rule)
				}
				fmt.Println(line)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 100, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "page offset")

	return cmd
}
