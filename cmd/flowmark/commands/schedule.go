package commands

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/flowmark/flowmark/pkg/stores"
)

func newScheduleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurrence schedules",
		Long: `Create, inspect, and manage the schedules the materializer expands
into runs. Pausing a schedule keeps it and its runs but stops new
occurrences from materializing.`,
	}

	cmd.AddCommand(newScheduleCreateCommand())
	cmd.AddCommand(newScheduleListCommand())
	cmd.AddCommand(newScheduleGetCommand())
	cmd.AddCommand(newSchedulePauseCommand())
	cmd.AddCommand(newScheduleResumeCommand())
	cmd.AddCommand(newScheduleDeleteCommand())

	return cmd
}

func newScheduleCreateCommand() *cobra.Command {
	var (
		flags    specFlags
		name     string
		tags     []string
		cacheKey string
		cacheTTL time.Duration
		retries  int
		paused   bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a schedule",
		Example: `  # Hourly report generation with two automatic retries
  flowmark schedule create --name hourly-report --every 1h --retries 2

  # Nightly batch in Berlin time, limited by the "database" scope
  flowmark schedule create --name nightly-batch \
    --cron "0 2 * * *" --timezone Europe/Berlin --tag database`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			spec, err := flags.build()
			if err != nil {
				return err
			}

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			now := time.Now().UTC()
			sched := &stores.Schedule{
				ID:        uuid.New().String(),
				Name:      name,
				Spec:      spec,
				Active:    !paused,
				Tags:      tags,
				CacheKey:  cacheKey,
				CacheTTL:  cacheTTL,
				Retries:   retries,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := app.store.CreateSchedule(ctx, sched); err != nil {
				return fmt.Errorf("failed to create schedule: %w", err)
			}

			if jsonOutput {
				return printJSON(sched)
			}
			fmt.Printf("Created schedule %s (%s)\n", sched.ID, sched.Spec.Kind())
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&name, "name", "", "human-readable schedule name")
	cmd.Flags().StringSliceVar(&tags, "tag", nil, "concurrency scopes for materialized runs")
	cmd.Flags().StringVar(&cacheKey, "cache-key", "", "result cache key for materialized runs")
	cmd.Flags().DurationVar(&cacheTTL, "cache-ttl", 0, "result cache lifetime for materialized runs")
	cmd.Flags().IntVar(&retries, "retries", 0, "automatic retry budget for materialized runs")
	cmd.Flags().BoolVar(&paused, "paused", false, "create the schedule inactive")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newScheduleListCommand() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			schedules, err := app.store.ListSchedules(ctx, !all)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(schedules)
			}
			for _, s := range schedules {
				status := "active"
				if !s.Active {
					status = "paused"
				}
				fmt.Printf("%s  %-8s  %-8s  %s\n", s.ID, s.Spec.Kind(), status, s.Name)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include paused schedules")

	return cmd
}

func newScheduleGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <schedule-id>",
		Short: "Show one schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			sched, err := app.store.GetSchedule(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(sched)
		},
	}

	return cmd
}

func newSchedulePauseCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pause <schedule-id>",
		Short: "Stop materializing a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setScheduleActive(cmd, args[0], false)
		},
	}

	return cmd
}

func newScheduleResumeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <schedule-id>",
		Short: "Resume materializing a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setScheduleActive(cmd, args[0], true)
		},
	}

	return cmd
}

func setScheduleActive(cmd *cobra.Command, id string, active bool) error {
	ctx := cmd.Context()

	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	sched, err := app.store.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if sched.Active == active {
		fmt.Printf("Schedule %s unchanged\n", id)
		return nil
	}

	sched.Active = active
	sched.UpdatedAt = time.Now().UTC()
	if err := app.store.UpdateSchedule(ctx, sched); err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}

	if active {
		fmt.Printf("Schedule %s resumed\n", id)
	} else {
		fmt.Printf("Schedule %s paused\n", id)
	}
	return nil
}

func newScheduleDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <schedule-id>",
		Short: "Delete a schedule",
		Long: `Delete a schedule. Runs already materialized from it are kept; only
future occurrences stop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(ctx)

			if err := app.store.DeleteSchedule(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted schedule %s\n", args[0])
			return nil
		},
	}

	return cmd
}
