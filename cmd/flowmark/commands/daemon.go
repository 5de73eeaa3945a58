package commands

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/flowmark/flowmark/pkg/config"
)

func newDaemonCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduling daemon",
		Long: `Run the long-lived scheduler: periodic materialization passes, crash
sweeps, and the Prometheus metrics endpoint. When --config names a
file, concurrency limits are hot-reloaded on change without a restart.

The daemon runs until interrupted.`,
		Example: `  # Run with the default config
  flowmark daemon

  # Run with a config file and hot reload
  flowmark daemon --config /etc/flowmark/flowmark.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			app, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer app.Close(context.Background())

			return runDaemon(ctx, app)
		},
	}

	return cmd
}

func runDaemon(ctx context.Context, a *app) error {
	logger := a.tel.Logger.NewComponentLogger("daemon")

	if err := a.applyLimits(ctx, a.cfg.ConcurrencyLimits); err != nil {
		return fmt.Errorf("failed to apply concurrency limits: %w", err)
	}
	if err := a.tel.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	m := a.materializer()

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(a.cfg.Materializer.MaterializeSpec, func() {
		if created, err := m.MaterializeDue(ctx); err != nil {
			logger.WithError(err).Error("materialization pass failed")
		} else if created > 0 {
			logger.WithField("created", created).Info("materialized runs")
		}
	}); err != nil {
		return fmt.Errorf("invalid materialize tick spec %q: %w", a.cfg.Materializer.MaterializeSpec, err)
	}
	if _, err := scheduler.AddFunc(a.cfg.Materializer.SweepSpec, func() {
		if swept, err := m.SweepCrashed(ctx); err != nil {
			logger.WithError(err).Error("crash sweep failed")
		} else if swept > 0 {
			logger.WithField("swept", swept).Warn("marked stale runs crashed")
		}
	}); err != nil {
		return fmt.Errorf("invalid sweep tick spec %q: %w", a.cfg.Materializer.SweepSpec, err)
	}

	// Hot reload of concurrency limits when a config file is in use. A
	// broken file is reported and the previous limits stay in effect.
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath)
		if err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		if err := watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to watch config: %w", err)
		}
		defer watcher.Stop()

		go func() {
			for ev := range watcher.Events() {
				if ev.Error != nil {
					logger.WithError(ev.Error).Error("config reload failed, keeping previous limits")
					continue
				}
				if err := a.applyLimits(ctx, ev.Config.ConcurrencyLimits); err != nil {
					logger.WithError(err).Error("failed to apply reloaded concurrency limits")
					continue
				}
				logger.WithField("limits", len(ev.Config.ConcurrencyLimits)).Info("concurrency limits reloaded")
			}
		}()
	}

	scheduler.Start()
	logger.WithField("materialize", a.cfg.Materializer.MaterializeSpec).
		WithField("sweep", a.cfg.Materializer.SweepSpec).
		WithField("database", a.cfg.Database.Path).
		Info("daemon started")

	<-ctx.Done()
	logger.Info("shutting down")
	<-scheduler.Stop().Done()
	return nil
}
