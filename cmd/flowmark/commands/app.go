package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/flowmark/flowmark/pkg/clock"
	"github.com/flowmark/flowmark/pkg/config"
	"github.com/flowmark/flowmark/pkg/materializer"
	"github.com/flowmark/flowmark/pkg/orchestration"
	"github.com/flowmark/flowmark/pkg/slots"
	"github.com/flowmark/flowmark/pkg/stores"
	"github.com/flowmark/flowmark/pkg/telemetry"
)

// app bundles the wired engine pieces commands operate on: configuration,
// telemetry, the store, and the transition pipeline.
type app struct {
	cfg      *config.Config
	tel      *telemetry.Telemetry
	store    *stores.SQLiteStore
	pipeline *orchestration.Pipeline
}

// loadConfig reads the config file named by --config, or returns the
// built-in defaults when none was given.
func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.Default(), nil
	}
	return config.Load(configPath)
}

// newTelemetry builds the telemetry stack from the engine config,
// letting the --verbose and --json flags override the file.
func newTelemetry(cfg *config.Config) (*telemetry.Telemetry, error) {
	tc := telemetry.DefaultConfig()
	if cfg.Telemetry.LogLevel != "" {
		tc.Logging.Level = cfg.Telemetry.LogLevel
	}
	if verbose {
		tc.Logging.Level = "debug"
	}
	if cfg.Telemetry.LogFormat != "" {
		tc.Logging.Format = cfg.Telemetry.LogFormat
	}
	if cfg.Telemetry.LogOutput != "" {
		tc.Logging.Output = cfg.Telemetry.LogOutput
	}
	tc.Metrics.Enabled = cfg.Telemetry.MetricsEnabled
	if cfg.Telemetry.MetricsListen != "" {
		tc.Metrics.ListenAddress = cfg.Telemetry.MetricsListen
	}
	tc.Tracing.Enabled = cfg.Telemetry.TracingEnabled
	if cfg.Telemetry.TracingExporter != "" {
		tc.Tracing.Exporter = cfg.Telemetry.TracingExporter
	}
	if cfg.Telemetry.TracingEndpoint != "" {
		tc.Tracing.Endpoint = cfg.Telemetry.TracingEndpoint
	}
	return telemetry.NewTelemetry(tc)
}

func backoffPolicy(cfg *config.Config) orchestration.BackoffPolicy {
	return orchestration.BackoffPolicy{
		Base:   cfg.Pipeline.Backoff.Base.Std(),
		Factor: cfg.Pipeline.Backoff.Factor,
		Cap:    cfg.Pipeline.Backoff.Cap.Std(),
	}
}

// openApp loads the configuration, opens the store, applies pending
// migrations, and wires the transition pipeline.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := newTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Database.Path, err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to migrate database %s: %w", cfg.Database.Path, err)
	}

	backoff := backoffPolicy(cfg)
	rules := orchestration.BaseRules(store, store, backoff)
	pipeline := orchestration.NewPipeline(store, rules, clock.System{}, tel.Logger, tel.Metrics, orchestration.PipelineConfig{
		MaxCommitAttempts: cfg.Pipeline.MaxCommitAttempts,
		Backoff:           backoff,
	})

	return &app{cfg: cfg, tel: tel, store: store, pipeline: pipeline}, nil
}

// Close releases the store and flushes telemetry.
func (a *app) Close(ctx context.Context) {
	if err := a.store.Close(); err != nil {
		a.tel.Logger.WithError(err).Warn("failed to close store")
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		a.tel.Logger.WithError(err).Warn("failed to shut down telemetry")
	}
}

// materializer builds the run materializer over the app's store and
// pipeline.
func (a *app) materializer() *materializer.Materializer {
	return materializer.New(a.store, a.pipeline, clock.System{}, a.tel.Logger, a.tel.Metrics, materializer.Config{
		Horizon:        a.cfg.Materializer.Horizon.Std(),
		MaxPerSchedule: a.cfg.Materializer.MaxPerSchedule,
		StaleRunning:   a.cfg.Materializer.StaleRunning.Std(),
	})
}

// applyLimits reconciles the stored concurrency limits with the
// configured set: configured scopes are upserted, stored scopes absent
// from the config are removed.
func (a *app) applyLimits(ctx context.Context, limits []slots.Limit) error {
	existing, err := a.store.ListLimits(ctx)
	if err != nil {
		return err
	}

	configured := make(map[string]bool, len(limits))
	for _, l := range limits {
		if err := a.store.UpsertLimit(ctx, l); err != nil {
			return fmt.Errorf("failed to set limit for scope %s: %w", l.Scope, err)
		}
		configured[l.Scope] = true
	}
	for _, l := range existing {
		if configured[l.Scope] {
			continue
		}
		if err := a.store.DeleteLimit(ctx, l.Scope); err != nil {
			return fmt.Errorf("failed to remove limit for scope %s: %w", l.Scope, err)
		}
	}
	return nil
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
