// Package config loads and validates the engine configuration from
// YAML, and hot-reloads it on file change so concurrency limits can be
// adjusted without a restart.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/flowmark/flowmark/pkg/slots"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Duration is a time.Duration that unmarshals from YAML duration
// strings such as "90s" or "15m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"15m\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DatabaseConfig configures the SQLite store.
type DatabaseConfig struct {
	// Path is the SQLite database file, or ":memory:".
	Path string `yaml:"path" validate:"required"`
}

// BackoffConfig configures the retry rule's delay policy.
type BackoffConfig struct {
	Base   Duration `yaml:"base"`
	Factor float64  `yaml:"factor" validate:"gte=0"`
	Cap    Duration `yaml:"cap"`
}

// PipelineConfig configures the transition pipeline.
type PipelineConfig struct {
	// MaxCommitAttempts bounds retries after optimistic commit
	// conflicts.
	MaxCommitAttempts int `yaml:"max_commit_attempts" validate:"gte=0"`

	// Backoff is the automatic-retry delay policy.
	Backoff BackoffConfig `yaml:"backoff"`
}

// MaterializerConfig configures the schedule materializer daemon.
type MaterializerConfig struct {
	// Horizon is how far ahead occurrences are materialized.
	Horizon Duration `yaml:"horizon"`

	// MaxPerSchedule bounds runs created per schedule per pass.
	MaxPerSchedule int `yaml:"max_per_schedule" validate:"gte=0"`

	// StaleRunning is how long a Running run may sit without progress
	// before the sweeper marks it Crashed.
	StaleRunning Duration `yaml:"stale_running"`

	// MaterializeSpec is the daemon's tick schedule for
	// materialization passes, in cron syntax or a descriptor like
	// "@every 1m".
	MaterializeSpec string `yaml:"materialize_spec"`

	// SweepSpec is the daemon's tick schedule for crash sweeps.
	SweepSpec string `yaml:"sweep_spec"`
}

// TelemetryConfig configures logging, metrics, and tracing.
type TelemetryConfig struct {
	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=console json"`
	LogOutput string `yaml:"log_output"`

	MetricsEnabled bool   `yaml:"metrics_enabled"`
	MetricsListen  string `yaml:"metrics_listen"`

	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingExporter string `yaml:"tracing_exporter" validate:"omitempty,oneof=otlp stdout none"`
	TracingEndpoint string `yaml:"tracing_endpoint"`
}

// Config is the full engine configuration.
type Config struct {
	Database     DatabaseConfig     `yaml:"database"`
	Pipeline     PipelineConfig     `yaml:"pipeline"`
	Materializer MaterializerConfig `yaml:"materializer"`

	// ConcurrencyLimits are the slot limits keyed by scope. This
	// section is hot-reloadable.
	ConcurrencyLimits []slots.Limit `yaml:"concurrency_limits" validate:"dive"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Default returns the configuration used when a field is absent from
// the file.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "flowmark.db"},
		Pipeline: PipelineConfig{
			MaxCommitAttempts: 5,
			Backoff: BackoffConfig{
				Base:   Duration(10 * time.Second),
				Factor: 2,
				Cap:    Duration(10 * time.Minute),
			},
		},
		Materializer: MaterializerConfig{
			Horizon:         Duration(time.Hour),
			MaxPerSchedule:  100,
			StaleRunning:    Duration(15 * time.Minute),
			MaterializeSpec: "@every 1m",
			SweepSpec:       "@every 5m",
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			LogFormat:      "console",
			LogOutput:      "stdout",
			MetricsEnabled: true,
			MetricsListen:  ":9090",
		},
	}
}

// Load reads, decodes, and validates the configuration file. Fields
// absent from the file keep their defaults; unknown fields are
// rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if len(bytes.TrimSpace(data)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]bool, len(cfg.ConcurrencyLimits))
	for _, l := range cfg.ConcurrencyLimits {
		if seen[l.Scope] {
			return nil, fmt.Errorf("invalid config: duplicate concurrency limit scope %q", l.Scope)
		}
		seen[l.Scope] = true
	}

	return cfg, nil
}
