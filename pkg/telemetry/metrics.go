package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for Flowmark.
type Metrics struct {
	config MetricsConfig

	// Transition pipeline metrics
	transitionsTotal   *prometheus.CounterVec
	transitionDuration *prometheus.HistogramVec
	commitConflicts    prometheus.Counter

	// Run metrics
	runsCreated *prometheus.CounterVec

	// Materializer metrics
	runsMaterialized prometheus.Counter
	runsSweptCrashed prometheus.Counter

	// Concurrency metrics
	slotOccupancy *prometheus.GaugeVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total number of proposed state transitions by outcome",
			},
			[]string{"proposed", "outcome", "reason"},
		),
		transitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transition_duration_seconds",
				Help:      "Duration of transition pipeline evaluation in seconds",
				Buckets:   buckets,
			},
			[]string{"outcome"},
		),
		commitConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "commit_conflicts_total",
				Help:      "Total number of optimistic commit conflicts",
			},
		),
		runsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_created_total",
				Help:      "Total number of runs created by initial state",
			},
			[]string{"state"},
		),
		runsMaterialized: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_materialized_total",
				Help:      "Total number of runs materialized from schedules",
			},
		),
		runsSweptCrashed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_swept_crashed_total",
				Help:      "Total number of stale running runs marked crashed by the sweeper",
			},
		),
		slotOccupancy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "slot_occupancy",
				Help:      "Current number of held slots per concurrency scope",
			},
			[]string{"scope"},
		),
	}

	registry.MustRegister(
		m.transitionsTotal,
		m.transitionDuration,
		m.commitConflicts,
		m.runsCreated,
		m.runsMaterialized,
		m.runsSweptCrashed,
		m.slotOccupancy,
	)

	return m, nil
}

// TransitionObserved records a resolved transition proposal.
func (m *Metrics) TransitionObserved(proposed, outcome, reason string, duration time.Duration) {
	if m.transitionsTotal == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(proposed, outcome, reason).Inc()
	m.transitionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// CommitConflict counts one optimistic-concurrency conflict.
func (m *Metrics) CommitConflict() {
	if m.commitConflicts == nil {
		return
	}
	m.commitConflicts.Inc()
}

// RunCreated counts one run creation by its initial state.
func (m *Metrics) RunCreated(state string) {
	if m.runsCreated == nil {
		return
	}
	m.runsCreated.WithLabelValues(state).Inc()
}

// RunsMaterialized counts runs created from schedule occurrences.
func (m *Metrics) RunsMaterialized(count int) {
	if m.runsMaterialized == nil {
		return
	}
	m.runsMaterialized.Add(float64(count))
}

// RunsSweptCrashed counts stale running runs marked crashed.
func (m *Metrics) RunsSweptCrashed(count int) {
	if m.runsSweptCrashed == nil {
		return
	}
	m.runsSweptCrashed.Add(float64(count))
}

// SetSlotOccupancy sets the current occupancy of a concurrency scope.
func (m *Metrics) SetSlotOccupancy(scope string, inUse int) {
	if m.slotOccupancy == nil {
		return
	}
	m.slotOccupancy.WithLabelValues(scope).Set(float64(inUse))
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			// Log error but don't fail the application
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
