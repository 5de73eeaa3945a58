// Package telemetry provides observability instrumentation for
// Flowmark: structured logging (zerolog), distributed tracing
// (OpenTelemetry), and Prometheus metrics behind one handle.
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "flowmark"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
// Components take child loggers scoped by name:
//
//	logger := tel.Logger.NewComponentLogger("materializer")
//	logger.WithRunID("run-123").Info("run materialized")
//	logger.WithError(err).Error("materialization failed")
//
// Metrics cover the transition pipeline (proposals by outcome and
// reason, commit conflicts, evaluation latency), run creation, the
// materializer, and slot occupancy per concurrency scope. Tracing is
// optional; when enabled, the pipeline and materializer emit spans
// through the globally registered provider.
package telemetry
