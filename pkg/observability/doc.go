// Package observability provides structured logging, Prometheus metrics, and OpenTelemetry tracing.
//
// # Structured Logging
//
// Create the process logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, observability.FormatText, os.Stderr)
//	logger.WithField("source", src.Key()).Info("source synchronized")
//
// Components accept a *logrus.Logger and fall back to logrus.New() when given nil:
//
//	logger = observability.OrDefault(logger)
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.HashQueriesTotal.WithLabelValues("remote-hub", "ok").Inc()
//
// # Tracing
//
// Spans use the global OpenTelemetry provider. InitTracing replaces it with an
// OTLP/gRPC exporter when an endpoint is configured; without one spans are no-ops:
//
//	tp, err := observability.InitTracing(ctx, cfg.Observability.Tracing, logger)
//	sm.RegisterShutdownFunc("tracing", func(ctx context.Context) error {
//		return observability.ShutdownTracing(ctx, tp)
//	})
//
//	ctx, span := observability.StartSpan(ctx, "resolver.Sync", map[string]string{"source": key})
//	defer observability.EndSpan(span, err)
//
// # Shutdown
//
// Long-running commands stop the HTTP server and then release resources in
// registration order:
//
//	sm := observability.NewShutdownManager(logger, server, 30*time.Second)
//	sm.RegisterShutdownFunc("watcher", func(context.Context) error { return w.Close() })
//	return sm.WaitForShutdown(ctx)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/pipeline: Wires logger and metrics into every stage
package observability
