// Package observability provides structured logging, Prometheus metrics, OpenTelemetry
// tracing, health checks and graceful shutdown.
//
// # Structured Logging
//
// Logger wraps logrus with a JSON formatter:
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("tenant_id", 42).Info("tenant connection opened")
//
// FromContext returns the request logger annotated with request id, user uid
// and tenant id when those are present in the context.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.NewRegistry())
//	metrics.ObserveOutcome("REJECTED", "FORBIDDEN")
//
// Every Observe helper is safe on a nil *Metrics, so components can be built
// without metrics in tests.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(managerDB, redisClient).WithRegistry(registry)
//	observability.RegisterHealthRoutes(healthMux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer providers.Shutdown(ctx)
//	ctx, span := observability.Tracer().Start(ctx, "pipeline.validate")
package observability
