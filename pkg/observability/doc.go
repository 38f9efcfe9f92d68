// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks and shutdown sequencing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", id).Info("login succeeded")
//
// Packages that take an optional logger fall back to NewNopLogger.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordLogin("failure", "password_invalid")
//
// Every Record method is safe on a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	tp, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, tp, logger)
//
//	ctx, span := observability.Tracer().Start(ctx, "authn.Login")
//	defer span.End()
package observability
