// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("workspace_id", ws).Info("key issued")
//
// A nil *Logger discards everything, so components accept an optional logger.
// FromContext decorates the request logger with request and user ids.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordAuthAttempt("api_key", "success")
//
// A nil *Metrics is a no-op.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, observability.WithRedisRequired())
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "ideahub",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
