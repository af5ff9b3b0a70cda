// Package observability provides structured logging, Prometheus metrics,
// health probes and OpenTelemetry tracing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("email", email).Info("membership updated")
//
// Attributes whose key looks like a credential (password, token, secret and
// similar) are replaced with [REDACTED] before they are written.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	metrics.RecordWebhookEvent("checkout.session.completed", "processed")
//
// HTTP metrics are labelled with the mux route template rather than the raw
// path.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("smtp", false, mailer.Ping)
//
// Liveness always answers 200. Readiness answers 503 when a critical check
// fails and 200 (possibly "degraded") otherwise.
//
// # OpenTelemetry
//
//	tp, err := observability.InitTracing(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "claimgate",
//		Insecure:    true,
//	}, logger)
//	defer observability.ShutdownTracing(ctx, tp, logger)
package observability
