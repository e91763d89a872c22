// Package observability provides logging, Prometheus metrics, health
// checks, graceful shutdown and OpenTelemetry setup.
//
// # Logging
//
//	logger := observability.NewLogger("info", "json", os.Stdout)
//	logger.WithField("log_id", id).Error("Failed to update history entry")
//
// # Metrics
//
//	registry := observability.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	client := inference.NewClient(url, inference.WithObserver(metrics.ObserveInference))
//
// # Health
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.AddCheck("inference", false, client.Ping)
//	observability.RegisterHealthRoutes(mux, checker)
//
// The database is critical, Redis and checks added as non-critical only
// degrade readiness.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
