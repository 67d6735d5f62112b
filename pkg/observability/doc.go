// Package observability provides structured JSON logging, Prometheus
// metrics, health probes, graceful shutdown, and optional OpenTelemetry
// export for the back-office services.
//
// Create a logger:
//
//	logger := observability.NewLogger(observability.InfoLevel, nil)
//	logger.WithField("entity_id", id).Info("undo applied")
//
// Metrics:
//
//	metrics := observability.NewMetrics(nil)
//	metrics.UndoAttemptsTotal.WithLabelValues("success").Inc()
//	http.Handle("/metrics", metrics.Handler())
//
// Health probes run on a separate port so load balancers and k8s probes
// never contend with API traffic:
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(healthMux, checker)
package observability
