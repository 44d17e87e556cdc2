// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks, and graceful shutdown.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("space_id", id).Warn("quota release clamped at zero")
//
// Request-scoped loggers carry the request and user IDs:
//
//	observability.FromContext(r.Context()).Info("picture uploaded")
//
// # Metrics
//
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//
// All recording methods accept a nil *Metrics.
//
// When OpenTelemetry is enabled, InitOTel installs OTLP trace and metric
// providers and NewOTelMetrics binds storage and collaboration instruments
// to them. A nil *OTelMetrics records nothing.
//
// # Health
//
//	checker := observability.NewHealthChecker(version,
//		observability.DatabaseProbe(db),
//		observability.ObjectStoreProbe(objectStore),
//	)
//	observability.RegisterHealthRoutes(serveMux, checker)
//
// Required probes failing turn readiness into a 503. Optional ones, and
// probes returning a Degraded error, report "degraded" with a 200.
package observability
