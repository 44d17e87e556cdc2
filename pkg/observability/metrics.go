package observability

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AuthzDenialsTotal *prometheus.CounterVec

	// Quota metrics
	QuotaReservationsTotal *prometheus.CounterVec
	QuotaReleaseUnderflows prometheus.Counter
	QuotaDriftSpaces       prometheus.Gauge

	// Space metrics
	SpaceCreationsTotal *prometheus.CounterVec
	SpaceCreationWait   prometheus.Histogram

	// Storage metrics
	StorageCleanupTotal *prometheus.CounterVec

	// Rate limiting
	UploadsThrottledTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gallery_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gallery_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthzDenialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gallery_authz_denials_total",
				Help: "Authorization checks that denied a permission",
			},
			[]string{"permission", "reason"},
		),

		QuotaReservationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gallery_quota_reservations_total",
				Help: "Quota reservations by outcome",
			},
			[]string{"result"},
		),
		QuotaReleaseUnderflows: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gallery_quota_release_underflows_total",
				Help: "Releases that would have pushed usage below zero and were clamped",
			},
		),
		QuotaDriftSpaces: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "gallery_quota_drift_spaces",
				Help: "Spaces whose counters disagreed with their pictures at the last reconciliation",
			},
		),

		SpaceCreationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gallery_space_creations_total",
				Help: "Space creation attempts by space type and outcome",
			},
			[]string{"type", "result"},
		),
		SpaceCreationWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gallery_space_creation_lock_wait_seconds",
				Help:    "Time spent waiting for the per-user creation lock",
				Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
			},
		),

		StorageCleanupTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gallery_storage_cleanup_total",
				Help: "Storage cleanup outcomes after picture removal",
			},
			[]string{"result"},
		),

		UploadsThrottledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "gallery_uploads_throttled_total",
				Help: "Upload requests rejected by the rate limiter",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthzDenialsTotal,
		m.QuotaReservationsTotal,
		m.QuotaReleaseUnderflows,
		m.QuotaDriftSpaces,
		m.SpaceCreationsTotal,
		m.SpaceCreationWait,
		m.StorageCleanupTotal,
		m.UploadsThrottledTotal,
	)

	return m
}

// RecordDenial counts a denied authorization check
func (m *Metrics) RecordDenial(permission, reason string) {
	if m == nil {
		return
	}
	m.AuthzDenialsTotal.WithLabelValues(permission, reason).Inc()
}

// RecordReservation counts a quota reservation outcome
func (m *Metrics) RecordReservation(result string) {
	if m == nil {
		return
	}
	m.QuotaReservationsTotal.WithLabelValues(result).Inc()
}

// RecordUnderflow counts a clamped quota release
func (m *Metrics) RecordUnderflow() {
	if m == nil {
		return
	}
	m.QuotaReleaseUnderflows.Inc()
}

// SetDrift records the number of drifted spaces found by the reconciler
func (m *Metrics) SetDrift(spaces int) {
	if m == nil {
		return
	}
	m.QuotaDriftSpaces.Set(float64(spaces))
}

// RecordSpaceCreation counts a space creation attempt
func (m *Metrics) RecordSpaceCreation(spaceType, result string, wait time.Duration) {
	if m == nil {
		return
	}
	m.SpaceCreationsTotal.WithLabelValues(spaceType, result).Inc()
	m.SpaceCreationWait.Observe(wait.Seconds())
}

// RecordCleanup counts a storage cleanup outcome
func (m *Metrics) RecordCleanup(result string) {
	if m == nil {
		return
	}
	m.StorageCleanupTotal.WithLabelValues(result).Inc()
}

// RecordThrottle counts a throttled upload
func (m *Metrics) RecordThrottle() {
	if m == nil {
		return
	}
	m.UploadsThrottledTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets websocket upgrades pass through the wrapper
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// routeLabel returns the mux route template so IDs do not explode label cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(serveMux *http.ServeMux, registry *prometheus.Registry) {
	serveMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
