package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

const readinessTimeout = 5 * time.Second

// Degraded is returned by a probe whose dependency answers but is impaired.
type Degraded string

func (d Degraded) Error() string { return string(d) }

// Probe checks a single dependency. A failing required probe makes the
// gallery unready; an optional one only degrades it.
type Probe struct {
	Name     string
	Required bool
	Check    func(ctx context.Context) error
}

// Pinger is implemented by the object stores and the Postgres connection manager.
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// DatabaseProbe pings the primary and reports a saturated pool as degraded.
func DatabaseProbe(db *sql.DB) Probe {
	return Probe{Name: "database", Required: true, Check: func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		if s := db.Stats(); s.MaxOpenConnections > 0 && s.InUse >= s.MaxOpenConnections {
			return Degraded("connection pool exhausted")
		}
		return nil
	}}
}

// ReplicaProbe reports read replica reachability. Listings fall back to the
// primary, so replica loss never fails readiness.
func ReplicaProbe(conns Pinger) Probe {
	return Probe{Name: "read_replicas", Check: conns.HealthCheck}
}

// SessionProbe pings the Redis instance holding sessions and upload rate limits.
// Anonymous reads keep working without it.
func SessionProbe(client *redis.Client) Probe {
	return Probe{Name: "redis", Check: func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}}
}

// ObjectStoreProbe checks the bucket or directory holding picture bytes.
func ObjectStoreProbe(objects Pinger) Probe {
	return Probe{Name: "object_storage", Required: true, Check: objects.HealthCheck}
}

// HealthStatus is the readiness report body
type HealthStatus struct {
	Status       string                      `json:"status"`
	Timestamp    time.Time                   `json:"timestamp"`
	Version      string                      `json:"version,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies,omitempty"`
}

// DependencyStatus is one probe's outcome
type DependencyStatus struct {
	Status    string        `json:"status"`
	Required  bool          `json:"required"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthChecker runs probes concurrently and folds them into one status.
type HealthChecker struct {
	probes  []Probe
	version string
}

func NewHealthChecker(version string, probes ...Probe) *HealthChecker {
	return &HealthChecker{probes: probes, version: version}
}

// Check runs every probe under ctx.
func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	results := make([]DependencyStatus, len(h.probes))

	var wg sync.WaitGroup
	for i, p := range h.probes {
		wg.Add(1)
		go func(i int, p Probe) {
			defer wg.Done()
			results[i] = runProbe(ctx, p)
		}(i, p)
	}
	wg.Wait()

	status := HealthStatus{
		Status:       StatusHealthy,
		Timestamp:    time.Now(),
		Version:      h.version,
		Dependencies: make(map[string]DependencyStatus, len(results)),
	}
	for i, dep := range results {
		status.Dependencies[h.probes[i].Name] = dep
		status.Status = worse(status.Status, dep)
	}
	return status
}

func runProbe(ctx context.Context, p Probe) DependencyStatus {
	start := time.Now()
	err := p.Check(ctx)
	dep := DependencyStatus{
		Status:    StatusHealthy,
		Required:  p.Required,
		Latency:   time.Since(start),
		Timestamp: start,
	}

	var degraded Degraded
	switch {
	case err == nil:
	case errors.As(err, &degraded):
		dep.Status = StatusDegraded
		dep.Message = degraded.Error()
	default:
		dep.Status = StatusUnhealthy
		dep.Message = err.Error()
	}
	return dep
}

func worse(overall string, dep DependencyStatus) string {
	switch {
	case overall == StatusUnhealthy:
		return overall
	case dep.Status == StatusUnhealthy && dep.Required:
		return StatusUnhealthy
	case dep.Status != StatusHealthy:
		return StatusDegraded
	}
	return overall
}

// Failing lists the names of probes not reporting healthy, sorted.
func (s HealthStatus) Failing() []string {
	var names []string
	for name, dep := range s.Dependencies {
		if dep.Status != StatusHealthy {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Liveness answers 200 while the process can serve requests at all.
func (h *HealthChecker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, HealthStatus{Status: StatusHealthy, Timestamp: time.Now(), Version: h.version})
}

// Readiness answers 503 when a required dependency is down.
func (h *HealthChecker) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	status := h.Check(ctx)
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
		FromContext(r.Context()).WithField("failing", status.Failing()).Warn("readiness check failed")
	}
	writeHealth(w, code, status)
}

func writeHealth(w http.ResponseWriter, code int, status HealthStatus) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// RegisterHealthRoutes mounts /health, /health/live and /health/ready.
func RegisterHealthRoutes(serveMux *http.ServeMux, checker *HealthChecker) {
	serveMux.HandleFunc("/health", checker.Readiness)
	serveMux.HandleFunc("/health/live", checker.Liveness)
	serveMux.HandleFunc("/health/ready", checker.Readiness)
}
