package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/platinummonkey/gallery/pkg/auth"
	"github.com/platinummonkey/gallery/pkg/observability"
)

func newTestLimiter(t *testing.T, limit int64, window time.Duration) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisRateLimiter(client, RateLimitConfig{RequestsPerWindow: limit, WindowDuration: window}, "test"), mr
}

func TestRedisRateLimiter_Allow(t *testing.T) {
	limiter, mr := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		allowed, remaining, err := limiter.Allow(ctx, "user:1")
		if err != nil {
			t.Fatalf("Allow() error = %v", err)
		}
		if !allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if remaining != 3-i {
			t.Errorf("remaining = %d, want %d", remaining, 3-i)
		}
	}

	allowed, remaining, err := limiter.Allow(ctx, "user:1")
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed || remaining != 0 {
		t.Errorf("fourth request allowed=%v remaining=%d, want denied with 0", allowed, remaining)
	}

	// other keys are independent
	if allowed, _, _ := limiter.Allow(ctx, "user:2"); !allowed {
		t.Error("a different key should have its own window")
	}

	if ttl := mr.TTL("test:user:1"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("window ttl = %v, want within (0, 1m]", ttl)
	}

	mr.FastForward(time.Minute + time.Second)
	if allowed, _, _ := limiter.Allow(ctx, "user:1"); !allowed {
		t.Error("the window should reset after it expires")
	}
}

func TestRedisRateLimiter_Reset(t *testing.T) {
	limiter, _ := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	limiter.Allow(ctx, "ip:10.0.0.1")
	if allowed, _, _ := limiter.Allow(ctx, "ip:10.0.0.1"); allowed {
		t.Fatal("second request should be denied")
	}
	if err := limiter.Reset(ctx, "ip:10.0.0.1"); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if allowed, _, _ := limiter.Allow(ctx, "ip:10.0.0.1"); !allowed {
		t.Error("request after reset should be allowed")
	}
}

func TestThrottle(t *testing.T) {
	limiter, _ := newTestLimiter(t, 2, time.Minute)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	handler := Throttle(limiter, nil, metrics)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	send := func(userID int64) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/pictures", nil)
		req = req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UserID: userID, Role: auth.RoleUser}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := send(5); rec.Code != http.StatusCreated {
			t.Fatalf("request %d status = %d, want 201", i, rec.Code)
		}
	}

	rec := send(5)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected a Retry-After header")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	if got := testutil.ToFloat64(metrics.UploadsThrottledTotal); got != 1 {
		t.Errorf("throttled counter = %v, want 1", got)
	}

	if rec := send(6); rec.Code != http.StatusCreated {
		t.Errorf("another user status = %d, want 201", rec.Code)
	}
}

func TestThrottle_FailsOpen(t *testing.T) {
	limiter, mr := newTestLimiter(t, 1, time.Minute)
	mr.Close()

	called := 0
	handler := Throttle(limiter, nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/pictures", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 while redis is down", rec.Code)
		}
	}
	if called != 3 {
		t.Errorf("handler called %d times, want 3", called)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded for", headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, remote: "10.0.0.1:1234", want: "203.0.113.9"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.4"}, remote: "10.0.0.1:1234", want: "198.51.100.4"},
		{name: "remote addr", remote: "192.0.2.1:5555", want: "192.0.2.1"},
		{name: "remote addr without port", remote: "192.0.2.1", want: "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
