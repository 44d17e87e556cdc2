package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/gallery/pkg/httputil"
	"github.com/platinummonkey/gallery/pkg/observability"
)

// APIPrefix is the path prefix of every JSON route
const APIPrefix = "/api/v1"

// Server is the gallery HTTP API
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// ServerConfig groups the handlers and middleware the server mounts
type ServerConfig struct {
	Logger  *observability.Logger
	Metrics *observability.Metrics

	// Authenticate resolves the caller's identity; nil leaves every request
	// anonymous
	Authenticate func(http.Handler) http.Handler

	Spaces   *SpaceHandlers
	Pictures *PictureHandlers
	Auth     *AuthHandlers

	// Collab serves the collaborative-edit WebSocket handshake
	Collab http.Handler

	// Tracing wraps the router with otelhttp instrumentation
	Tracing bool
}

// NewServer creates the API server and registers its routes
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	router := mux.NewRouter()
	jsonErrors(router)

	router.Use(httputil.RequestIDMiddleware)
	router.Use(httputil.LoggingMiddleware(logger))
	router.Use(httputil.RecoveryMiddleware(logger))
	if cfg.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(cfg.Metrics))
	}
	if cfg.Authenticate != nil {
		router.Use(cfg.Authenticate)
	}

	v1 := router.PathPrefix(APIPrefix).Subrouter()
	jsonErrors(v1)
	if cfg.Auth != nil {
		cfg.Auth.RegisterRoutes(v1)
	}
	if cfg.Spaces != nil {
		cfg.Spaces.RegisterRoutes(v1)
	}
	if cfg.Pictures != nil {
		cfg.Pictures.RegisterRoutes(v1)
	}

	if cfg.Collab != nil {
		router.Handle("/ws/picture/edit", cfg.Collab).Methods("GET")
	}

	var handler http.Handler = router
	if cfg.Tracing {
		router.Use(routeSpanName)
		handler = otelhttp.NewHandler(router, "gallery",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "HTTP " + r.Method
			}),
		)
	}

	return &Server{router: router, handler: handler}
}

var (
	routeNotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "route not found")
	})
	methodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
)

// jsonErrors answers unmatched paths and methods with JSON errors. mux only
// consults the router whose routes were tried, so every prefixed subrouter
// needs its own.
func jsonErrors(r *mux.Router) {
	r.NotFoundHandler = routeNotFound
	r.MethodNotAllowedHandler = methodNotAllowed
}

// routeSpanName renames the server span after mux has matched a route, so
// spans are named by path template instead of raw path
func routeSpanName(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				trace.SpanFromContext(r.Context()).SetName(r.Method + " " + tpl)
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Router exposes the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
