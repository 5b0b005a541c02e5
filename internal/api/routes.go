package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gorilla/mux/otelmux"

	"edgelimit/internal/models"
)

// RouteOption configures optional route behavior.
type RouteOption func(*routeOptions)

type routeOptions struct {
	otelService string
	proxy       http.Handler
	guard       func(http.Handler) http.Handler
}

// WithOTelMiddleware adds OpenTelemetry HTTP instrumentation. Health probes
// are not traced.
func WithOTelMiddleware(serviceName string) RouteOption {
	return func(o *routeOptions) {
		o.otelService = serviceName
	}
}

// WithProxy forwards every request not matched by the API to upstream.
func WithProxy(upstream http.Handler) RouteOption {
	return func(o *routeOptions) {
		o.proxy = upstream
	}
}

// WithRateLimiter places middleware (normally ratelimit.Guard.Middleware) in
// front of proxied traffic. The API and health endpoints are not limited.
func WithRateLimiter(middleware func(http.Handler) http.Handler) RouteOption {
	return func(o *routeOptions) {
		o.guard = middleware
	}
}

// SetupRoutes configures the HTTP routes for the API.
func SetupRoutes(handlers *Handlers, config *models.Config, opts ...RouteOption) *mux.Router {
	var o routeOptions
	for _, opt := range opts {
		opt(&o)
	}

	router := mux.NewRouter()

	if o.otelService != "" {
		router.Use(otelmux.Middleware(o.otelService,
			otelmux.WithFilter(func(r *http.Request) bool {
				return r.URL.Path != "/health" && r.URL.Path != "/api/v1/health"
			}),
		))
	}

	router.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", handlers.HealthCheck).Methods(http.MethodGet)
	api.HandleFunc("/check", handlers.Check).Methods(http.MethodPost)
	api.HandleFunc("/check", methodNotAllowedHandler)
	api.HandleFunc("/buckets/{id}", handlers.PeekBucket).Methods(http.MethodGet)
	api.HandleFunc("/buckets/{id}", methodNotAllowedHandler)
	api.NotFoundHandler = requestIDMiddleware(http.HandlerFunc(notFoundHandler))

	if o.proxy != nil && config.Proxy.Upstream != "" {
		upstream := o.proxy
		if o.guard != nil && config.RateLimit.Enabled {
			upstream = o.guard(upstream)
		}
		router.PathPrefix("/").Handler(upstream)
	}

	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware)
	router.Use(recoveryMiddleware)

	router.NotFoundHandler = requestIDMiddleware(http.HandlerFunc(notFoundHandler))
	router.MethodNotAllowedHandler = requestIDMiddleware(http.HandlerFunc(methodNotAllowedHandler))

	return router
}

func notFoundHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, models.ErrorCodeNotFound, "Not found")
}

func methodNotAllowedHandler(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, models.ErrorCodeInvalidRequest, "Method not allowed")
}
