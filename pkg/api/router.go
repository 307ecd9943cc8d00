// Package api provides HTTP API server components.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/goclaw/clusterctl/config"
	"github.com/goclaw/clusterctl/pkg/api/handlers"
	"github.com/goclaw/clusterctl/pkg/api/middleware"
	"github.com/goclaw/clusterctl/pkg/grpc/interceptors"
	"github.com/goclaw/clusterctl/pkg/logger"
)

// Handlers holds all HTTP handlers.
type Handlers struct {
	// Cluster handles cluster state, leader and trim endpoints
	Cluster *handlers.ClusterHandler

	// Health handles health check endpoints
	Health *handlers.HealthHandler

	// Events streams cluster events over websocket
	Events *handlers.WebSocketHandler

	// Metrics is the optional metrics recorder
	Metrics middleware.MetricsRecorder
}

// NewRouter creates a new chi router with middleware and routes.
func NewRouter(cfg *config.Config, log logger.Logger, handlers *Handlers) chi.Router {
	r := chi.NewRouter()

	// Register global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(log))
	r.Use(middleware.Recovery(log))

	if cfg.Tracing.Enabled {
		r.Use(middleware.Tracing(middleware.DefaultTracingOptions()))
	}

	// Add metrics middleware if provided
	if handlers.Metrics != nil {
		r.Use(middleware.Metrics(handlers.Metrics))
	}

	r.Use(middleware.CORS(&cfg.Server.CORS))

	// The HTTP API honours the gRPC bearer tokens so trimming needs the
	// same admin role on both transports.
	var auth *interceptors.TokenAuthenticator
	if tokens := cfg.Server.GRPC.TokenRoles(); tokens != nil {
		auth = interceptors.NewTokenAuthenticator(tokens)
	}

	// The event stream is long-lived and stays outside the request timeout.
	if handlers.Events != nil {
		r.With(middleware.Auth(auth, interceptors.RoleReader)).Get("/api/v1/events", handlers.Events.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		if cfg.Server.HTTP.HandlerTimeout > 0 {
			r.Use(middleware.Timeout(cfg.Server.HTTP.HandlerTimeout))
		}
		RegisterRoutes(r, handlers, auth)
	})

	return r
}

// RegisterRoutes registers all request/response API routes. A nil auth
// leaves the API open.
func RegisterRoutes(r chi.Router, handlers *Handlers, auth *interceptors.TokenAuthenticator) {
	// API v1 routes
	if handlers.Cluster != nil {
		r.Route("/api/v1", func(r chi.Router) {
			r.Use(middleware.Auth(auth, interceptors.RoleReader))
			r.Get("/cluster/state", handlers.Cluster.GetClusterState)
			r.Get("/partitions/{id}/leader", handlers.Cluster.GetPartitionLeader)
			r.Route("/logs/{id}", func(r chi.Router) {
				r.Get("/trim-point", handlers.Cluster.GetTrimPoint)
				r.With(middleware.Auth(auth, interceptors.RoleAdmin)).Post("/trim", handlers.Cluster.TrimLog)
			})
		})
	}

	// Health check routes (not versioned)
	if handlers.Health != nil {
		r.Get("/health", handlers.Health.Health)
		r.Get("/ready", handlers.Health.Ready)
		r.Get("/status", handlers.Health.Status)
	}
}
