package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bitrepository/reference-sub015/internal/middleware"
	"github.com/bitrepository/reference-sub015/pkg/logger"
)

// RouterConfig holds the settings and handlers the router is built from.
type RouterConfig struct {
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	Health     *HealthHandler
	Operations *OperationHandler
	Stream     *StreamHandler
	Alarms     *AlarmHandler
}

// NewRouter creates the API router.
func NewRouter(cfg RouterConfig, log *logger.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", cfg.Health.Health)
	r.Get("/ready", cfg.Health.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RequireScope(middleware.ScopeRead))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Route("/collections/{collectionID}/operations/{operation}", func(r chi.Router) {
			r.Post("/", cfg.Operations.Start)
			r.Post("/stream", cfg.Stream.Stream)
		})

		r.Route("/operations", func(r chi.Router) {
			r.Get("/", cfg.Operations.List)
			r.Get("/{id}", cfg.Operations.Get)
		})

		r.Get("/alarms", cfg.Alarms.List)
	})

	return r
}
