// Package api provides the HTTP API for gioswatch.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/gioswatch/gioswatch/internal/api/handler"
	"github.com/gioswatch/gioswatch/internal/api/middleware"
	"github.com/gioswatch/gioswatch/internal/provider/resilience"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version   string
	BuildTime string
	Logger    zerolog.Logger

	// Metrics records HTTP server metrics. Optional.
	Metrics *middleware.Metrics

	// Session runs every station action.
	Session handler.StationSession

	// Registry reports upstream provider health. Optional.
	Registry *resilience.Registry

	// RateLimits override the default per-IP limits when non-zero.
	StandardRateLimit middleware.RateLimitConfig
	UpstreamRateLimit middleware.RateLimitConfig
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware - order matters
	r.Use(middleware.RequestID) // Generate/propagate request ID first
	r.Use(middleware.Tracing()) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))   // Structured logging
	r.Use(middleware.Recovery(cfg.Logger)) // Panic recovery
	r.Use(chimiddleware.RealIP)            // Real IP extraction
	r.Use(chimiddleware.CleanPath)

	standard := cfg.StandardRateLimit
	if standard.RequestLimit == 0 {
		standard = middleware.StandardRateLimit
	}
	upstream := cfg.UpstreamRateLimit
	if upstream.RequestLimit == 0 {
		upstream = middleware.UpstreamRateLimit
	}

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Registry:  cfg.Registry,
		Session:   cfg.Session,
	})
	stationsHandler := handler.NewStationsHandler(cfg.Session, cfg.Logger)

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.Route("/stations", func(r chi.Router) {
			r.With(middleware.RateLimitByIP(standard)).Get("/", stationsHandler.ListStations)

			// Each of these calls the GIOŚ API at least once.
			r.Route("/{stationId}", func(r chi.Router) {
				r.Use(middleware.RateLimitByIP(upstream))
				r.Get("/sensors", stationsHandler.GetSensors)
				r.Get("/report", stationsHandler.GetReport)
				r.Get("/chart", stationsHandler.GetChart)
			})
		})
	})

	return r
}
