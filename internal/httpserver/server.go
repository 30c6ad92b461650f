// Package httpserver exposes the transaction registry over a small JSON API.
// The registry itself is the library surface; this server is a thin edge for
// deployments that want it hosted.
package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/oliverpay/txregistry/internal/config"
	"github.com/oliverpay/txregistry/internal/logger"
	"github.com/oliverpay/txregistry/internal/metrics"
	"github.com/oliverpay/txregistry/internal/registry"
)

// Server wires handlers, middleware, and dependencies.
type Server struct {
	handlers
	httpServer *http.Server
}

type handlers struct {
	cfg      *config.Config
	registry *registry.Registry
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New builds the HTTP server with the configured router.
func New(cfg *config.Config, reg *registry.Registry, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) *Server {
	router := chi.NewRouter()

	s := &Server{
		handlers: handlers{
			cfg:      cfg,
			registry: reg,
			metrics:  metricsCollector,
			logger:   appLogger,
		},
		httpServer: &http.Server{
			Addr:         cfg.Server.Address,
			ReadTimeout:  cfg.Server.ReadTimeout.Duration,
			WriteTimeout: cfg.Server.WriteTimeout.Duration,
			IdleTimeout:  cfg.Server.IdleTimeout.Duration,
			Handler:      router,
		},
	}

	ConfigureRouter(router, cfg, reg, metricsCollector, appLogger)
	return s
}

// ConfigureRouter attaches registry routes to an existing router.
func ConfigureRouter(router chi.Router, cfg *config.Config, reg *registry.Registry, metricsCollector *metrics.Metrics, appLogger zerolog.Logger) {
	if router == nil {
		return
	}

	handler := handlers{
		cfg:      cfg,
		registry: reg,
		metrics:  metricsCollector,
		logger:   appLogger,
	}

	if len(cfg.Server.CORSAllowedOrigins) > 0 {
		router.Use(cors.New(cors.Options{
			AllowedOrigins:   cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			AllowCredentials: false,
			MaxAge:           300,
		}).Handler)
	}

	router.Use(securityHeadersMiddleware)
	router.Use(logger.Middleware(appLogger))
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	if cfg.RateLimit.Enabled {
		router.Use(rateLimitMiddleware(cfg.RateLimit, metricsCollector))
	}

	prefix := cfg.Server.RoutePrefix

	// Lightweight endpoints with a short timeout.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(5 * time.Second))
		r.Get(prefix+"/healthz", handler.health)
		r.Handle(prefix+"/metrics", promhttp.Handler())
	})

	// Registry endpoints share the store statement timeout budget.
	router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post(prefix+"/transactions", handler.createTransaction)
		r.Get(prefix+"/transactions", handler.queryTransactions)
		r.Get(prefix+"/transactions/stats", handler.transactionStats)
		r.Get(prefix+"/transactions/{transactionID}", handler.getTransaction)
		r.Patch(prefix+"/transactions/{transactionID}", handler.updateTransaction)
		r.Delete(prefix+"/transactions/{transactionID}", handler.deleteTransaction)
	})
}

// rateLimitMiddleware applies a per-IP request budget.
func rateLimitMiddleware(cfg config.RateLimitConfig, m *metrics.Metrics) func(http.Handler) http.Handler {
	return httprate.Limit(
		cfg.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if m != nil {
				m.ObserveRateLimit("per_ip")
			}
			writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
		}),
	)
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
