package handler

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tallyhq/tally/internal/cache"
	"github.com/tallyhq/tally/internal/metrics"
	"github.com/tallyhq/tally/internal/middleware"
	"github.com/tallyhq/tally/internal/service"
)

// RouterConfig wires the HTTP surface.
type RouterConfig struct {
	Service *service.Service
	Health  *HealthHandler
	Metrics metrics.Snapshotter
	Logger  *slog.Logger

	// Limiter is optional; without it no request is throttled.
	Limiter middleware.Limiter
	// APIBucket throttles authenticated calls per presented key.
	APIBucket cache.Bucket
	// CredentialBucket throttles register and recover per client address.
	CredentialBucket cache.Bucket

	MaxRequestBodySize int64
	IsDevelopment      bool
	// TrustProxy honours X-Forwarded-For and X-Real-IP.
	TrustProxy bool
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	accounts := NewAccountHandler(cfg.Service, logger)
	expenses := NewExpenseHandler(cfg.Service, logger)

	r := chi.NewRouter()

	if cfg.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment}))
	r.Use(middleware.MaxBodySize(cfg.MaxRequestBodySize))

	if cfg.Health != nil {
		r.Get("/healthz", cfg.Health.Healthz)
		r.Get("/readyz", cfg.Health.Readyz)
	}
	if cfg.Metrics != nil {
		r.Get("/metrics", NewMetricsHandler(cfg.Metrics).Metrics)
	}

	credentialLimit := middleware.RateLimit(middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: cfg.Limiter,
		Bucket:  cfg.CredentialBucket,
		Subject: middleware.ByClientIP,
	})
	apiLimit := middleware.RateLimit(middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: cfg.Limiter,
		Bucket:  cfg.APIBucket,
		Subject: middleware.ByAPIKey,
	})

	r.Route("/v1", func(r chi.Router) {
		r.Get("/categories", expenses.Categories)

		// Password based; no API key involved.
		r.Group(func(r chi.Router) {
			r.Use(credentialLimit)
			r.Post("/register", accounts.Register)
			r.Post("/api-key/recover", accounts.RecoverAPIKey)
		})

		// Every handler below authenticates the presented key itself.
		r.Group(func(r chi.Router) {
			r.Use(apiLimit)

			r.Route("/account", func(r chi.Router) {
				r.Get("/", accounts.Get)
				r.Delete("/", accounts.Delete)
				r.Post("/api-key", accounts.RegenerateAPIKey)
				r.Put("/password", accounts.ChangePassword)
			})

			r.Route("/expenses", func(r chi.Router) {
				r.Get("/", expenses.List)
				r.Post("/", expenses.Create)
				r.Get("/summary", expenses.Summary)
				r.Delete("/{id}", expenses.Delete)
			})
		})
	})

	r.NotFound(NotFound)
	r.MethodNotAllowed(MethodNotAllowed)

	return r
}
