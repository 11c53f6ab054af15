// Package main is the entrypoint for the Tally API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/cache"
	"github.com/tallyhq/tally/internal/config"
	"github.com/tallyhq/tally/internal/handler"
	"github.com/tallyhq/tally/internal/metrics"
	"github.com/tallyhq/tally/internal/repository"
	"github.com/tallyhq/tally/internal/server"
	"github.com/tallyhq/tally/internal/service"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	// Open also applies pending migrations.
	store, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		logger.Error(
			"failed to open database",
			slog.String("driver", cfg.DatabaseDriver),
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database", slog.String("driver", cfg.DatabaseDriver))

	var cacheClient *cache.Cache
	if cfg.RedisURL != "" {
		cacheClient, err = cache.New(ctx, cfg.RedisURL, cfg.RedisKeyPrefix)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			_ = store.Close()
			os.Exit(1)
		}
		logger.Info("connected to Redis")
	} else {
		logger.Warn("REDIS_URL not set, rate limiting disabled")
	}

	hasher, err := auth.NewHasher(cfg.PasswordParams(), cfg.HashWorkers())
	if err != nil {
		logger.Error("invalid password hash settings", slog.String("error", err.Error()))
		os.Exit(1)
	}

	recorder := metrics.NewInMemory()
	svc := service.New(store, hasher,
		service.WithLogger(logger),
		service.WithMetrics(recorder),
		service.WithRetryAttempts(cfg.StoreRetryAttempts),
		service.WithKeyEnvironment(cfg.APIKeyEnv),
		service.WithPageSize(cfg.PageSize),
	)

	routerCfg := handler.RouterConfig{
		Service:            svc,
		Metrics:            recorder,
		Logger:             logger,
		MaxRequestBodySize: cfg.MaxRequestBodySize,
		IsDevelopment:      cfg.IsDevelopment(),
		TrustProxy:         cfg.TrustProxy,
	}
	if cfg.RateLimitAPIEnabled {
		routerCfg.APIBucket = cache.PerMinute("apikey", cfg.RateLimitAPIPerMinute, cfg.RateLimitAPIBurst)
	}
	if cfg.RateLimitAuthEnabled {
		routerCfg.CredentialBucket = cache.PerMinute("credentials", cfg.RateLimitAuthPerMinute, cfg.RateLimitAuthBurst)
	}
	if cacheClient != nil {
		routerCfg.Limiter = cacheClient
		routerCfg.Health = handler.NewHealthHandler(cfg.DatabaseDriver, store, cacheClient)
	} else {
		routerCfg.Health = handler.NewHealthHandler(cfg.DatabaseDriver, store, nil)
	}

	srv := server.New(handler.NewRouter(routerCfg), server.Config{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// LIFO: Redis closes before the database.
	srv.OnShutdown("database", func(ctx context.Context) error {
		return store.Close()
	})
	if cacheClient != nil {
		srv.OnShutdown("redis", func(ctx context.Context) error {
			return cacheClient.Close()
		})
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"key_env", cfg.APIKeyEnv,
		"hash_algorithm", cfg.PasswordHashAlgorithm,
	)

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With(slog.String("service", "tally"))
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s&]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Scheme == "" {
		// SQLite paths carry no credentials but may carry query secrets.
		return passwordPattern.ReplaceAllString(raw, "password=redacted")
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return passwordPattern.ReplaceAllString(parsed.String(), "password=redacted")
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
