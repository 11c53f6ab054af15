// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"fmt"
	"runtime"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/repository"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database: "postgres" or "sqlite". For sqlite the URL is a file path
	// or ":memory:".
	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string `env:"DATABASE_URL,required,notEmpty"`

	// Redis is optional; without it requests are not rate limited.
	RedisURL       string `env:"REDIS_URL"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"tally"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts. Writes cover a full password derivation.
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	TrustProxy      bool          `env:"TRUST_PROXY" envDefault:"false"`

	// Rate limiting
	RateLimitAPIEnabled    bool `env:"RATE_LIMIT_API_ENABLED" envDefault:"true"`
	RateLimitAPIPerMinute  int  `env:"RATE_LIMIT_API_PER_MINUTE" envDefault:"120"`
	RateLimitAPIBurst      int  `env:"RATE_LIMIT_API_BURST" envDefault:"30"`
	RateLimitAuthEnabled   bool `env:"RATE_LIMIT_AUTH_ENABLED" envDefault:"true"`
	RateLimitAuthPerMinute int  `env:"RATE_LIMIT_AUTH_PER_MINUTE" envDefault:"10"`
	RateLimitAuthBurst     int  `env:"RATE_LIMIT_AUTH_BURST" envDefault:"5"`

	// Credentials
	APIKeyEnv              string `env:"API_KEY_ENV" envDefault:"live"`
	PasswordHashAlgorithm  string `env:"PASSWORD_HASH_ALGORITHM" envDefault:"pbkdf2-sha256"`
	PasswordHashIterations int    `env:"PASSWORD_HASH_ITERATIONS" envDefault:"600000"`
	// HashConcurrency bounds parallel derivations; 0 means GOMAXPROCS.
	HashConcurrency int `env:"HASH_CONCURRENCY" envDefault:"0"`

	// Storage
	StoreRetryAttempts int `env:"STORE_RETRY_ATTEMPTS" envDefault:"3"`
	PageSize           int `env:"PAGE_SIZE" envDefault:"50"`

	// Request body size limit in bytes (default 1MB)
	MaxRequestBodySize int64 `env:"MAX_REQUEST_BODY_SIZE" envDefault:"1048576"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// PasswordParams returns the derivation parameters for new hashes.
func (c *Config) PasswordParams() auth.Params {
	return auth.Params{Algorithm: c.PasswordHashAlgorithm, Iterations: c.PasswordHashIterations}
}

// HashWorkers returns the effective password hashing concurrency.
func (c *Config) HashWorkers() int {
	if c.HashConcurrency > 0 {
		return c.HashConcurrency
	}
	return runtime.GOMAXPROCS(0)
}

// Validate checks values env tags cannot express.
func (c *Config) Validate() error {
	switch c.DatabaseDriver {
	case repository.DriverPostgres, repository.DriverSQLite:
	default:
		return fmt.Errorf("DATABASE_DRIVER must be %q or %q, got %q",
			repository.DriverPostgres, repository.DriverSQLite, c.DatabaseDriver)
	}
	switch c.APIKeyEnv {
	case auth.EnvLive, auth.EnvTest:
	default:
		return fmt.Errorf("API_KEY_ENV must be %q or %q, got %q", auth.EnvLive, auth.EnvTest, c.APIKeyEnv)
	}
	if err := c.PasswordParams().Validate(); err != nil {
		return fmt.Errorf("password hash settings: %w", err)
	}
	if c.HashConcurrency < 0 {
		return fmt.Errorf("HASH_CONCURRENCY must not be negative")
	}
	if c.StoreRetryAttempts < 1 {
		return fmt.Errorf("STORE_RETRY_ATTEMPTS must be at least 1")
	}
	if c.PageSize < 1 {
		return fmt.Errorf("PAGE_SIZE must be at least 1")
	}
	if c.RateLimitAPIEnabled && (c.RateLimitAPIPerMinute < 1 || c.RateLimitAPIBurst < 1) {
		return fmt.Errorf("API rate limit needs a positive rate and burst")
	}
	if c.RateLimitAuthEnabled && (c.RateLimitAuthPerMinute < 1 || c.RateLimitAuthBurst < 1) {
		return fmt.Errorf("auth rate limit needs a positive rate and burst")
	}
	return nil
}

// Load parses environment variables and returns a validated Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
