// Package service provides business logic for the application.
//
// Every operation that touches a user's data takes the caller's plaintext
// API key, resolves it through the authentication gate and acts only on
// behalf of the resulting identity.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/metrics"
	"github.com/tallyhq/tally/internal/model"
	"github.com/tallyhq/tally/internal/repository"
	"github.com/tallyhq/tally/internal/retry"
	"github.com/tallyhq/tally/internal/tenant"
)

// Service errors.
var (
	ErrDuplicateEmail   = errors.New("email already registered")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrWeakPassword    = auth.ErrWeakPassword
	ErrUnauthenticated = auth.ErrUnauthenticated
	ErrInvalidArgument = model.ErrInvalidArgument
)

// Service implements account and expense operations.
type Service struct {
	users    repository.UserRepository
	expenses *tenant.Store
	gate     *auth.Gate
	hasher   *auth.Hasher
	issuer   *auth.Issuer
	retry    retry.Policy
	metrics  metrics.Recorder
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Service.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	metrics  metrics.Recorder
	attempts int
	keyEnv   string
	pageSize int
	now      func() time.Time
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(recorder metrics.Recorder) Option {
	return func(o *options) { o.metrics = recorder }
}

// WithRetryAttempts sets how many times a transiently failing store call
// is tried before ErrStoreUnavailable is returned.
func WithRetryAttempts(n int) Option {
	return func(o *options) { o.attempts = n }
}

// WithKeyEnvironment selects the "live" or "test" key prefix.
func WithKeyEnvironment(env string) Option {
	return func(o *options) { o.keyEnv = env }
}

// WithPageSize sets the page size used when streaming expenses.
func WithPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a Service over store using hasher for passwords.
func New(store repository.Store, hasher *auth.Hasher, opts ...Option) *Service {
	o := options{
		logger:   slog.Default(),
		metrics:  metrics.NewNoop(),
		attempts: retry.DefaultAttempts,
		keyEnv:   auth.EnvLive,
		pageSize: tenant.DefaultPageSize,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Service{
		users:    store,
		expenses: tenant.New(store, tenant.WithPageSize(o.pageSize), tenant.WithClock(o.now)),
		gate:     auth.NewGate(store, o.logger),
		hasher:   hasher,
		issuer:   auth.NewIssuer(o.keyEnv, store),
		metrics:  o.metrics,
		logger:   o.logger,
		now:      o.now,
	}

	s.retry = retry.DefaultPolicy(isTransient)
	s.retry.Attempts = o.attempts
	s.retry.OnRetry = func(attempt int, err error) {
		s.metrics.IncStoreRetry()
		s.logger.Warn("retrying store operation",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}
	return s
}

func isTransient(err error) bool {
	return errors.Is(err, repository.ErrUnavailable)
}

// do runs fn under the retry policy.
func (s *Service) do(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, s.retry, fn)
}

// authenticate resolves apiKey to an identity, retrying store outages.
func (s *Service) authenticate(ctx context.Context, apiKey string) (auth.Identity, error) {
	id, err := retry.Value(ctx, s.retry, func(ctx context.Context) (auth.Identity, error) {
		return s.gate.Authenticate(ctx, apiKey)
	})
	if err != nil {
		if errors.Is(err, auth.ErrUnauthenticated) {
			s.metrics.IncAuthentication(metrics.StatusFailure)
		}
		return auth.Identity{}, s.mapError(ctx, "authenticate", err)
	}
	s.metrics.IncAuthentication(metrics.StatusSuccess)
	return id, nil
}

// newCredential hashes password with the current parameters.
func (s *Service) newCredential(ctx context.Context, password string) (model.PasswordCredential, error) {
	start := time.Now()
	cred, err := s.hasher.NewCredential(ctx, password)
	s.metrics.ObservePasswordHash(time.Since(start))
	return cred, err
}

// mapError translates lower-layer errors into service errors.
// Infrastructure details are logged here and not returned to callers.
func (s *Service) mapError(ctx context.Context, op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, auth.ErrUnauthenticated),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, model.ErrInvalidArgument),
		errors.Is(err, ErrDuplicateEmail),
		errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, repository.ErrEmailExists):
		return ErrDuplicateEmail
	case errors.Is(err, repository.ErrUserNotFound):
		// The account behind an authenticated key is gone.
		return ErrUnauthenticated
	case errors.Is(err, repository.ErrExpenseNotFound):
		return ErrNotFound
	case errors.Is(err, repository.ErrInvalidCursor):
		return fmt.Errorf("%w: invalid cursor", ErrInvalidArgument)
	case errors.Is(err, repository.ErrUnavailable):
		s.logger.ErrorContext(ctx, "store unavailable",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return ErrStoreUnavailable
	default:
		s.logger.ErrorContext(ctx, "operation failed",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%s: %w", op, err)
	}
}
