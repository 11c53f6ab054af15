package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/tallyhq/tally/internal/auth"
	"github.com/tallyhq/tally/internal/cache"
)

// Limiter takes one token from a bucket for a subject.
type Limiter interface {
	Allow(ctx context.Context, bucket cache.Bucket, subject string) (*cache.RateLimitResult, error)
}

// RateLimitConfig holds configuration for one rate limiting middleware.
type RateLimitConfig struct {
	Logger *slog.Logger
	// Limiter is optional; when nil the middleware passes every request.
	Limiter Limiter
	Bucket  cache.Bucket
	// Subject picks the bucket owner for a request. Defaults to ByClientIP.
	Subject func(r *http.Request) string
}

// ByAPIKey keys the bucket on a digest of the presented API key, falling
// back to the client address for requests without one.
// The key is not verified here, so the digest only ever names a bucket.
func ByAPIKey(r *http.Request) string {
	if key := APIKeyFromRequest(r); key != "" {
		return "key:" + auth.QuickHash(key)
	}
	return ByClientIP(r)
}

// ByClientIP keys the bucket on the client address.
func ByClientIP(r *http.Request) string {
	return "ip:" + ClientIP(r)
}

// RateLimit returns middleware that throttles requests with a token bucket.
// Limiter errors fail open.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	subject := cfg.Subject
	if subject == nil {
		subject = ByClientIP
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		if cfg.Limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			result, err := cfg.Limiter.Allow(r.Context(), cfg.Bucket, subject(r))
			if err != nil {
				logger.Error("rate limit check failed",
					slog.String("bucket", cfg.Bucket.Name),
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, result)

			if !result.Allowed {
				retryAfter := retryAfterSeconds(result.RetryAfter)
				logger.Warn("rate limit exceeded",
					slog.String("bucket", cfg.Bucket.Name),
					slog.String("ip", ClientIP(r)),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Int("retry_after_seconds", retryAfter),
					slog.String("request_id", GetRequestID(r.Context())),
				)

				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeRateLimitError(w, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, result *cache.RateLimitResult) {
	if result.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(result.Remaining, 10))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

// retryAfterSeconds rounds up so clients never retry early.
func retryAfterSeconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 1)
}

func writeRateLimitError(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	msg := fmt.Sprintf(`{"error":{"code":"RATE_LIMITED","message":"Rate limit exceeded. Retry after %d seconds."}}`, retryAfter)
	_, _ = w.Write([]byte(msg))
}
