// Package retry runs store operations again after transient failures.
package retry

import (
	"context"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

const (
	// DefaultAttempts is the total number of tries, including the first.
	DefaultAttempts = 3

	// JitterPercent is the ±percentage of jitter applied to delays.
	JitterPercent = 20

	defaultBaseDelay = 50 * time.Millisecond
	defaultMaxDelay  = time.Second
)

// Policy describes how often and how patiently an operation is retried.
type Policy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// Retryable reports whether err is worth another attempt.
	// A nil Retryable never retries.
	Retryable func(error) bool
	// OnRetry, if set, is called before each repeated attempt.
	OnRetry func(attempt int, err error)
}

// DefaultPolicy returns a policy retrying errors matched by retryable.
func DefaultPolicy(retryable func(error) bool) Policy {
	return Policy{
		Attempts:  DefaultAttempts,
		BaseDelay: defaultBaseDelay,
		MaxDelay:  defaultMaxDelay,
		Retryable: retryable,
	}
}

// backoff builds exponential backoff with jitter, capped per delay and
// bounded by the attempt count.
func (p Policy) backoff() goretry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	b := goretry.NewExponential(base)
	b = goretry.WithJitterPercent(JitterPercent, b)
	b = goretry.WithCappedDuration(maxDelay, b)
	return goretry.WithMaxRetries(uint64(attempts-1), b)
}

// Do runs fn until it succeeds, returns a non-retryable error, the
// attempts are used up, or ctx is done. The last error from fn is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	attempt := 0
	return goretry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if p.OnRetry != nil && attempt < p.Attempts {
			p.OnRetry(attempt, err)
		}
		return goretry.RetryableError(err)
	})
}

// Value is Do for operations that produce a result.
func Value[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := Do(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
