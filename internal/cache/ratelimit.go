package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// Bucket describes one token bucket family.
type Bucket struct {
	// Name separates bucket families in the key space, e.g. "apikey".
	Name string
	// Rate is the refill rate in tokens per second.
	Rate float64
	// Burst is the bucket capacity.
	Burst int
}

// PerMinute builds a bucket refilled at perMinute tokens per minute.
func PerMinute(name string, perMinute, burst int) Bucket {
	return Bucket{Name: name, Rate: float64(perMinute) / 60, Burst: burst}
}

// PerSecond builds a bucket refilled at perSecond tokens per second.
func PerSecond(name string, perSecond, burst int) Bucket {
	return Bucket{Name: name, Rate: float64(perSecond), Burst: burst}
}

// ttl keeps idle buckets around until they would be full again.
func (b Bucket) ttl() int {
	if b.Rate <= 0 {
		return 60
	}
	seconds := int(math.Ceil(float64(b.Burst)/b.Rate)) + 1
	return max(seconds, 1)
}

// RateLimitResult contains the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// tokenBucketScript refills and consumes a bucket in one atomic step.
var tokenBucketScript = redis.NewScript(`
	local key = KEYS[1]
	local rate = tonumber(ARGV[1])
	local burst = tonumber(ARGV[2])
	local now = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local data = redis.call('HMGET', key, 'tokens', 'last_update')
	local tokens = tonumber(data[1]) or burst
	local last_update = tonumber(data[2]) or now

	local elapsed = math.max(0, now - last_update)
	tokens = math.min(burst, tokens + (elapsed * rate))

	local allowed = 0
	local retry_after = 0

	if tokens >= 1 then
		tokens = tokens - 1
		allowed = 1
	else
		retry_after = math.ceil(((1 - tokens) / rate) * 1000)
	end

	redis.call('HSET', key, 'tokens', tokens, 'last_update', now)
	redis.call('EXPIRE', key, ttl)

	return {allowed, retry_after, math.floor(tokens)}
`)

// Allow takes one token from bucket for subject.
// Subjects are hashed before they reach Redis, so raw API keys and client
// addresses are never stored. A Rate of zero disables the bucket.
func (c *Cache) Allow(ctx context.Context, bucket Bucket, subject string) (*RateLimitResult, error) {
	now := time.Now()
	if bucket.Rate <= 0 {
		return &RateLimitResult{
			Allowed:   true,
			Limit:     bucket.Burst,
			Remaining: int64(bucket.Burst),
			ResetAt:   now,
		}, nil
	}

	key := c.key("ratelimit", bucket.Name, hashSubject(subject))
	nowSeconds := float64(now.UnixMicro()) / 1e6

	result, err := tokenBucketScript.Run(ctx, c.client,
		[]string{key},
		bucket.Rate, bucket.Burst, nowSeconds, bucket.ttl(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("rate limit %s: %w", bucket.Name, err)
	}
	if len(result) != 3 {
		return nil, fmt.Errorf("rate limit %s: unexpected script reply of %d values", bucket.Name, len(result))
	}

	retryAfter := time.Duration(result[1]) * time.Millisecond
	remaining := result[2]
	missing := float64(bucket.Burst) - float64(remaining)

	return &RateLimitResult{
		Allowed:    result[0] == 1,
		Limit:      bucket.Burst,
		Remaining:  remaining,
		ResetAt:    now.Add(time.Duration(missing / bucket.Rate * float64(time.Second))),
		RetryAfter: retryAfter,
	}, nil
}

// hashSubject returns a truncated SHA-256 of subject.
func hashSubject(subject string) string {
	hash := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(hash[:8])
}
