/**
 * @description
 * Redis-backed fixed-window rate limiter used to police client-side status
 * polling. Mobile clients poll the status endpoint in a loop while the payer
 * completes the STK prompt; without a cap, an aggressive client can hammer
 * the database for the whole prompt lifetime.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: Redis client; the limiter runs a small Lua
 *   script so increment and expiry are atomic.
 */

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter consumes one unit of the caller's budget for a scope and
// reports the count within the current window. retryAfterSeconds is only
// meaningful when count exceeds the limit.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int64, retryAfterSeconds int64, err error)
}

// NoopRateLimiter admits everything. Used when Redis is not configured so the
// service degrades to unlimited polling rather than refusing to start.
type NoopRateLimiter struct{}

func (NoopRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int64, int64, error) {
	return 0, 0, nil
}

// RedisPollRateLimiter implements RateLimiter over a shared Redis instance,
// so the cap holds across service replicas.
type RedisPollRateLimiter struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisPollRateLimiter(client redis.UniversalClient, prefix string) *RedisPollRateLimiter {
	if prefix == "" {
		prefix = "fanlipa:rate_limit"
	}
	return &RedisPollRateLimiter{client: client, prefix: prefix}
}

// fixedWindowScript increments the window counter and stamps the expiry on
// first use, returning {current, remaining-ttl-ms} atomically.
var fixedWindowScript = redis.NewScript(`
local current = redis.call('INCR', KEYS[1])
if current == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
return {current, ttl}
`)

func (l *RedisPollRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int64, int64, error) {
	if limit <= 0 || window <= 0 {
		return 0, 0, nil
	}

	key := fmt.Sprintf("%s:%s:%s", l.prefix, scope, subject)
	res, err := fixedWindowScript.Run(ctx, l.client, []string{key}, window.Milliseconds()).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("rate limit script: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("rate limit script returned unexpected shape %T", res)
	}
	count, _ := values[0].(int64)
	ttlMillis, _ := values[1].(int64)

	retryAfter := int64(0)
	if count > int64(limit) && ttlMillis > 0 {
		retryAfter = (ttlMillis + 999) / 1000
	}
	return count, retryAfter, nil
}
