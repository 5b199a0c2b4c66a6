package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrExpireScript atomically increments a counter and sets its expiry on
// first use, giving a fixed-window rate limit in one round trip.
var incrExpireScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return current
`)

// RateLimiter implements fixed-window counting on Redis. It is fail-open:
// a Redis error allows the request rather than blocking job submission on
// limiter availability.
type RateLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

// NewRateLimiter creates a limiter allowing limit events per window.
func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{rdb: rdb, limit: limit, window: window}
}

// RateLimitDecision reports the outcome of one Allow call.
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Allow counts one event against the key's current window and reports
// whether it is within the limit.
func (l *RateLimiter) Allow(ctx context.Context, key string) RateLimitDecision {
	fullKey := "rate-limit:" + key

	countI, err := incrExpireScript.Run(ctx, l.rdb, []string{fullKey}, l.window.Milliseconds()).Result()
	if err != nil {
		return RateLimitDecision{Allowed: true, Limit: l.limit, Remaining: l.limit}
	}
	count, _ := countI.(int64)

	decision := RateLimitDecision{
		Allowed:   int(count) <= l.limit,
		Limit:     l.limit,
		Remaining: l.limit - int(count),
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	if !decision.Allowed {
		if ttl, err := l.rdb.TTL(ctx, fullKey).Result(); err == nil && ttl > 0 {
			decision.RetryAfter = ttl
		}
	}
	return decision
}
