package middleware

import (
	"context"
	"log"
	"time"

	"github.com/ocx/crm-automation/internal/infra"
)

// Limiter is what the HTTP surface needs from a rate limiter. Both the
// in-memory RateLimiter and RedisRateLimiter satisfy it.
type Limiter interface {
	Allow(key string) bool
}

// RedisRateLimiter enforces the same per-tenant budget as RateLimiter but
// keeps its counters in Redis, so the budget survives process restarts and
// is shared when the API runs behind more than one replica.
//
// Fixed-window: one counter per (key, clock minute), expired by TTL. Unlike
// the in-memory limiter, whose window opens at a key's first request, these
// windows align to clock minutes; a shared store beats per-replica precision
// for a per-tenant budget.
type RedisRateLimiter struct {
	redis    *infra.GoRedisAdapter
	defaults RateLimitConfig
	logger   *log.Logger
}

// NewRedisRateLimiter creates a Redis-backed rate limiter.
func NewRedisRateLimiter(redis *infra.GoRedisAdapter, cfg RateLimitConfig) *RedisRateLimiter {
	if cfg.MaxCallsPerMinute == 0 {
		cfg.MaxCallsPerMinute = 60
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = cfg.MaxCallsPerMinute * 2
	}
	return &RedisRateLimiter{
		redis:    redis,
		defaults: cfg,
		logger:   log.New(log.Writer(), "[RATE-LIMIT] ", log.LstdFlags),
	}
}

// Allow checks whether a request under key fits the current minute's
// budget. A Redis failure allows the request — the limiter protects
// capacity, it must not become an outage amplifier.
func (rl *RedisRateLimiter) Allow(key string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	window := time.Now().Unix() / 60
	redisKey := "ratelimit:" + key + ":" + time.Unix(window*60, 0).UTC().Format("1504")

	count, err := rl.redis.IncrWithTTL(ctx, redisKey, 2*time.Minute)
	if err != nil {
		rl.logger.Printf("⚠️ Redis rate limit check failed, allowing request: %v", err)
		return true
	}

	if count > int64(rl.defaults.BurstSize) {
		rl.logger.Printf("🚫 Rate limit exceeded (burst): key=%s count=%d limit=%d",
			key, count, rl.defaults.BurstSize)
		return false
	}
	if count > int64(rl.defaults.MaxCallsPerMinute) {
		rl.logger.Printf("⚠️ Rate limit exceeded: key=%s count=%d limit=%d",
			key, count, rl.defaults.MaxCallsPerMinute)
		return false
	}
	return true
}

var _ Limiter = (*RedisRateLimiter)(nil)
var _ Limiter = (*RateLimiter)(nil)
