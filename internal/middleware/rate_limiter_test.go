package middleware

import (
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocx/crm-automation/internal/infra"
)

func TestRateLimiterAllowsWithinBudget(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 5, BurstSize: 10})
	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("ACME"))
	}
}

func TestRateLimiterDeniesPastBurst(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 2, BurstSize: 4})
	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow("ACME") {
			allowed++
		}
	}
	assert.LessOrEqual(t, allowed, 4)
}

func TestRateLimiterIsolatesTenants(t *testing.T) {
	rl := NewRateLimiter(RateLimitConfig{MaxCallsPerMinute: 2, BurstSize: 2})
	for i := 0; i < 2; i++ {
		assert.True(t, rl.Allow("A"))
	}
	assert.False(t, rl.Allow("A"))
	assert.True(t, rl.Allow("B"))
}

func newMiniredisLimiter(t *testing.T, cfg RateLimitConfig) *RedisRateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisRateLimiter(infra.NewGoRedisAdapterFromClient(rdb), cfg)
}

func TestRedisRateLimiterAllowsWithinBudget(t *testing.T) {
	rl := newMiniredisLimiter(t, RateLimitConfig{MaxCallsPerMinute: 5, BurstSize: 10})
	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("ACME"))
	}
}

func TestRedisRateLimiterDeniesPastBurst(t *testing.T) {
	rl := newMiniredisLimiter(t, RateLimitConfig{MaxCallsPerMinute: 2, BurstSize: 4})
	allowed := 0
	for i := 0; i < 10; i++ {
		if rl.Allow("ACME") {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)
}

func TestRedisRateLimiterIsolatesTenants(t *testing.T) {
	rl := newMiniredisLimiter(t, RateLimitConfig{MaxCallsPerMinute: 2, BurstSize: 2})
	require.True(t, rl.Allow("A"))
	require.True(t, rl.Allow("A"))
	assert.False(t, rl.Allow("A"))
	assert.True(t, rl.Allow("B"))
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rl := NewRedisRateLimiter(infra.NewGoRedisAdapterFromClient(rdb), RateLimitConfig{MaxCallsPerMinute: 1, BurstSize: 1})

	mr.Close()
	rdb.Close()
	// the limiter must not turn a Redis outage into an API outage
	assert.True(t, rl.Allow("ACME"))
}
