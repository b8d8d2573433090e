// This file contains a redis-backed sliding window rate limiter implementing
// the RateLimiter hook. It is an optional hardening layer for deployments
// exposed to abusive clients; without it, inbound events are not limited.
package chatwire

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateLimiter counts events per key in a sorted-set sliding window.
// The window check and insertion run atomically in a Lua script.
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewRedisRateLimiter creates a limiter allowing limit events per window for
// each key. Keys are namespaced under prefix.
func NewRedisRateLimiter(client *redis.Client, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	if prefix == "" {
		prefix = "chatwire:ratelimit:"
	}
	return &RedisRateLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local window_ms = tonumber(ARGV[4])

	redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)

	local current = redis.call('ZCARD', key)

	if current < limit then
		local counter = redis.call('INCR', key .. ':counter')
		redis.call('ZADD', key, now, now .. ':' .. counter)
		local expire_seconds = math.ceil(window_ms / 1000)
		redis.call('EXPIRE', key, expire_seconds)
		redis.call('EXPIRE', key .. ':counter', expire_seconds)
		return 1
	end

	return 0
`)

// Allow reports whether an event for key fits in the current window.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := time.Now()

	redisKey := l.prefix + key

	result, err := slidingWindowScript.Run(ctx, l.client, []string{redisKey},
		now.UnixMilli(),
		now.Add(-l.window).UnixMilli(),
		l.limit,
		l.window.Milliseconds(),
	).Int64()

	if err != nil {
		return false, wrapF(err, "rate limit check failed for key %s", key)
	}
	return result == 1, nil
}

// Reset clears the window for a key, forgiving prior violations.
func (l *RedisRateLimiter) Reset(key string) {
	redisKey := l.prefix + key

	l.client.Del(context.Background(), redisKey, redisKey+":counter")
}
