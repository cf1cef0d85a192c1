package authz

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisBucketScript runs the token bucket atomically in Redis so multiple
// core instances share one limit per (requester, command) key.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity
// ARGV[3] = now (unix seconds, fractional)
// ARGV[4] = key TTL seconds
var redisBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, ttl)

return allowed
`)

// RedisRateLimiter is a RateLimiter backed by a shared Redis instance.
// On Redis errors it denies: losing a request under an outage is safer
// than letting a runaway client hammer a scan target unmetered.
type RedisRateLimiter struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisRateLimiter connects a limiter to the given Redis address.
func NewRedisRateLimiter(addr, password string, db int) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		timeout: 2 * time.Second,
	}
}

// Allow implements RateLimiter.
func (r *RedisRateLimiter) Allow(key string, limit int, window time.Duration) bool {
	if limit <= 0 {
		return true
	}
	if window <= 0 {
		window = time.Minute
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	refillRate := float64(limit) / window.Seconds()
	now := float64(time.Now().UnixMicro()) / 1e6
	ttl := int(window.Seconds()) * 2

	res, err := redisBucketScript.Run(ctx, r.client,
		[]string{"ratelimit:" + key},
		fmt.Sprintf("%f", refillRate), limit, fmt.Sprintf("%f", now), ttl,
	).Int()
	if err != nil {
		return false
	}
	return res == 1
}

// Close releases the underlying Redis connection.
func (r *RedisRateLimiter) Close() error {
	return r.client.Close()
}
