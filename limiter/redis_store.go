package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// tokenBucketScript mirrors bucketState.take on a Redis hash.
// KEYS[1]: bucket key
// ARGV: capacity, tokens per interval, interval us, now us, key ttl ms
// Returns 1 if a token was consumed, 0 otherwise.
const tokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local per_interval = tonumber(ARGV[2])
local interval_us = tonumber(ARGV[3])
local now_us = tonumber(ARGV[4])
local ttl_ms = tonumber(ARGV[5])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_us
end
if tokens > capacity then
	tokens = capacity
end

local elapsed = now_us - last_refill
if elapsed > 0 then
	local added = math.floor(elapsed * per_interval / interval_us)
	if added > 0 then
		if tokens + added >= capacity then
			tokens = capacity
			last_refill = now_us
		else
			tokens = tokens + added
			last_refill = last_refill + math.floor(added * interval_us / per_interval)
		end
	end
end

local allowed = 0
if tokens > 0 then
	tokens = tokens - 1
	allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("PEXPIRE", key, ttl_ms)
return allowed
`

var redisScript = redis.NewScript(tokenBucketScript)

// maxRedisTTL caps the key expiry of buckets that take longer than this to fill.
const maxRedisTTL = 365 * 24 * time.Hour

// RedisStore implements Store on Redis so that buckets are shared between processes.
type RedisStore struct {
	client redis.Scripter
	prefix string
	opts   options
}

// RedisStoreOption configures a RedisStore.
type RedisStoreOption func(*RedisStore)

// WithKeyPrefix sets the prefix of bucket keys. Defaults to "ratelimit:".
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// WithStoreClock sets the clock whose readings are sent to the script.
func WithStoreClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) {
		if now != nil {
			s.opts.now = now
		}
	}
}

// NewRedisStore creates a Redis-backed store. Any go-redis client
// (Client, ClusterClient, Ring) satisfies redis.Scripter.
func NewRedisStore(client redis.Scripter, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: defaultRedisKeyPrefix,
		opts:   defaultOptions(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow implements Store using a Lua script for atomicity.
func (s *RedisStore) Allow(ctx context.Context, key string, b Bucket) (bool, error) {
	if err := b.Validate(); err != nil {
		return false, err
	}

	if b.Interval < time.Microsecond {
		return false, fmt.Errorf("%w: interval %s is below the redis store resolution of 1us", ErrInvalidBucket, b.Interval)
	}

	// keep idle keys until they would be full again, then let Redis drop them
	ttl := b.fillDuration()
	if ttl < maxRedisTTL {
		ttl += time.Second
	} else {
		ttl = maxRedisTTL
	}
	keys := []string{s.prefix + key}
	args := []any{
		b.Capacity,
		b.TokensPerInterval,
		b.Interval.Microseconds(),
		s.opts.now().UnixMicro(),
		ttl.Milliseconds(),
	}

	result, err := redisScript.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("redis token bucket script failed")
		return false, fmt.Errorf("redis command failed for key %s: %w", key, err)
	}

	allowedInt, ok := result.(int64)
	if !ok {
		log.Error().Str("key", key).Interface("result", result).Msg("redis token bucket script returned unexpected type")
		return false, fmt.Errorf("unexpected result type from redis script for key %s: %T", key, result)
	}

	allowed := allowedInt == 1
	if allowed {
		log.Debug().Str("key", key).Msg("redis request allowed")
	} else {
		log.Warn().Str("key", key).Msg("redis rate limit exceeded")
	}
	return allowed, nil
}

var _ Store = (*RedisStore)(nil)
