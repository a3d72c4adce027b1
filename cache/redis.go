package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	defaultRedisPrefix = "cache:"
	scanCount          = 100
)

// RedisClient is the subset of go-redis commands used by RedisEngine.
// *redis.Client and *redis.ClusterClient satisfy it.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// RedisEngine stores entries as Redis strings under a key prefix and lets
// Redis expire them.
type RedisEngine struct {
	client     RedisClient
	prefix     string
	defaultTTL time.Duration
}

// NewRedisEngine creates a Redis-backed engine. An empty prefix selects "cache:".
func NewRedisEngine(client RedisClient, prefix string, defaultTTL time.Duration) *RedisEngine {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisEngine{client: client, prefix: prefix, defaultTTL: defaultTTL}
}

// DefaultTTL implements DefaultTTLReporter.
func (r *RedisEngine) DefaultTTL() time.Duration {
	return r.defaultTTL
}

func (r *RedisEngine) key(k string) string {
	return r.prefix + k
}

// Get implements Engine.
func (r *RedisEngine) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		log.Error().Err(err).Str("key", key).Msg("redis cache get failed")
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, true, nil
}

// Set implements Engine.
func (r *RedisEngine) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = r.defaultTTL
	}
	if ttl < 0 {
		// go-redis reads a negative expiration as KEEPTTL
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		log.Error().Err(err).Str("key", key).Msg("redis cache set failed")
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Has implements Engine.
func (r *RedisEngine) Has(ctx context.Context, key string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Delete implements Engine.
func (r *RedisEngine) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Keys implements Engine using SCAN over the prefix.
func (r *RedisEngine) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := r.scan(ctx, func(page []string) error {
		for _, k := range page {
			keys = append(keys, strings.TrimPrefix(k, r.prefix))
		}
		return nil
	})
	return keys, err
}

// Clear implements Engine. Only keys under the engine's prefix are removed.
func (r *RedisEngine) Clear(ctx context.Context) error {
	removed := 0
	err := r.scan(ctx, func(page []string) error {
		if len(page) == 0 {
			return nil
		}
		if err := r.client.Del(ctx, page...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		removed += len(page)
		return nil
	})
	log.Debug().Str("prefix", r.prefix).Int("removed", removed).Msg("redis cache cleared")
	return err
}

func (r *RedisEngine) scan(ctx context.Context, fn func(page []string) error) error {
	match := escapeGlob(r.prefix) + "*"
	var cursor uint64
	for {
		page, next, err := r.client.Scan(ctx, cursor, match, scanCount).Result()
		if err != nil {
			return fmt.Errorf("redis scan %s: %w", match, err)
		}
		if err := fn(page); err != nil {
			return err
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close implements Engine. The client is owned by the caller and stays open.
func (r *RedisEngine) Close() error {
	return nil
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}

var _ Engine = (*RedisEngine)(nil)
