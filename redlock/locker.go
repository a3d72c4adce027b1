// Package redlock provides a Redis lock (SET NX with expiry, released by a
// compare-and-delete script) used to serialize work across processes.
package redlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	defaultTTL        = 10 * time.Second
	defaultRetryDelay = 50 * time.Millisecond
	// defaultMaxRetries of zero retries until the context ends.
	defaultMaxRetries = 0
	defaultKeyPrefix  = "lock:"
)

var (
	// ErrNotObtained is returned by TryObtain when the lock is held elsewhere.
	ErrNotObtained = errors.New("redlock: lock not obtained")
	// ErrNotHeld is returned by Release when the lock expired or was taken over.
	ErrNotHeld = errors.New("redlock: lock not held")
	// ErrWaitTimeout is returned by Obtain when the context ends while waiting.
	ErrWaitTimeout = errors.New("redlock: waiting for lock timed out or context cancelled")
	// ErrMaxRetriesExceeded is returned by Obtain after the configured number of retries.
	ErrMaxRetriesExceeded = errors.New("redlock: maximum lock retries exceeded")
)

// releaseScript deletes KEYS[1] only while it still holds ARGV[1].
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Client is the subset of go-redis commands used by Locker.
type Client interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd
}

// Option configures a Locker.
type Option func(*Locker)

// WithTTL sets how long an obtained lock lives unless released. Defaults to 10s.
func WithTTL(ttl time.Duration) Option {
	return func(l *Locker) {
		if ttl > 0 {
			l.ttl = ttl
		}
	}
}

// WithRetryDelay sets the pause between attempts in Obtain. Defaults to 50ms.
func WithRetryDelay(delay time.Duration) Option {
	return func(l *Locker) {
		if delay > 0 {
			l.retryDelay = delay
		}
	}
}

// WithMaxRetries bounds the attempts Obtain makes after the first one.
// Zero retries until the context ends.
func WithMaxRetries(retries int) Option {
	return func(l *Locker) {
		if retries >= 0 {
			l.maxRetries = retries
		}
	}
}

// WithKeyPrefix sets the prefix of lock keys. Defaults to "lock:".
func WithKeyPrefix(prefix string) Option {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

// Locker hands out locks on named resources.
type Locker struct {
	client     Client
	prefix     string
	ttl        time.Duration
	retryDelay time.Duration
	maxRetries int
}

// New creates a Locker.
func New(client Client, opts ...Option) *Locker {
	l := &Locker{
		client:     client,
		prefix:     defaultKeyPrefix,
		ttl:        defaultTTL,
		retryDelay: defaultRetryDelay,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Lock is an obtained lock. It is released by Release or by expiry.
type Lock struct {
	locker *Locker
	key    string
	value  string
}

// Key returns the Redis key of the lock.
func (lk *Lock) Key() string {
	return lk.key
}

// TryObtain makes one attempt to lock resource.
func (l *Locker) TryObtain(ctx context.Context, resource string) (*Lock, error) {
	key := l.prefix + resource
	value := uuid.NewString()

	ok, err := l.client.SetNX(ctx, key, value, l.ttl).Result()
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrWaitTimeout
		}
		log.Error().Err(err).Str("key", key).Msg("failed to execute setnx command")
		return nil, fmt.Errorf("redlock setnx %s: %w", key, err)
	}
	if !ok {
		return nil, ErrNotObtained
	}
	log.Debug().Str("key", key).Dur("ttl", l.ttl).Msg("lock obtained")
	return &Lock{locker: l, key: key, value: value}, nil
}

// Obtain locks resource, retrying every retry delay until it succeeds, ctx
// ends (ErrWaitTimeout) or the retries run out (ErrMaxRetriesExceeded).
func (l *Locker) Obtain(ctx context.Context, resource string) (*Lock, error) {
	lk, err := l.TryObtain(ctx, resource)
	if !errors.Is(err, ErrNotObtained) {
		return lk, err
	}

	ticker := time.NewTicker(l.retryDelay)
	defer ticker.Stop()

	for retries := 1; ; retries++ {
		select {
		case <-ctx.Done():
			log.Warn().Err(ctx.Err()).Str("resource", resource).Int("retries", retries-1).Msg("gave up waiting for lock")
			return nil, ErrWaitTimeout
		case <-ticker.C:
		}

		lk, err := l.TryObtain(ctx, resource)
		if !errors.Is(err, ErrNotObtained) {
			return lk, err
		}
		if l.maxRetries > 0 && retries >= l.maxRetries {
			log.Warn().Str("resource", resource).Int("retries", retries).Msg("maximum lock retries exceeded")
			return nil, ErrMaxRetriesExceeded
		}
	}
}

// Release deletes the lock if this holder still owns it.
func (lk *Lock) Release(ctx context.Context) error {
	res, err := lk.locker.client.Eval(ctx, releaseScript, []string{lk.key}, lk.value).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		log.Error().Err(err).Str("key", lk.key).Msg("failed to execute release script")
		return fmt.Errorf("redlock release %s: %w", lk.key, err)
	}
	if n, ok := res.(int64); ok && n == 1 {
		log.Debug().Str("key", lk.key).Msg("lock released")
		return nil
	}
	log.Warn().Str("key", lk.key).Msg("lock expired or taken over before release")
	return ErrNotHeld
}
