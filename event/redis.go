package event

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	defaultBlockTimeout   = 5 * time.Second
	defaultQueueKeyPrefix = "events:queue:"
	redisErrorBackoff     = time.Second
)

// RedisClient is the subset of go-redis commands used by RedisBus.
// *redis.Client and *redis.ClusterClient satisfy it.
type RedisClient interface {
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

type redisSubscription struct {
	*subscription
	queueKey string
	cancel   context.CancelFunc
	done     chan struct{}
}

// RedisBus implements Bus on Redis lists: publishers RPUSH JSON events and
// every subscription pops with BLPOP, so events arrive in publish order.
// Subscriptions of a topic compete for its events, so each event is handled
// once across all processes.
type RedisBus struct {
	client       RedisClient
	prefix       string
	blockTimeout time.Duration

	mu     sync.RWMutex
	closed bool
	subs   map[string]*redisSubscription
}

// NewRedisBus creates a Redis-backed bus.
func NewRedisBus(client RedisClient, opts ...BrokerOption) *RedisBus {
	o := applyBrokerOptions(opts)
	return &RedisBus{
		client:       client,
		prefix:       o.queuePrefix,
		blockTimeout: o.blockTimeout,
		subs:         make(map[string]*redisSubscription),
	}
}

func (r *RedisBus) queueKey(topic string) string {
	return r.prefix + topic
}

// Publish implements Bus.
func (r *RedisBus) Publish(ctx context.Context, topic string, events ...Event) error {
	return r.publish(ctx, topic, events, false)
}

// TryPublish implements Bus. A full queue drops the events instead of failing.
func (r *RedisBus) TryPublish(ctx context.Context, topic string, events ...Event) error {
	return r.publish(ctx, topic, events, true)
}

func (r *RedisBus) publish(ctx context.Context, topic string, events []Event, try bool) error {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrClosed
	}
	// the smallest limit requested by a subscriber of the topic wins
	var maxLen int64
	for _, sub := range r.subs {
		if sub.topic == topic && sub.options.MaxQueueSize > 0 {
			if maxLen == 0 || sub.options.MaxQueueSize < maxLen {
				maxLen = sub.options.MaxQueueSize
			}
		}
	}
	r.mu.RUnlock()

	key := r.queueKey(topic)
	if maxLen > 0 {
		n, err := r.client.LLen(ctx, key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			log.Error().Err(err).Str("topic", topic).Str("queue_key", key).Msg("failed to get queue length")
			return fmt.Errorf("checking queue length of %s: %w", key, err)
		}
		if n >= maxLen {
			if try {
				log.Warn().Str("topic", topic).Int64("len", n).Int64("max", maxLen).Msg("redis queue full, dropping events")
				return nil
			}
			return ErrQueueFull
		}
	}

	values := make([]any, 0, len(events))
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encoding event %q: %w", e.Type, err)
		}
		values = append(values, data)
	}
	if len(values) == 0 {
		return nil
	}
	if err := r.client.RPush(ctx, key, values...).Err(); err != nil {
		log.Error().Err(err).Str("topic", topic).Str("queue_key", key).Msg("failed to push events to redis")
		return fmt.Errorf("pushing events to %s: %w", key, err)
	}
	return nil
}

// Subscribe implements Bus.
func (r *RedisBus) Subscribe(_ context.Context, topic string, handler Handler, opts ...Option) (string, error) {
	base, err := newSubscription(topic, handler, opts...)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return "", ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		subscription: base,
		queueKey:     r.queueKey(topic),
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	r.subs[sub.id] = sub
	sub.start()
	go r.listen(ctx, sub)

	log.Debug().Str("subscription_id", sub.id).Str("topic", topic).Str("queue_key", sub.queueKey).Msg("redis subscription created")
	return sub.id, nil
}

// listen pops events until ctx is cancelled and queues them for the handler.
func (r *RedisBus) listen(ctx context.Context, sub *redisSubscription) {
	defer close(sub.done)
	l := log.With().Str("subscription_id", sub.id).Str("queue_key", sub.queueKey).Logger()

	for {
		result, err := r.client.BLPop(ctx, r.blockTimeout, sub.queueKey).Result()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			l.Error().Err(err).Msg("redis BLPOP error")
			select {
			case <-time.After(redisErrorBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}
		// result is [key, value]
		if len(result) != 2 {
			l.Error().Int("result_len", len(result)).Msg("invalid result format from BLPOP")
			continue
		}

		var e Event
		if err := json.Unmarshal([]byte(result[1]), &e); err != nil {
			l.Error().Err(err).Msg("failed to decode event from redis")
			continue
		}
		if _, err := sub.enqueue(ctx, e, false); err != nil {
			l.Warn().Err(err).Str("event", e.Type).Msg("event popped but not delivered")
			return
		}
	}
}

func (r *RedisBus) stop(sub *redisSubscription) {
	sub.cancel()
	<-sub.done
	sub.close()
}

// Unsubscribe implements Bus. Unknown ids are ignored.
func (r *RedisBus) Unsubscribe(_ context.Context, id string) error {
	r.mu.Lock()
	sub, ok := r.subs[id]
	delete(r.subs, id)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	r.stop(sub)
	log.Debug().Str("subscription_id", id).Str("topic", sub.topic).Msg("redis subscription removed")
	return nil
}

// Close implements Bus.
func (r *RedisBus) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	subs := make([]*redisSubscription, 0, len(r.subs))
	for _, sub := range r.subs {
		subs = append(subs, sub)
	}
	r.subs = make(map[string]*redisSubscription)
	r.mu.Unlock()

	for _, sub := range subs {
		r.stop(sub)
	}
	log.Info().Int("subscriptions", len(subs)).Msg("redis bus closed")
	return nil
}

var _ Bus = (*RedisBus)(nil)
