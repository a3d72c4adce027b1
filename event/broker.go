package event

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// BrokerOption configures a Broker and its backend.
type BrokerOption func(*brokerOptions)

type brokerOptions struct {
	redisClient  RedisClient
	blockTimeout time.Duration
	queuePrefix  string
}

func applyBrokerOptions(opts []BrokerOption) brokerOptions {
	o := brokerOptions{
		blockTimeout: defaultBlockTimeout,
		queuePrefix:  defaultQueueKeyPrefix,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithRedisClient selects the Redis backend.
func WithRedisClient(client RedisClient) BrokerOption {
	return func(o *brokerOptions) {
		o.redisClient = client
	}
}

// WithBlockTimeout sets how long a Redis subscriber blocks in BRPOP per call.
func WithBlockTimeout(d time.Duration) BrokerOption {
	return func(o *brokerOptions) {
		if d > 0 {
			o.blockTimeout = d
		}
	}
}

// WithQueuePrefix sets the prefix of the Redis list keys. Defaults to "events:queue:".
func WithQueuePrefix(prefix string) BrokerOption {
	return func(o *brokerOptions) {
		o.queuePrefix = prefix
	}
}

// Broker wraps a Bus so that callers do not depend on the backend in use.
// It is a lifecycle component: Stop closes the backend.
type Broker struct {
	mu   sync.RWMutex
	impl Bus
}

// NewBroker creates a Broker on the memory backend, or on Redis when
// WithRedisClient is given.
func NewBroker(opts ...BrokerOption) *Broker {
	o := applyBrokerOptions(opts)

	var bus Bus
	if o.redisClient != nil {
		log.Info().Msg("initializing broker with redis backend")
		bus = NewRedisBus(o.redisClient, opts...)
	} else {
		log.Info().Msg("initializing broker with memory backend")
		bus = NewMemoryBus()
	}
	return &Broker{impl: bus}
}

func (b *Broker) bus() (Bus, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.impl == nil {
		return nil, ErrClosed
	}
	return b.impl, nil
}

// Publish delegates to the backend.
func (b *Broker) Publish(ctx context.Context, topic string, events ...Event) error {
	bus, err := b.bus()
	if err != nil {
		return err
	}
	return bus.Publish(ctx, topic, events...)
}

// TryPublish delegates to the backend.
func (b *Broker) TryPublish(ctx context.Context, topic string, events ...Event) error {
	bus, err := b.bus()
	if err != nil {
		return err
	}
	return bus.TryPublish(ctx, topic, events...)
}

// Subscribe delegates to the backend.
func (b *Broker) Subscribe(ctx context.Context, topic string, handler Handler, opts ...Option) (string, error) {
	bus, err := b.bus()
	if err != nil {
		return "", err
	}
	return bus.Subscribe(ctx, topic, handler, opts...)
}

// Unsubscribe delegates to the backend.
func (b *Broker) Unsubscribe(ctx context.Context, id string) error {
	bus, err := b.bus()
	if err != nil {
		return err
	}
	return bus.Unsubscribe(ctx, id)
}

// Close closes the backend. Later calls return ErrClosed.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.impl == nil {
		return nil
	}
	err := b.impl.Close()
	b.impl = nil
	return err
}

// Name implements lifecycle.Component.
func (b *Broker) Name() string {
	return "event-broker"
}

// Start implements lifecycle.Component.
func (b *Broker) Start(context.Context) error {
	return nil
}

// Stop implements lifecycle.Component.
func (b *Broker) Stop(context.Context) error {
	return b.Close()
}

var _ Bus = (*Broker)(nil)
