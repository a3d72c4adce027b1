package event

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// MemoryBus implements Bus inside the process. Each subscription has its own
// queue so a slow handler only delays its own events.
type MemoryBus struct {
	mu     sync.RWMutex
	closed bool
	topics map[string]map[string]*subscription // topic -> id -> subscription
	subs   map[string]*subscription            // id -> subscription
}

// NewMemoryBus creates an in-memory bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		topics: make(map[string]map[string]*subscription),
		subs:   make(map[string]*subscription),
	}
}

// Publish implements Bus.
func (m *MemoryBus) Publish(ctx context.Context, topic string, events ...Event) error {
	return m.publish(ctx, topic, events, false)
}

// TryPublish implements Bus.
func (m *MemoryBus) TryPublish(ctx context.Context, topic string, events ...Event) error {
	return m.publish(ctx, topic, events, true)
}

func (m *MemoryBus) publish(ctx context.Context, topic string, events []Event, try bool) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	targets := make([]*subscription, 0, len(m.topics[topic]))
	for _, sub := range m.topics[topic] {
		targets = append(targets, sub)
	}
	m.mu.RUnlock()

	if len(targets) == 0 {
		return nil
	}

	for _, e := range events {
		for _, sub := range targets {
			if _, err := sub.enqueue(ctx, e, try); err != nil {
				if errors.Is(err, ErrClosed) {
					// unsubscribed concurrently
					continue
				}
				log.Warn().Err(err).Str("topic", topic).Str("subscription_id", sub.id).Msg("failed to publish event")
				return fmt.Errorf("publishing to topic %q: %w", topic, err)
			}
		}
	}
	return nil
}

// Subscribe implements Bus.
func (m *MemoryBus) Subscribe(_ context.Context, topic string, handler Handler, opts ...Option) (string, error) {
	sub, err := newSubscription(topic, handler, opts...)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}
	if m.topics[topic] == nil {
		m.topics[topic] = make(map[string]*subscription)
	}
	m.topics[topic][sub.id] = sub
	m.subs[sub.id] = sub
	sub.start()

	log.Debug().Str("topic", topic).Str("subscription_id", sub.id).Msg("subscription added")
	return sub.id, nil
}

// Unsubscribe implements Bus. Unknown ids are ignored.
func (m *MemoryBus) Unsubscribe(_ context.Context, id string) error {
	m.mu.Lock()
	sub, ok := m.subs[id]
	if ok {
		delete(m.subs, id)
		delete(m.topics[sub.topic], id)
		if len(m.topics[sub.topic]) == 0 {
			delete(m.topics, sub.topic)
		}
	}
	m.mu.Unlock()

	if !ok {
		log.Warn().Str("subscription_id", id).Msg("attempted to remove non-existent subscription")
		return nil
	}
	sub.close()
	log.Debug().Str("topic", sub.topic).Str("subscription_id", id).Msg("subscription removed")
	return nil
}

// Close implements Bus.
func (m *MemoryBus) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := make([]*subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	m.subs = make(map[string]*subscription)
	m.topics = make(map[string]map[string]*subscription)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			s.close()
		}(sub)
	}
	wg.Wait()

	log.Debug().Int("subscriptions", len(subs)).Msg("memory bus closed")
	return nil
}

var _ Bus = (*MemoryBus)(nil)
