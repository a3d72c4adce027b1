package event

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// subscription owns a handler, its queue and the goroutine draining it.
type subscription struct {
	id      string
	topic   string
	handler Handler
	options *SubscriptionOptions

	queue    chan Event
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newSubscription(topic string, handler Handler, opts ...Option) (*subscription, error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	options := DefaultSubscriptionOptions()
	options.Apply(opts...)

	return &subscription{
		id:      uuid.NewString(),
		topic:   topic,
		handler: handler,
		options: options,
		queue:   make(chan Event, options.BufferSize),
		stop:    make(chan struct{}),
	}, nil
}

func (s *subscription) start() {
	s.wg.Add(1)
	go s.run()
}

func (s *subscription) run() {
	defer s.wg.Done()
	for {
		select {
		case e := <-s.queue:
			s.invoke(e)
		case <-s.stop:
			// deliver what was queued before the stop
			for {
				select {
				case e := <-s.queue:
					s.invoke(e)
				default:
					log.Debug().Str("subscription_id", s.id).Str("topic", s.topic).Msg("subscription worker stopped")
					return
				}
			}
		}
	}
}

func (s *subscription) invoke(e Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("subscription_id", s.id).Str("topic", s.topic).Str("event", e.Type).Interface("panic", r).Msg("event handler panicked")
		}
	}()
	s.handler(context.Background(), e)
}

// enqueue hands e to the worker. With try set it never blocks and reports
// whether the event was queued.
func (s *subscription) enqueue(ctx context.Context, e Event, try bool) (bool, error) {
	select {
	case <-s.stop:
		return false, ErrClosed
	default:
	}

	if try {
		select {
		case s.queue <- e:
			return true, nil
		default:
			log.Warn().Str("subscription_id", s.id).Str("topic", s.topic).Str("event", e.Type).Msg("subscription queue full, dropping event")
			return false, nil
		}
	}

	select {
	case s.queue <- e:
		return true, nil
	case <-s.stop:
		return false, ErrClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// close stops the worker and waits until queued events were delivered.
func (s *subscription) close() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	s.wg.Wait()
}
