// Package event publishes Events by topic and delivers them to subscribed handlers,
// either in-process or through Redis lists shared between processes.
package event

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by operations on a closed bus or broker.
	ErrClosed = errors.New("event: bus is closed")
	// ErrNilHandler is returned by Subscribe when no handler is given.
	ErrNilHandler = errors.New("event: handler must not be nil")
	// ErrQueueFull is returned by Publish when a Redis queue reached the size
	// limit requested by one of its subscribers.
	ErrQueueFull = errors.New("event: redis queue is full")
)

// Event is a single notification published on a topic.
type Event struct {
	Type  string            `json:"type"`
	Key   string            `json:"key,omitempty"`
	Time  time.Time         `json:"time"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// New returns an event of the given type about key, stamped with the current time.
func New(typ, key string) Event {
	return Event{Type: typ, Key: key, Time: time.Now()}
}

// Handler receives delivered events. Handlers of one subscription run sequentially.
type Handler func(ctx context.Context, e Event)

// Bus is a publish/subscribe backend.
type Bus interface {
	// Publish queues events for every subscriber of topic, waiting for queue
	// space until ctx ends.
	Publish(ctx context.Context, topic string, events ...Event) error

	// TryPublish queues events without waiting; subscribers whose queue is
	// full miss the events.
	TryPublish(ctx context.Context, topic string, events ...Event) error

	// Subscribe registers handler for topic and returns the subscription id.
	Subscribe(ctx context.Context, topic string, handler Handler, opts ...Option) (string, error)

	// Unsubscribe removes the subscription with the given id.
	Unsubscribe(ctx context.Context, id string) error

	// Close stops every subscription after delivering what is already queued.
	Close() error
}
