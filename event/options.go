package event

// SubscriptionOptions holds configuration for a subscription.
type SubscriptionOptions struct {
	// BufferSize is the number of events queued for the handler before
	// Publish blocks and TryPublish drops. Defaults to 64.
	BufferSize int
	// MaxQueueSize caps the length of the Redis list backing the topic.
	// Only used by the Redis backend. Zero means no limit.
	MaxQueueSize int64
}

// Option configures a subscription.
type Option func(*SubscriptionOptions)

// DefaultSubscriptionOptions returns the default options.
func DefaultSubscriptionOptions() *SubscriptionOptions {
	return &SubscriptionOptions{
		BufferSize: 64,
	}
}

// WithBufferSize sets the handler queue size.
func WithBufferSize(n int) Option {
	return func(o *SubscriptionOptions) {
		if n > 0 {
			o.BufferSize = n
		}
	}
}

// WithMaxQueueSize sets the maximum Redis list length for the subscribed topic.
func WithMaxQueueSize(size int64) Option {
	return func(o *SubscriptionOptions) {
		if size >= 0 {
			o.MaxQueueSize = size
		}
	}
}

// Apply applies opts to o.
func (o *SubscriptionOptions) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(o)
	}
}
