package limiter

import "time"

type options struct {
	name string
	now  func() time.Time
}

func defaultOptions() options {
	return options{
		name: "default",
		now:  time.Now,
	}
}

// Option configures a Limiter or a MemoryStore.
type Option func(*options)

// WithName sets the name reported in log lines.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithClock replaces time.Now as the source of the current time.
// Refill calculations use it; waiting still uses real timers.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
