// Package limiter implements token-bucket rate limiting: a blocking Limiter with
// a FIFO wait queue, and rule-based keyed limiting backed by memory or Redis stores.
package limiter

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Limiter throttles callers to at most TokensPerInterval operations per Interval
// with bursts up to Capacity. Callers that find the bucket empty wait in arrival
// order; a single goroutine wakes them as tokens are produced, and only while
// somebody is waiting.
type Limiter struct {
	bucket Bucket
	opts   options

	mu       sync.Mutex
	state    bucketState
	waiters  *list.List // of *waiter, oldest first
	draining bool
	closed   bool
	done     chan struct{}
	wg       sync.WaitGroup
}

type waiter struct {
	id    string
	ready chan struct{} // closed once err is final
	err   error
	elem  *list.Element
}

// New creates a Limiter whose bucket starts full.
func New(capacity, tokensPerInterval int, interval time.Duration, opts ...Option) (*Limiter, error) {
	return NewFromBucket(Bucket{
		Capacity:          capacity,
		TokensPerInterval: tokensPerInterval,
		Interval:          interval,
	}, opts...)
}

// NewFromBucket creates a Limiter for b.
func NewFromBucket(b Bucket, opts ...Option) (*Limiter, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	o := applyOptions(opts)
	l := &Limiter{
		bucket:  b,
		opts:    o,
		state:   newBucketState(b, o.now()),
		waiters: list.New(),
		done:    make(chan struct{}),
	}
	log.Debug().Str("limiter", o.name).Int("capacity", b.Capacity).Int("tokens_per_interval", b.TokensPerInterval).Dur("interval", b.Interval).Msg("limiter created")
	return l, nil
}

// Bucket returns the limiter's bucket parameters.
func (l *Limiter) Bucket() Bucket {
	return l.bucket
}

// Acquire blocks until a token is available and consumes it.
// If ctx ends first it returns a *TimeoutError and no token is consumed.
// After Close it returns ErrClosed.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	now := l.opts.now()
	l.state.lastSeen = now
	l.state.refill(l.bucket, now)
	if l.waiters.Len() == 0 && l.state.tokens > 0 {
		l.state.tokens--
		l.mu.Unlock()
		return nil
	}
	if err := ctx.Err(); err != nil {
		l.mu.Unlock()
		return &TimeoutError{Cause: err}
	}

	w := &waiter{id: uuid.NewString(), ready: make(chan struct{})}
	w.elem = l.waiters.PushBack(w)
	queued := l.waiters.Len()
	l.startDrainLocked()
	l.mu.Unlock()

	log.Debug().Str("limiter", l.opts.name).Str("waiter", w.id).Int("queued", queued).Msg("bucket empty, waiting for token")

	select {
	case <-w.ready:
		return w.err
	case <-ctx.Done():
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-w.ready:
		// served between ctx.Done and taking the lock
		return w.err
	default:
	}
	l.waiters.Remove(w.elem)
	log.Debug().Str("limiter", l.opts.name).Str("waiter", w.id).Err(ctx.Err()).Msg("waiter gave up")
	return &TimeoutError{Cause: ctx.Err()}
}

// AcquireTimeout is Acquire bounded by d.
func (l *Limiter) AcquireTimeout(ctx context.Context, d time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return l.Acquire(ctx)
}

// TryAcquire consumes a token if one is available right now and nobody is queued.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.waiters.Len() > 0 {
		return false
	}
	return l.state.take(l.bucket, l.opts.now())
}

// Tokens reports the number of tokens available after a lazy refill.
func (l *Limiter) Tokens() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state.refill(l.bucket, l.opts.now())
	return l.state.tokens
}

// Waiting reports the number of queued Acquire calls.
func (l *Limiter) Waiting() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiters.Len()
}

// Name implements lifecycle.Component.
func (l *Limiter) Name() string {
	return "limiter:" + l.opts.name
}

// Start implements lifecycle.Component. The limiter needs no warm-up.
func (l *Limiter) Start(context.Context) error {
	return nil
}

// Stop implements lifecycle.Component by closing the limiter.
func (l *Limiter) Stop(context.Context) error {
	return l.Close()
}

// Close fails every queued waiter with ErrClosed and stops the drain goroutine.
func (l *Limiter) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	pending := l.waiters.Len()
	for e := l.waiters.Front(); e != nil; e = e.Next() {
		w := e.Value.(*waiter)
		w.err = ErrClosed
		close(w.ready)
	}
	l.waiters.Init()
	close(l.done)
	l.mu.Unlock()

	l.wg.Wait()
	log.Debug().Str("limiter", l.opts.name).Int("failed_waiters", pending).Msg("limiter closed")
	return nil
}

func (l *Limiter) startDrainLocked() {
	if l.draining {
		return
	}
	l.draining = true
	l.wg.Add(1)
	go l.drain()
}

// drain hands tokens to waiters in FIFO order and sleeps until the next token
// is due. It exits as soon as the queue is empty.
func (l *Limiter) drain() {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		if l.closed {
			l.draining = false
			l.mu.Unlock()
			return
		}
		wait, more := l.serveLocked()
		if !more {
			l.draining = false
			l.mu.Unlock()
			return
		}
		l.mu.Unlock()

		if wait < minDrainWait {
			wait = minDrainWait
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-l.done:
			timer.Stop()
			return
		}
	}
}

// serveLocked grants available tokens to the oldest waiters. It returns the
// delay until the next token and whether waiters remain.
func (l *Limiter) serveLocked() (time.Duration, bool) {
	now := l.opts.now()
	l.state.refill(l.bucket, now)
	for l.state.tokens > 0 {
		front := l.waiters.Front()
		if front == nil {
			break
		}
		w := l.waiters.Remove(front).(*waiter)
		l.state.tokens--
		close(w.ready)
	}
	if l.waiters.Len() == 0 {
		return 0, false
	}
	return l.state.nextTokenIn(l.bucket, now), true
}
