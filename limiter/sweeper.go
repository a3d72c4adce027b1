package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Sweeper periodically forgets MemoryStore buckets that have been idle for
// longer than idle. It implements lifecycle.Component.
type Sweeper struct {
	store    *MemoryStore
	interval time.Duration
	idle     time.Duration

	mu   sync.Mutex
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewSweeper creates a stopped sweeper. Non-positive durations fall back to
// one minute between sweeps and ten minutes of idleness.
func NewSweeper(store *MemoryStore, interval, idle time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &Sweeper{store: store, interval: interval, idle: idle}
}

func (s *Sweeper) Name() string {
	return "limiter-sweeper"
}

// SweepOnce removes the buckets idle for longer than the configured idle time.
func (s *Sweeper) SweepOnce() int {
	return s.store.Sweep(s.store.opts.now().Add(-s.idle))
}

func (s *Sweeper) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return nil
	}
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stop)
	log.Debug().Dur("interval", s.interval).Dur("idle", s.idle).Msg("limiter sweeper started")
	return nil
}

func (s *Sweeper) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return nil
	}
	close(s.stop)
	s.wg.Wait()
	s.stop = nil
	return nil
}

func (s *Sweeper) loop(stop <-chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.SweepOnce()
		case <-stop:
			return
		}
	}
}
