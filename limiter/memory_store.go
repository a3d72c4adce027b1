package limiter

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// MemoryStore implements Store with an in-process map of buckets.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucketState
	opts    options
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]*bucketState),
		opts:    applyOptions(opts),
	}
}

// Allow implements Store.
func (s *MemoryStore) Allow(_ context.Context, key string, b Bucket) (bool, error) {
	if err := b.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	state, ok := s.buckets[key]
	if !ok {
		fresh := newBucketState(b, now)
		state = &fresh
		s.buckets[key] = state
	}
	if state.tokens > b.Capacity {
		// capacity was lowered since the bucket was created
		state.tokens = b.Capacity
	}

	allowed := state.take(b, now)
	if allowed {
		log.Debug().Str("key", key).Int("remaining", state.tokens).Msg("request allowed")
	} else {
		log.Warn().Str("key", key).Dur("retry_after", state.nextTokenIn(b, now)).Msg("rate limit exceeded")
	}
	return allowed, nil
}

// Sweep forgets buckets that have not been used since cutoff and returns how many
// were removed. A forgotten bucket starts full on its next use, which is what an
// idle bucket would have refilled to anyway once cutoff is older than its fill time.
func (s *MemoryStore) Sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, state := range s.buckets {
		if state.lastSeen.Before(cutoff) {
			delete(s.buckets, key)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Int("remaining", len(s.buckets)).Msg("idle buckets swept")
	}
	return removed
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

var _ Store = (*MemoryStore)(nil)
