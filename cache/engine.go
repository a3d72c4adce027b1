// Package cache stores byte values under string keys with per-entry TTLs.
// Engines hold the bytes (in memory, in Redis, or nowhere); Manager adds key
// prefixes, JSON encoding with metadata, single-flight loading and events.
package cache

import (
	"context"
	"time"
)

// Engine is a key/value store with expiring entries.
//
// A ttl of zero selects the engine's default TTL; a negative ttl stores the
// entry without expiry. A missing or expired key is reported as not found,
// never as an error.
type Engine interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Has(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Stats are engine counters.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Sets        int64 `json:"sets"`
	Deletes     int64 `json:"deletes"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	Size        int   `json:"size"`
	MaxSize     int   `json:"max_size"`
}

// HitRate is hits over lookups, or 0 before the first lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// StatsReporter is implemented by engines that keep Stats.
type StatsReporter interface {
	Stats() Stats
}

// DefaultTTLReporter is implemented by engines with a default TTL, the one a
// zero ttl selects.
type DefaultTTLReporter interface {
	DefaultTTL() time.Duration
}

// Cleaner is implemented by engines that can drop expired entries on demand.
type Cleaner interface {
	Cleanup() int
}

// RemovalReason tells an EvictionHook why an entry left the engine.
type RemovalReason string

const (
	ReasonEvicted RemovalReason = "evict"
	ReasonExpired RemovalReason = "expired"
)

// EvictionHook is called, outside the engine's lock, for every entry removed
// by the engine itself rather than by the caller.
type EvictionHook func(key string, reason RemovalReason)

// HookSetter is implemented by engines that report evictions.
type HookSetter interface {
	SetEvictionHook(hook EvictionHook)
}
