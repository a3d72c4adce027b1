package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultCleanupInterval = time.Minute

type memoryEntry struct {
	key       string
	value     []byte
	createdAt time.Time
	ttl       time.Duration // <= 0: never expires
	elem      *list.Element
}

func (e *memoryEntry) expired(now time.Time) bool {
	return e.ttl > 0 && now.Sub(e.createdAt) > e.ttl
}

type memoryOptions struct {
	now             func() time.Time
	cleanupInterval time.Duration
	hook            EvictionHook
}

// MemoryOption configures a MemoryEngine.
type MemoryOption func(*memoryOptions)

// WithClock replaces time.Now as the engine's clock.
func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// WithCleanupInterval sets how often the janitor started by Start sweeps
// expired entries. Defaults to one minute.
func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(o *memoryOptions) {
		if d > 0 {
			o.cleanupInterval = d
		}
	}
}

// WithEvictionHook registers hook for evicted and expired entries.
func WithEvictionHook(hook EvictionHook) MemoryOption {
	return func(o *memoryOptions) {
		o.hook = hook
	}
}

// MemoryEngine is a size-bounded in-process Engine. When full, inserting a new
// key evicts the entry with the oldest creation time. Expired entries are
// removed when they are looked up, by Cleanup, or by the janitor goroutine
// between Start and Stop.
type MemoryEngine struct {
	maxSize    int
	defaultTTL time.Duration
	opts       memoryOptions

	mu    sync.Mutex
	items map[string]*memoryEntry
	order *list.List // of *memoryEntry, oldest creation first
	stats Stats

	janitorMu sync.Mutex
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewMemoryEngine creates an engine holding at most maxSize entries (zero or
// less means unbounded) whose entries live for defaultTTL unless Set says
// otherwise (zero or less means no default expiry).
func NewMemoryEngine(maxSize int, defaultTTL time.Duration, opts ...MemoryOption) *MemoryEngine {
	o := memoryOptions{
		now:             time.Now,
		cleanupInterval: defaultCleanupInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if maxSize < 0 {
		maxSize = 0
	}
	return &MemoryEngine{
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		opts:       o,
		items:      make(map[string]*memoryEntry),
		order:      list.New(),
	}
}

// SetEvictionHook implements HookSetter.
func (m *MemoryEngine) SetEvictionHook(hook EvictionHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opts.hook = hook
}

// DefaultTTL implements DefaultTTLReporter.
func (m *MemoryEngine) DefaultTTL() time.Duration {
	return m.defaultTTL
}

func (m *MemoryEngine) effectiveTTL(ttl time.Duration) time.Duration {
	if ttl == 0 {
		return m.defaultTTL
	}
	return ttl
}

// Get implements Engine.
func (m *MemoryEngine) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	e, ok := m.items[key]
	if !ok {
		m.stats.Misses++
		m.mu.Unlock()
		return nil, false, nil
	}
	if e.expired(m.opts.now()) {
		m.removeLocked(e)
		m.stats.Misses++
		m.stats.Expirations++
		hook := m.opts.hook
		m.mu.Unlock()
		notify(hook, key, ReasonExpired)
		return nil, false, nil
	}
	m.stats.Hits++
	value := e.value
	m.mu.Unlock()
	return value, true, nil
}

// Set implements Engine. Setting an existing key replaces its value and
// restarts its lifetime.
func (m *MemoryEngine) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := m.opts.now()
	ttl = m.effectiveTTL(ttl)

	m.mu.Lock()
	m.stats.Sets++
	if e, ok := m.items[key]; ok {
		e.value = value
		e.createdAt = now
		e.ttl = ttl
		m.order.MoveToBack(e.elem)
		m.mu.Unlock()
		return nil
	}

	var evicted string
	if m.maxSize > 0 && len(m.items) >= m.maxSize {
		if front := m.order.Front(); front != nil {
			oldest := front.Value.(*memoryEntry)
			evicted = oldest.key
			m.removeLocked(oldest)
			m.stats.Evictions++
		}
	}

	e := &memoryEntry{key: key, value: value, createdAt: now, ttl: ttl}
	e.elem = m.order.PushBack(e)
	m.items[key] = e
	hook := m.opts.hook
	m.mu.Unlock()

	if evicted != "" {
		log.Debug().Str("key", evicted).Int("max_size", m.maxSize).Msg("cache full, evicted oldest entry")
		notify(hook, evicted, ReasonEvicted)
	}
	return nil
}

// Has implements Engine. Expired entries are removed and reported absent.
func (m *MemoryEngine) Has(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	e, ok := m.items[key]
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	if e.expired(m.opts.now()) {
		m.removeLocked(e)
		m.stats.Expirations++
		hook := m.opts.hook
		m.mu.Unlock()
		notify(hook, key, ReasonExpired)
		return false, nil
	}
	m.mu.Unlock()
	return true, nil
}

// Delete implements Engine.
func (m *MemoryEngine) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.items[key]; ok {
		m.removeLocked(e)
		m.stats.Deletes++
	}
	return nil
}

// Clear implements Engine.
func (m *MemoryEngine) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[string]*memoryEntry)
	m.order.Init()
	return nil
}

// Keys implements Engine. Keys are returned oldest first; expired entries are skipped.
func (m *MemoryEngine) Keys(context.Context) ([]string, error) {
	now := m.opts.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.items))
	for el := m.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*memoryEntry)
		if !e.expired(now) {
			keys = append(keys, e.key)
		}
	}
	return keys, nil
}

// Len returns the number of stored entries, including expired ones not yet removed.
func (m *MemoryEngine) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Stats implements StatsReporter.
func (m *MemoryEngine) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Size = len(m.items)
	s.MaxSize = m.maxSize
	return s
}

// Cleanup implements Cleaner. It removes every expired entry and returns how many.
func (m *MemoryEngine) Cleanup() int {
	now := m.opts.now()
	m.mu.Lock()
	var expired []string
	for el := m.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*memoryEntry)
		if e.expired(now) {
			m.removeLocked(e)
			expired = append(expired, e.key)
		}
		el = next
	}
	m.stats.Expirations += int64(len(expired))
	hook := m.opts.hook
	m.mu.Unlock()

	for _, key := range expired {
		notify(hook, key, ReasonExpired)
	}
	if len(expired) > 0 {
		log.Debug().Int("removed", len(expired)).Msg("expired cache entries swept")
	}
	return len(expired)
}

// Name implements lifecycle.Component.
func (m *MemoryEngine) Name() string {
	return "cache-janitor"
}

// Start implements lifecycle.Component by running Cleanup every cleanup
// interval until Stop. Starting a running janitor is a no-op.
func (m *MemoryEngine) Start(context.Context) error {
	m.janitorMu.Lock()
	defer m.janitorMu.Unlock()
	if m.stop != nil {
		return nil
	}
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go m.janitor(m.stop, m.opts.cleanupInterval)
	log.Debug().Dur("interval", m.opts.cleanupInterval).Msg("cache janitor started")
	return nil
}

// Stop implements lifecycle.Component.
func (m *MemoryEngine) Stop(context.Context) error {
	m.janitorMu.Lock()
	defer m.janitorMu.Unlock()
	if m.stop == nil {
		return nil
	}
	close(m.stop)
	m.wg.Wait()
	m.stop = nil
	log.Debug().Msg("cache janitor stopped")
	return nil
}

func (m *MemoryEngine) janitor(stop <-chan struct{}, interval time.Duration) {
	defer m.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.Cleanup()
		case <-stop:
			return
		}
	}
}

// Close implements Engine by stopping the janitor and dropping all entries.
func (m *MemoryEngine) Close() error {
	if err := m.Stop(context.Background()); err != nil {
		return err
	}
	return m.Clear(context.Background())
}

func (m *MemoryEngine) removeLocked(e *memoryEntry) {
	m.order.Remove(e.elem)
	delete(m.items, e.key)
}

func notify(hook EvictionHook, key string, reason RemovalReason) {
	if hook != nil {
		hook(key, reason)
	}
}

var _ Engine = (*MemoryEngine)(nil)
