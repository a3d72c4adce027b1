package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ldesign/toolkit/event"
	"github.com/ldesign/toolkit/redlock"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

type managerOptions struct {
	prefix     string
	engineName string
	broker     *event.Broker
	topic      string
	locker     *redlock.Locker
	now        func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*managerOptions)

// WithPrefix prepends prefix to every key the Manager touches, scoping Keys
// and Clear to the prefixed keys.
func WithPrefix(prefix string) ManagerOption {
	return func(o *managerOptions) {
		o.prefix = prefix
	}
}

// WithEngineName sets the engine name recorded in metadata and stats.
func WithEngineName(name string) ManagerOption {
	return func(o *managerOptions) {
		if name != "" {
			o.engineName = name
		}
	}
}

// WithEvents publishes cache events on broker under topic ("" selects DefaultTopic).
func WithEvents(broker *event.Broker, topic string) ManagerOption {
	return func(o *managerOptions) {
		o.broker = broker
		if topic != "" {
			o.topic = topic
		}
	}
}

// WithLocker makes GetOrSet hold a distributed lock per key while loading, so
// that one process computes a value that others are waiting for.
func WithLocker(locker *redlock.Locker) ManagerOption {
	return func(o *managerOptions) {
		o.locker = locker
	}
}

// WithManagerClock replaces time.Now for metadata timestamps.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(o *managerOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// ManagerStats combines Manager counters with the engine's own.
type ManagerStats struct {
	Engine  string  `json:"engine"`
	Keys    int     `json:"keys"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Detail  *Stats  `json:"detail,omitempty"`
}

// Manager stores JSON-encoded values in an Engine.
type Manager struct {
	engine Engine
	opts   managerOptions
	group  singleflight.Group

	hits   atomic.Int64
	misses atomic.Int64
}

// NewManager creates a Manager over engine. Engines that report evictions
// have their hook pointed at the Manager's event stream.
func NewManager(engine Engine, opts ...ManagerOption) *Manager {
	o := managerOptions{
		engineName: "memory",
		topic:      DefaultTopic,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	m := &Manager{engine: engine, opts: o}
	if hs, ok := engine.(HookSetter); ok && o.broker != nil {
		hs.SetEvictionHook(m.onRemoved)
	}
	return m
}

// Engine returns the underlying engine.
func (m *Manager) Engine() Engine {
	return m.engine
}

func (m *Manager) key(k string) string {
	return m.opts.prefix + k
}

// onRemoved translates engine removals, which carry prefixed keys, into events.
func (m *Manager) onRemoved(key string, reason RemovalReason) {
	if !strings.HasPrefix(key, m.opts.prefix) {
		return
	}
	typ := EventEvict
	if reason == ReasonExpired {
		typ = EventExpired
	}
	m.emit(context.Background(), typ, strings.TrimPrefix(key, m.opts.prefix))
}

func (m *Manager) emit(ctx context.Context, typ, key string) {
	if m.opts.broker == nil {
		return
	}
	e := event.New(typ, key)
	e.Attrs = map[string]string{"engine": m.opts.engineName}
	if err := m.opts.broker.TryPublish(ctx, m.opts.topic, e); err != nil {
		log.Debug().Err(err).Str("event", typ).Str("key", key).Msg("cache event not published")
	}
}

// Set encodes value as JSON and stores it for ttl (see Engine for ttl rules).
func (m *Manager) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding cache value for %s: %w", key, err)
	}
	_, err = m.setRaw(ctx, key, raw, ttl)
	return err
}

// expiry resolves ttl the way the engine will, returning the zero time for
// entries that never expire.
func (m *Manager) expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl == 0 {
		if d, ok := m.engine.(DefaultTTLReporter); ok {
			ttl = d.DefaultTTL()
		}
	}
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func (m *Manager) setRaw(ctx context.Context, key string, raw json.RawMessage, ttl time.Duration) ([]byte, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	now := m.opts.now()
	md := Metadata{
		CreatedAt: now,
		DataType:  dataType(raw),
		Size:      len(raw),
		Engine:    m.opts.engineName,
	}
	if exp := m.expiry(now, ttl); !exp.IsZero() {
		md.ExpiresAt = &exp
	}
	data, err := json.Marshal(envelope{Value: raw, Metadata: md})
	if err != nil {
		return nil, fmt.Errorf("encoding cache envelope for %s: %w", key, err)
	}
	if err := m.engine.Set(ctx, m.key(key), data, ttl); err != nil {
		m.emit(ctx, EventError, key)
		return nil, err
	}
	m.emit(ctx, EventSet, key)
	return raw, nil
}

func (m *Manager) getEnvelope(ctx context.Context, key string) (*envelope, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	data, ok, err := m.engine.Get(ctx, m.key(key))
	if err != nil {
		m.emit(ctx, EventError, key)
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// written by something else; treat as absent
		log.Warn().Err(err).Str("key", key).Msg("undecodable cache entry")
		return nil, false, nil
	}
	return &env, true, nil
}

// Get decodes the value stored under key into dst and reports whether it was found.
func (m *Manager) Get(ctx context.Context, key string, dst any) (bool, error) {
	raw, ok, err := m.GetRaw(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decoding cache value for %s: %w", key, err)
	}
	return true, nil
}

// GetRaw returns the JSON encoding of the value stored under key.
func (m *Manager) GetRaw(ctx context.Context, key string) (json.RawMessage, bool, error) {
	env, ok, err := m.getEnvelope(ctx, key)
	if err != nil {
		return nil, false, err
	}
	m.emit(ctx, EventGet, key)
	if !ok {
		m.misses.Add(1)
		m.emit(ctx, EventMiss, key)
		return nil, false, nil
	}
	m.hits.Add(1)
	m.emit(ctx, EventHit, key)
	return env.Value, true, nil
}

// Has reports whether key holds a live value.
func (m *Manager) Has(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	return m.engine.Has(ctx, m.key(key))
}

// Delete removes key.
func (m *Manager) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if err := m.engine.Delete(ctx, m.key(key)); err != nil {
		return err
	}
	m.emit(ctx, EventDelete, key)
	return nil
}

// Keys lists the live keys under the Manager's prefix, without the prefix.
func (m *Manager) Keys(ctx context.Context) ([]string, error) {
	all, err := m.engine.Keys(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, m.opts.prefix) {
			keys = append(keys, strings.TrimPrefix(k, m.opts.prefix))
		}
	}
	return keys, nil
}

// Clear removes every key under the prefix, or the whole engine without one.
func (m *Manager) Clear(ctx context.Context) error {
	if m.opts.prefix == "" {
		if err := m.engine.Clear(ctx); err != nil {
			return err
		}
	} else {
		keys, err := m.Keys(ctx)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := m.engine.Delete(ctx, m.key(k)); err != nil {
				return err
			}
		}
	}
	m.emit(ctx, EventClear, "")
	return nil
}

// Metadata returns the metadata stored with key.
func (m *Manager) Metadata(ctx context.Context, key string) (*Metadata, bool, error) {
	env, ok, err := m.getEnvelope(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	return &env.Metadata, true, nil
}

// Loader computes a value for GetOrSet.
type Loader func(ctx context.Context) (any, error)

// GetOrSet decodes the value under key into dst, calling load and storing its
// result on a miss. Concurrent callers for the same key share one load; with
// WithLocker, callers in other processes wait for it too. A caller whose ctx
// ends returns ctx.Err() without cancelling the load the others wait on.
func (m *Manager) GetOrSet(ctx context.Context, key string, dst any, ttl time.Duration, load Loader) error {
	if load == nil {
		return ErrNilLoader
	}
	raw, ok, err := m.GetRaw(ctx, key)
	if err != nil {
		return err
	}
	if !ok {
		// the shared load outlives any single caller; each caller waits on its own ctx
		ch := m.group.DoChan(key, func() (any, error) {
			return m.load(context.WithoutCancel(ctx), key, ttl, load)
		})
		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
		if res.Err != nil {
			return res.Err
		}
		if res.Shared {
			log.Debug().Str("key", key).Msg("shared in-flight cache load")
		}
		raw = res.Val.(json.RawMessage)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decoding cache value for %s: %w", key, err)
	}
	return nil
}

func (m *Manager) load(ctx context.Context, key string, ttl time.Duration, load Loader) (json.RawMessage, error) {
	if m.opts.locker != nil {
		lk, err := m.opts.locker.Obtain(ctx, m.key(key))
		if err != nil {
			return nil, fmt.Errorf("locking %s: %w", key, err)
		}
		defer func() {
			if err := lk.Release(context.WithoutCancel(ctx)); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("failed to release cache load lock")
			}
		}()
		// another process may have loaded it while we waited
		if env, ok, err := m.getEnvelope(ctx, key); err == nil && ok {
			return env.Value, nil
		}
	}

	v, err := load(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding cache value for %s: %w", key, err)
	}
	if _, err := m.setRaw(ctx, key, raw, ttl); err != nil {
		return nil, err
	}
	return raw, nil
}

// Remember is the typed form of GetOrSet.
func Remember[T any](ctx context.Context, m *Manager, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := m.GetOrSet(ctx, key, &out, ttl, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	return out, err
}

// MSet stores every item. It stores as many as it can and joins the failures.
func (m *Manager) MSet(ctx context.Context, items map[string]any, ttl time.Duration) error {
	var errs []error
	for k, v := range items {
		if err := m.Set(ctx, k, v, ttl); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// MGet returns the JSON encoding of every found key. Missing keys are absent
// from the result.
func (m *Manager) MGet(ctx context.Context, keys []string) (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, len(keys))
	var errs []error
	for _, k := range keys {
		raw, ok, err := m.GetRaw(ctx, k)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			continue
		}
		if ok {
			out[k] = raw
		}
	}
	return out, errors.Join(errs...)
}

// MDelete removes every key, joining the failures.
func (m *Manager) MDelete(ctx context.Context, keys []string) error {
	var errs []error
	for _, k := range keys {
		if err := m.Delete(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// MHas reports presence for every key.
func (m *Manager) MHas(ctx context.Context, keys []string) (map[string]bool, error) {
	out := make(map[string]bool, len(keys))
	var errs []error
	for _, k := range keys {
		ok, err := m.Has(ctx, k)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", k, err))
			continue
		}
		out[k] = ok
	}
	return out, errors.Join(errs...)
}

// Cleanup drops expired entries on engines that support it and returns how many.
func (m *Manager) Cleanup() int {
	if c, ok := m.engine.(Cleaner); ok {
		return c.Cleanup()
	}
	return 0
}

// Stats reports Manager counters, the live key count and engine counters when available.
func (m *Manager) Stats(ctx context.Context) (ManagerStats, error) {
	keys, err := m.Keys(ctx)
	if err != nil {
		return ManagerStats{}, err
	}
	s := ManagerStats{
		Engine: m.opts.engineName,
		Keys:   len(keys),
		Hits:   m.hits.Load(),
		Misses: m.misses.Load(),
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	if r, ok := m.engine.(StatsReporter); ok {
		detail := r.Stats()
		s.Detail = &detail
	}
	return s, nil
}
