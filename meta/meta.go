// Package meta carries request-scoped caller metadata (client IP, device and user
// identifiers) through a context.Context from transports to the rate limiter.
package meta

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type metadataKey struct{}

// Metadata is a concurrency-safe string-keyed bag of values.
type Metadata struct {
	mu   sync.RWMutex
	data map[string]any
}

// New creates empty metadata.
func New() *Metadata {
	return &Metadata{data: make(map[string]any)}
}

// Set stores value under key. Empty string values are ignored so that absent
// headers never produce empty identifiers.
func (m *Metadata) Set(key string, value any) {
	if s, ok := value.(string); ok && s == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]any)
	}
	m.data[key] = value
}

// Get returns the value stored under key.
func (m *Metadata) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

// Keys returns the stored keys in sorted order.
func (m *Metadata) Keys() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// WithContext returns a child of ctx carrying m.
func (m *Metadata) WithContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, metadataKey{}, m)
}

// FromContext returns the metadata attached to ctx, or empty metadata if none is attached.
func FromContext(ctx context.Context) *Metadata {
	if ctx == nil {
		return New()
	}
	if md, ok := ctx.Value(metadataKey{}).(*Metadata); ok && md != nil {
		return md
	}
	return New()
}

// Get returns the value under key in ctx's metadata, asserted to T.
func Get[T any](ctx context.Context, key string) (T, error) {
	var zero T
	raw, ok := FromContext(ctx).Get(key)
	if !ok {
		return zero, fmt.Errorf("meta: key %q not found in context metadata", key)
	}
	v, ok := raw.(T)
	if !ok {
		return zero, fmt.Errorf("meta: value for key %q has type %T, not %T", key, raw, zero)
	}
	return v, nil
}

// String returns the string stored under key in ctx's metadata, or "".
func String(ctx context.Context, key string) string {
	s, _ := Get[string](ctx, key)
	return s
}
