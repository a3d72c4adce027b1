package builder

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry dispatches configs to the strategy registered for their library type.
type Registry struct {
	mu         sync.RWMutex
	strategies map[LibraryType]Strategy
}

// NewRegistry creates a registry holding the built-in strategies.
func NewRegistry() *Registry {
	r := NewEmptyRegistry()
	for _, s := range Builtin() {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// NewEmptyRegistry creates a registry with no strategies.
func NewEmptyRegistry() *Registry {
	return &Registry{strategies: make(map[LibraryType]Strategy)}
}

// Register adds s. A second strategy for the same library type is rejected
// with ErrDuplicateStrategy.
func (r *Registry) Register(s Strategy) error {
	if s == nil {
		return ErrNilStrategy
	}
	t := s.LibraryType()
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.strategies[t]; ok {
		return fmt.Errorf("%w: %s (have %s, got %s)", ErrDuplicateStrategy, t, existing.Name(), s.Name())
	}
	r.strategies[t] = s
	log.Debug().Str("strategy", s.Name()).Str("library_type", string(t)).Int("priority", s.Priority()).Msg("strategy registered")
	return nil
}

// Unregister removes the strategy for t, reporting whether one was registered.
func (r *Registry) Unregister(t LibraryType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.strategies[t]
	delete(r.strategies, t)
	return ok
}

// Resolve returns the strategy for cfg.LibraryType.
func (r *Registry) Resolve(cfg *Config) (Strategy, error) {
	if cfg == nil || cfg.LibraryType == "" {
		return nil, fmt.Errorf("%w: library type not set", ErrUnsupportedLibraryType)
	}
	r.mu.RLock()
	s, ok := r.strategies[cfg.LibraryType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLibraryType, cfg.LibraryType)
	}
	return s, nil
}

// Applicable lists the strategies whose IsApplicable accepts cfg, highest
// priority first. Exactly one is expected for a supported library type.
func (r *Registry) Applicable(cfg *Config) []Strategy {
	var out []Strategy
	for _, s := range r.Strategies() {
		if s.IsApplicable(cfg) {
			out = append(out, s)
		}
	}
	return out
}

// Strategies returns every registered strategy, highest priority first and
// by name within a priority.
func (r *Registry) Strategies() []Strategy {
	r.mu.RLock()
	out := make([]Strategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() > out[j].Priority()
		}
		return out[i].Name() < out[j].Name()
	})
	return out
}

// Plan resolves the strategy for cfg and applies it.
func (r *Registry) Plan(ctx context.Context, cfg *Config, tc Toolchain) (*UnifiedConfig, error) {
	s, err := r.Resolve(cfg)
	if err != nil {
		return nil, err
	}
	uc, err := s.Apply(ctx, cfg, tc)
	if err != nil {
		log.Warn().Err(err).Str("strategy", s.Name()).Msg("strategy failed")
		return nil, fmt.Errorf("applying %s strategy: %w", s.Name(), err)
	}
	return uc, nil
}
