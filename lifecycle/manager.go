package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Manager owns the registered components. StartAll starts them in order and
// StopAll stops the started ones in reverse order.
type Manager struct {
	mu         sync.RWMutex
	components map[string]Component
	order      []string
	started    map[string]bool
}

// New creates an empty Manager.
func New() *Manager {
	return &Manager{
		components: make(map[string]Component),
		started:    make(map[string]bool),
	}
}

// Register appends c to the start order.
func (m *Manager) Register(c Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := c.Name()
	if _, exists := m.components[name]; exists {
		log.Error().Str("component", name).Msg("attempted to register duplicate component")
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}
	m.components[name] = c
	m.order = append(m.order, name)
	log.Debug().Str("component", name).Msg("component registered")
	return nil
}

// Unregister removes a component that is not running.
func (m *Manager) Unregister(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.components[name]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if m.started[name] {
		return fmt.Errorf("%w: stop %s before unregistering it", ErrStarted, name)
	}
	delete(m.components, name)
	order := make([]string, 0, len(m.order)-1)
	for _, n := range m.order {
		if n != name {
			order = append(order, n)
		}
	}
	m.order = order
	log.Debug().Str("component", name).Msg("component unregistered")
	return nil
}

// SetOrder replaces the start order. names must list every registered
// component exactly once.
func (m *Manager) SetOrder(names []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(names) != len(m.components) {
		return fmt.Errorf("%w (provided: %d, registered: %d)", ErrOrderMismatch, len(names), len(m.components))
	}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, exists := m.components[name]; !exists {
			return fmt.Errorf("%w: %s", ErrOrderMissing, name)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: %s", ErrOrderDuplicate, name)
		}
		seen[name] = struct{}{}
	}
	m.order = append([]string(nil), names...)
	log.Debug().Strs("order", m.order).Msg("component start order set")
	return nil
}

// Get returns the component registered under name.
func (m *Manager) Get(name string) (Component, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.components[name]
	return c, ok
}

// Running reports whether the named component has been started and not stopped.
func (m *Manager) Running(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started[name]
}

// StartAll starts every component in order. When one fails, the components
// started by this call are stopped in reverse order and the failure is returned.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()

	startedNow := make([]string, 0, len(order))
	for _, name := range order {
		c, ok := m.Get(name)
		if !ok || m.Running(name) {
			continue
		}

		start := time.Now()
		if err := c.Start(ctx); err != nil {
			log.Error().Str("component", name).Dur("duration", time.Since(start)).Err(err).Msg("failed to start component")
			if rbErr := m.stopNames(ctx, startedNow, "rollback"); rbErr != nil {
				log.Error().Err(rbErr).Msg("errors occurred during start failure rollback")
			}
			return fmt.Errorf("failed to start component %s: %w", name, err)
		}

		m.mu.Lock()
		m.started[name] = true
		m.mu.Unlock()
		startedNow = append(startedNow, name)
		log.Info().Str("component", name).Dur("duration", time.Since(start)).Msg("component started")
	}
	return nil
}

// StopAll stops every running component in reverse start order. All components
// are stopped even if some fail; the failures are joined.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.RLock()
	order := append([]string(nil), m.order...)
	m.mu.RUnlock()

	err := m.stopNames(ctx, order, "shutdown")
	if err != nil {
		log.Warn().Err(err).Msg("shutdown completed with errors")
	}
	return err
}

func (m *Manager) stopNames(ctx context.Context, names []string, phase string) error {
	var errs []error
	for i := len(names) - 1; i >= 0; i-- {
		name := names[i]
		c, ok := m.Get(name)
		if !ok || !m.Running(name) {
			continue
		}

		start := time.Now()
		if err := c.Stop(ctx); err != nil {
			log.Error().Str("component", name).Str("phase", phase).Dur("duration", time.Since(start)).Err(err).Msg("failed to stop component")
			errs = append(errs, fmt.Errorf("%s of %s: %w", phase, name, err))
		} else {
			log.Info().Str("component", name).Str("phase", phase).Dur("duration", time.Since(start)).Msg("component stopped")
		}

		m.mu.Lock()
		delete(m.started, name)
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}
