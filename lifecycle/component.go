// Package lifecycle starts and stops long-lived components in a fixed order,
// replacing process-wide singletons with explicit ownership.
package lifecycle

import (
	"context"
	"errors"
)

// Component is anything with resources to set up and release: cache janitors,
// limiters, event brokers, servers.
type Component interface {
	// Name returns the unique name used for registration and ordering.
	Name() string

	// Start acquires resources. A component that fails to start must not
	// leave goroutines behind.
	Start(ctx context.Context) error

	// Stop releases resources. The manager keeps stopping other components
	// when one fails.
	Stop(ctx context.Context) error
}

var (
	ErrAlreadyRegistered = errors.New("lifecycle: component name is already registered")
	ErrNotFound          = errors.New("lifecycle: component not found")
	ErrOrderMismatch     = errors.New("lifecycle: start order count does not match registered components count")
	ErrOrderMissing      = errors.New("lifecycle: component specified in start order but not registered")
	ErrOrderDuplicate    = errors.New("lifecycle: duplicate component name found in start order")
	ErrStarted           = errors.New("lifecycle: components are running")
)

// Func adapts a pair of functions to Component.
type Func struct {
	ComponentName string
	OnStart       func(ctx context.Context) error
	OnStop        func(ctx context.Context) error
}

func (f Func) Name() string { return f.ComponentName }

func (f Func) Start(ctx context.Context) error {
	if f.OnStart == nil {
		return nil
	}
	return f.OnStart(ctx)
}

func (f Func) Stop(ctx context.Context) error {
	if f.OnStop == nil {
		return nil
	}
	return f.OnStop(ctx)
}
