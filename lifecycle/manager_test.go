package lifecycle

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) component(name string, startErr, stopErr error) Component {
	return Func{
		ComponentName: name,
		OnStart: func(context.Context) error {
			r.add("start " + name)
			return startErr
		},
		OnStop: func(context.Context) error {
			r.add("stop " + name)
			return stopErr
		},
	}
}

func TestStartAllAndStopAllOrder(t *testing.T) {
	rec := &recorder{}
	m := New()
	for _, name := range []string{"cache", "limiter", "server"} {
		if err := m.Register(rec.component(name, nil, nil)); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}
	ctx := context.Background()

	if err := m.StartAll(ctx); err != nil {
		t.Fatalf("StartAll() error = %v", err)
	}
	if !m.Running("limiter") {
		t.Fatal("limiter should be running")
	}
	if err := m.StopAll(ctx); err != nil {
		t.Fatalf("StopAll() error = %v", err)
	}

	want := []string{"start cache", "start limiter", "start server", "stop server", "stop limiter", "stop cache"}
	if !reflect.DeepEqual(rec.calls, want) {
		t.Fatalf("calls = %v, want %v", rec.calls, want)
	}
}

func TestStartAllRollsBackOnFailure(t *testing.T) {
	rec := &recorder{}
	m := New()
	boom := errors.New("port in use")
	m.Register(rec.component("cache", nil, nil))
	m.Register(rec.component("broker", nil, nil))
	m.Register(rec.component("server", boom, nil))

	err := m.StartAll(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected the start failure, got %v", err)
	}

	want := []string{"start cache", "start broker", "start server", "stop broker", "stop cache"}
	if !reflect.DeepEqual(rec.calls, want) {
		t.Fatalf("calls = %v, want %v", rec.calls, want)
	}
	if m.Running("cache") || m.Running("broker") {
		t.Fatal("rolled back components must not be running")
	}
}

func TestStopAllJoinsErrors(t *testing.T) {
	rec := &recorder{}
	m := New()
	errA, errB := errors.New("a failed"), errors.New("b failed")
	m.Register(rec.component("a", nil, errA))
	m.Register(rec.component("b", nil, errB))
	m.Register(rec.component("c", nil, nil))
	ctx := context.Background()

	m.StartAll(ctx)
	err := m.StopAll(ctx)
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Fatalf("expected both stop errors, got %v", err)
	}
	if len(rec.calls) != 6 {
		t.Fatalf("every component must be stopped, calls = %v", rec.calls)
	}
	if err := m.StopAll(ctx); err != nil {
		t.Fatalf("second StopAll() should be a no-op, got %v", err)
	}
}

func TestSetOrder(t *testing.T) {
	rec := &recorder{}
	m := New()
	m.Register(rec.component("a", nil, nil))
	m.Register(rec.component("b", nil, nil))

	tests := []struct {
		names []string
		want  error
	}{
		{[]string{"a"}, ErrOrderMismatch},
		{[]string{"a", "x"}, ErrOrderMissing},
		{[]string{"a", "a"}, ErrOrderDuplicate},
		{[]string{"b", "a"}, nil},
	}
	for _, tt := range tests {
		if err := m.SetOrder(tt.names); !errors.Is(err, tt.want) {
			t.Errorf("SetOrder(%v) = %v, want %v", tt.names, err, tt.want)
		}
	}

	m.StartAll(context.Background())
	if rec.calls[0] != "start b" {
		t.Fatalf("expected b to start first, calls = %v", rec.calls)
	}
}

func TestRegisterAndUnregister(t *testing.T) {
	rec := &recorder{}
	m := New()
	m.Register(rec.component("a", nil, nil))

	if err := m.Register(rec.component("a", nil, nil)); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
	if err := m.Unregister("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	m.StartAll(context.Background())
	if err := m.Unregister("a"); !errors.Is(err, ErrStarted) {
		t.Fatalf("expected ErrStarted, got %v", err)
	}
	m.StopAll(context.Background())
	if err := m.Unregister("a"); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if _, ok := m.Get("a"); ok {
		t.Fatal("component still registered")
	}
}
