package redlock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeClient keeps lock keys in a map and ignores expiry.
type fakeClient struct {
	mu     sync.Mutex
	values map[string]string
	err    error
}

func newFakeClient() *fakeClient {
	return &fakeClient{values: make(map[string]string)}
}

func (f *fakeClient) SetNX(ctx context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
		return cmd
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, held := f.values[key]; held {
		cmd.SetVal(false)
		return cmd
	}
	f.values[key] = value.(string)
	cmd.SetVal(true)
	return cmd
}

func (f *fakeClient) Eval(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values[keys[0]] == args[0].(string) {
		delete(f.values, keys[0])
		cmd.SetVal(int64(1))
		return cmd
	}
	cmd.SetVal(int64(0))
	return cmd
}

func TestTryObtainAndRelease(t *testing.T) {
	client := newFakeClient()
	l := New(client)
	ctx := context.Background()

	lk, err := l.TryObtain(ctx, "plan:abc")
	if err != nil {
		t.Fatalf("TryObtain() error = %v", err)
	}
	if lk.Key() != "lock:plan:abc" {
		t.Fatalf("unexpected key %q", lk.Key())
	}
	if _, err := l.TryObtain(ctx, "plan:abc"); !errors.Is(err, ErrNotObtained) {
		t.Fatalf("expected ErrNotObtained, got %v", err)
	}

	if err := lk.Release(ctx); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := lk.Release(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld on double release, got %v", err)
	}
}

func TestObtainWaitsForRelease(t *testing.T) {
	client := newFakeClient()
	l := New(client, WithRetryDelay(5*time.Millisecond))
	ctx := context.Background()

	first, err := l.Obtain(ctx, "r")
	if err != nil {
		t.Fatalf("Obtain() error = %v", err)
	}
	go func() {
		time.Sleep(20 * time.Millisecond)
		first.Release(ctx)
	}()

	second, err := l.Obtain(ctx, "r")
	if err != nil {
		t.Fatalf("second Obtain() error = %v", err)
	}
	second.Release(ctx)
}

func TestObtainGivesUp(t *testing.T) {
	client := newFakeClient()
	ctx := context.Background()

	if _, err := New(client).TryObtain(ctx, "r"); err != nil {
		t.Fatalf("TryObtain() error = %v", err)
	}

	l := New(client, WithRetryDelay(time.Millisecond), WithMaxRetries(3))
	if _, err := l.Obtain(ctx, "r"); !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("expected ErrMaxRetriesExceeded, got %v", err)
	}

	timeout, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if _, err := New(client, WithRetryDelay(time.Millisecond)).Obtain(timeout, "r"); !errors.Is(err, ErrWaitTimeout) {
		t.Fatalf("expected ErrWaitTimeout, got %v", err)
	}
}

func TestObtainPropagatesRedisErrors(t *testing.T) {
	client := newFakeClient()
	client.err = errors.New("connection refused")

	if _, err := New(client).Obtain(context.Background(), "r"); !errors.Is(err, client.err) {
		t.Fatalf("expected the redis error, got %v", err)
	}
}
