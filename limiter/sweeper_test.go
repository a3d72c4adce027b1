package limiter

import (
	"context"
	"testing"
	"time"
)

func TestSweeperForgetsIdleBuckets(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	b := Bucket{Capacity: 1, TokensPerInterval: 1, Interval: time.Second}
	ctx := context.Background()

	store.Allow(ctx, "old", b)
	clock.Advance(5 * time.Minute)
	store.Allow(ctx, "fresh", b)
	clock.Advance(6 * time.Minute)

	sw := NewSweeper(store, time.Minute, 10*time.Minute)
	if n := sw.SweepOnce(); n != 1 {
		t.Fatalf("swept %d buckets, want 1", n)
	}
	if store.Len() != 1 {
		t.Fatalf("%d buckets left, want 1", store.Len())
	}
	if allowed, _ := store.Allow(ctx, "old", b); !allowed {
		t.Fatal("a forgotten bucket should start full")
	}
}

func TestSweeperLifecycle(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryStore(WithClock(clock.Now))
	store.Allow(context.Background(), "k", Bucket{Capacity: 1, TokensPerInterval: 1, Interval: time.Second})
	clock.Advance(time.Hour)

	sw := NewSweeper(store, 5*time.Millisecond, time.Minute)
	if sw.Name() != "limiter-sweeper" {
		t.Errorf("name = %s", sw.Name())
	}
	if err := sw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sw.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for store.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if store.Len() != 0 {
		t.Fatal("sweeper did not remove the idle bucket")
	}

	if err := sw.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := sw.Stop(context.Background()); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}
