package app

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/ldesign/toolkit/config"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.ShutdownTimeout = 5 * time.Second
	return cfg
}

func TestMemoryAppLifecycle(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for _, name := range []string{"event-broker", "cache-janitor", "limiter-sweeper", "http-server"} {
		if !a.lifecycle.Running(name) {
			t.Errorf("%s not running", name)
		}
	}
	if _, ok := a.lifecycle.Get("redis"); ok {
		t.Error("redis registered without an address")
	}

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", a.Server.Addr()))
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	if err := a.Cache.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if a.lifecycle.Running("http-server") {
		t.Error("server still running")
	}
}

func TestNullEngineWithoutLimiter(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.Engine = config.EngineNull
	cfg.Limiter.Rules = nil

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, name := range []string{"cache-janitor", "limiter-sweeper"} {
		if _, ok := a.lifecycle.Get(name); ok {
			t.Errorf("%s registered", name)
		}
	}
	ctx := context.Background()
	a.Cache.Set(ctx, "k", "v", 0)
	if ok, _ := a.Cache.Has(ctx, "k"); ok {
		t.Error("null engine kept a value")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for !a.lifecycle.Running("http-server") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
