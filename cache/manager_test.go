package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ldesign/toolkit/event"
	"github.com/ldesign/toolkit/redlock"
	"github.com/redis/go-redis/v9"
)

type user struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestManagerSetGet(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(NewMemoryEngine(100, 0), WithPrefix("app:"), WithManagerClock(clock.Now))
	ctx := context.Background()

	if err := m.Set(ctx, "user:1", user{ID: 1, Name: "ada"}, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var got user
	ok, err := m.Get(ctx, "user:1", &got)
	if err != nil || !ok || got.Name != "ada" {
		t.Fatalf("Get() = %+v, %v, %v", got, ok, err)
	}
	if ok, _ := m.Get(ctx, "user:2", &got); ok {
		t.Fatal("unexpected hit")
	}

	md, ok, err := m.Metadata(ctx, "user:1")
	if err != nil || !ok {
		t.Fatalf("Metadata() = %v, %v", ok, err)
	}
	if md.DataType != "object" || md.Engine != "memory" || !md.CreatedAt.Equal(clock.Now()) {
		t.Fatalf("unexpected metadata %+v", md)
	}
	if md.ExpiresAt == nil || !md.ExpiresAt.Equal(clock.Now().Add(time.Minute)) {
		t.Fatalf("unexpected expiry %v", md.ExpiresAt)
	}

	if keys, _ := m.Engine().Keys(ctx); len(keys) != 1 || keys[0] != "app:user:1" {
		t.Fatalf("expected prefixed engine key, got %v", keys)
	}
	if keys, _ := m.Keys(ctx); len(keys) != 1 || keys[0] != "user:1" {
		t.Fatalf("expected unprefixed keys, got %v", keys)
	}

	s, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if s.Hits != 1 || s.Misses != 1 || s.HitRate != 0.5 || s.Keys != 1 || s.Detail == nil {
		t.Fatalf("unexpected stats %+v", s)
	}
}

func TestManagerEmptyKey(t *testing.T) {
	m := NewManager(NewMemoryEngine(0, 0))
	ctx := context.Background()
	if err := m.Set(ctx, "", 1, 0); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
	var v int
	if _, err := m.Get(ctx, "", &v); !errors.Is(err, ErrEmptyKey) {
		t.Fatalf("expected ErrEmptyKey, got %v", err)
	}
}

func TestManagerDataTypes(t *testing.T) {
	m := NewManager(NewMemoryEngine(0, 0))
	ctx := context.Background()
	tests := map[string]any{
		"string":  "x",
		"number":  3.5,
		"boolean": true,
		"array":   []int{1},
		"object":  map[string]int{"a": 1},
		"null":    nil,
	}
	for want, v := range tests {
		m.Set(ctx, want, v, 0)
		md, _, _ := m.Metadata(ctx, want)
		if md.DataType != want {
			t.Errorf("data type of %v = %q, want %q", v, md.DataType, want)
		}
	}
}

func TestManagerClearKeepsOtherPrefixes(t *testing.T) {
	engine := NewMemoryEngine(0, 0)
	a := NewManager(engine, WithPrefix("a:"))
	b := NewManager(engine, WithPrefix("b:"))
	ctx := context.Background()

	a.Set(ctx, "k", 1, 0)
	b.Set(ctx, "k", 2, 0)
	if err := a.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if ok, _ := a.Has(ctx, "k"); ok {
		t.Fatal("a:k should be cleared")
	}
	if ok, _ := b.Has(ctx, "k"); !ok {
		t.Fatal("b:k must survive clearing another prefix")
	}
}

func TestManagerGetOrSetLoadsOnce(t *testing.T) {
	m := NewManager(NewMemoryEngine(0, 0))
	ctx := context.Background()

	var calls atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) (any, error) {
		calls.Add(1)
		<-release
		return user{ID: 7, Name: "grace"}, nil
	}

	const n = 10
	var wg sync.WaitGroup
	results := make([]user, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.GetOrSet(ctx, "user:7", &results[i], time.Minute, load)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil || results[i].Name != "grace" {
			t.Fatalf("caller %d: %+v, %v", i, results[i], errs[i])
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single load, got %d", calls.Load())
	}

	var again user
	if err := m.GetOrSet(ctx, "user:7", &again, time.Minute, func(context.Context) (any, error) {
		t.Fatal("cached value must not be reloaded")
		return nil, nil
	}); err != nil || again.ID != 7 {
		t.Fatalf("GetOrSet() = %+v, %v", again, err)
	}
}

func TestManagerGetOrSetLoaderError(t *testing.T) {
	m := NewManager(NewMemoryEngine(0, 0))
	ctx := context.Background()
	boom := errors.New("backend down")

	var v int
	if err := m.GetOrSet(ctx, "k", &v, 0, func(context.Context) (any, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected loader error, got %v", err)
	}
	if ok, _ := m.Has(ctx, "k"); ok {
		t.Fatal("failed loads must not be cached")
	}
	if err := m.GetOrSet(ctx, "k", &v, 0, nil); !errors.Is(err, ErrNilLoader) {
		t.Fatalf("expected ErrNilLoader, got %v", err)
	}
}

func TestRemember(t *testing.T) {
	m := NewManager(NewMemoryEngine(0, 0))
	ctx := context.Background()

	got, err := Remember(ctx, m, "answer", 0, func(context.Context) (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Fatalf("Remember() = %d, %v", got, err)
	}
	got, err = Remember(ctx, m, "answer", 0, func(context.Context) (int, error) { return 0, errors.New("not called") })
	if err != nil || got != 42 {
		t.Fatalf("second Remember() = %d, %v", got, err)
	}
}

func TestManagerBatchOperations(t *testing.T) {
	m := NewManager(NewMemoryEngine(0, 0))
	ctx := context.Background()

	if err := m.MSet(ctx, map[string]any{"a": 1, "b": "two"}, 0); err != nil {
		t.Fatalf("MSet() error = %v", err)
	}
	got, err := m.MGet(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("MGet() error = %v", err)
	}
	if len(got) != 2 || string(got["a"]) != "1" || string(got["b"]) != `"two"` {
		t.Fatalf("unexpected MGet result %v", got)
	}

	has, _ := m.MHas(ctx, []string{"a", "c"})
	if !has["a"] || has["c"] {
		t.Fatalf("unexpected MHas result %v", has)
	}

	if err := m.MDelete(ctx, []string{"a", "b"}); err != nil {
		t.Fatalf("MDelete() error = %v", err)
	}
	if keys, _ := m.Keys(ctx); len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}

	if err := m.MSet(ctx, map[string]any{"bad": make(chan int)}, 0); err == nil {
		t.Fatal("expected an encoding error")
	}
}

func TestManagerPublishesEvents(t *testing.T) {
	clock := newFakeClock()
	broker := event.NewBroker()
	defer broker.Close()
	ctx := context.Background()

	var mu sync.Mutex
	seen := make(map[string][]string)
	got := make(chan struct{}, 100)
	broker.Subscribe(ctx, DefaultTopic, func(_ context.Context, e event.Event) {
		mu.Lock()
		seen[e.Type] = append(seen[e.Type], e.Key)
		mu.Unlock()
		got <- struct{}{}
	})

	engine := NewMemoryEngine(1, time.Second, WithClock(clock.Now))
	m := NewManager(engine, WithPrefix("p:"), WithEvents(broker, ""))

	// set a; get and hit a; evict a and set b; expire b, get and miss b; delete b
	var v int
	m.Set(ctx, "a", 1, 0)
	m.Get(ctx, "a", &v)
	m.Set(ctx, "b", 2, 0)
	clock.Advance(2 * time.Second)
	m.Get(ctx, "b", &v)
	m.Delete(ctx, "b")

	const want = 9
	for i := 0; i < want; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d of %d events", i, want)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	checks := map[string][]string{
		EventSet:     {"a", "b"},
		EventHit:     {"a"},
		EventEvict:   {"a"},
		EventExpired: {"b"},
		EventMiss:    {"b"},
		EventDelete:  {"b"},
	}
	for typ, keys := range checks {
		if len(seen[typ]) != len(keys) {
			t.Errorf("%s events = %v, want %v", typ, seen[typ], keys)
			continue
		}
		for i := range keys {
			if seen[typ][i] != keys[i] {
				t.Errorf("%s events = %v, want %v", typ, seen[typ], keys)
			}
		}
	}
}

// lockClient is an in-memory redlock.Client.
type lockClient struct {
	mu       sync.Mutex
	values   map[string]string
	obtained int
}

func (c *lockClient) SetNX(ctx context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	cmd := redis.NewBoolCmd(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, held := c.values[key]; held {
		cmd.SetVal(false)
		return cmd
	}
	c.values[key] = value.(string)
	c.obtained++
	cmd.SetVal(true)
	return cmd
}

func (c *lockClient) Eval(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	cmd := redis.NewCmd(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values[keys[0]] == args[0].(string) {
		delete(c.values, keys[0])
		cmd.SetVal(int64(1))
		return cmd
	}
	cmd.SetVal(int64(0))
	return cmd
}

func TestManagerGetOrSetWithLocker(t *testing.T) {
	client := &lockClient{values: make(map[string]string)}
	locker := redlock.New(client, redlock.WithRetryDelay(time.Millisecond))
	engine := NewMemoryEngine(0, 0)
	ctx := context.Background()

	// two managers over one engine stand in for two processes
	first := NewManager(engine, WithLocker(locker))
	second := NewManager(engine, WithLocker(locker))

	got, err := Remember(ctx, first, "k", 0, func(context.Context) (string, error) { return "v", nil })
	if err != nil || got != "v" {
		t.Fatalf("Remember() = %q, %v", got, err)
	}
	got, err = Remember(ctx, second, "k", 0, func(context.Context) (string, error) { return "other", nil })
	if err != nil || got != "v" {
		t.Fatalf("second Remember() = %q, %v", got, err)
	}
	if client.obtained != 1 {
		t.Fatalf("expected one lock for the single load, got %d", client.obtained)
	}
	if len(client.values) != 0 {
		t.Fatalf("lock must be released after loading, held %v", client.values)
	}
}

func TestManagerGetOrSetCancelledCallerDoesNotFailOthers(t *testing.T) {
	m := NewManager(NewMemoryEngine(0, 0))
	release := make(chan struct{})
	started := make(chan struct{})
	load := func(ctx context.Context) (any, error) {
		close(started)
		select {
		case <-release:
			return "fresh", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		var v string
		firstErr <- m.GetOrSet(firstCtx, "k", &v, time.Minute, load)
	}()
	<-started

	secondErr := make(chan error, 1)
	var second string
	go func() {
		secondErr <- m.GetOrSet(context.Background(), "k", &second, time.Minute, load)
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller: expected context.Canceled, got %v", err)
	}
	close(release)
	if err := <-secondErr; err != nil {
		t.Fatalf("second caller: %v", err)
	}
	if second != "fresh" {
		t.Fatalf("second caller got %q", second)
	}
	if ok, _ := m.Has(context.Background(), "k"); !ok {
		t.Fatal("shared load result should be cached")
	}
}

func TestManagerMetadataUsesEngineDefaultTTL(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(NewMemoryEngine(0, time.Hour, WithClock(clock.Now)), WithManagerClock(clock.Now))
	ctx := context.Background()

	m.Set(ctx, "default", 1, 0)
	md, _, _ := m.Metadata(ctx, "default")
	if md.ExpiresAt == nil || !md.ExpiresAt.Equal(clock.Now().Add(time.Hour)) {
		t.Fatalf("default ttl expiry = %v, want now+1h", md.ExpiresAt)
	}

	m.Set(ctx, "forever", 1, -1)
	md, _, _ = m.Metadata(ctx, "forever")
	if md.ExpiresAt != nil {
		t.Fatalf("negative ttl expiry = %v, want none", md.ExpiresAt)
	}

	n := NewManager(NullEngine{})
	if exp := n.expiry(clock.Now(), 0); !exp.IsZero() {
		t.Fatalf("engine without a default ttl: expiry = %v", exp)
	}
}
