package builder

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"github.com/ldesign/toolkit/cache"
)

func TestNodeToolchainResolve(t *testing.T) {
	fsys := fstest.MapFS{
		"node_modules/vue/package.json":           {Data: []byte(`{"name":"vue","version":"3.4.27"}`)},
		"node_modules/@angular/core/package.json": {Data: []byte(`{"name":"@angular/core","version":"17.3.0"}`)},
		"node_modules/broken/package.json":        {Data: []byte(`{`)},
	}
	tc := newNodeToolchain(fsys, "/proj", nil)
	ctx := context.Background()

	m, err := tc.Resolve(ctx, "vue")
	if err != nil {
		t.Fatalf("Resolve(vue): %v", err)
	}
	if m.Version != "3.4.27" || m.Major() != 3 || m.Dir != "/proj/node_modules/vue" {
		t.Errorf("vue = %+v", m)
	}

	m, err = tc.Resolve(ctx, "@angular/core")
	if err != nil || m.Major() != 17 {
		t.Errorf("Resolve(@angular/core) = %+v, %v", m, err)
	}

	if _, err := tc.Resolve(ctx, "react"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("Resolve(react) err = %v, want ErrModuleNotFound", err)
	}
	if _, err := tc.Resolve(ctx, "broken"); err == nil || errors.Is(err, ErrModuleNotFound) {
		t.Errorf("Resolve(broken) err = %v, want a parse error", err)
	}
}

func TestNodeToolchainCachesLookups(t *testing.T) {
	fsys := fstest.MapFS{
		"node_modules/lit/package.json": {Data: []byte(`{"name":"lit","version":"3.1.4"}`)},
	}
	engine := cache.NewMemoryEngine(moduleCacheSize, moduleCacheTTL)
	tc := newNodeToolchain(fsys, "/proj", engine)
	ctx := context.Background()

	if _, err := tc.Resolve(ctx, "lit"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	delete(fsys, "node_modules/lit/package.json")

	m, err := tc.Resolve(ctx, "lit")
	if err != nil {
		t.Fatalf("cached Resolve: %v", err)
	}
	if m.Version != "3.1.4" {
		t.Errorf("version = %s", m.Version)
	}
	if s := engine.Stats(); s.Hits != 1 || s.Size != 1 {
		t.Errorf("cache stats = %+v, want one hit and one entry", s)
	}
}

func TestNodeToolchainCacheExpires(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	fsys := fstest.MapFS{
		"node_modules/lit/package.json": {Data: []byte(`{"name":"lit","version":"3.1.4"}`)},
	}
	tc := newNodeToolchain(fsys, "/proj", cache.NewMemoryEngine(moduleCacheSize, moduleCacheTTL, cache.WithClock(clock)))
	ctx := context.Background()

	if _, err := tc.Resolve(ctx, "lit"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	fsys["node_modules/lit/package.json"] = &fstest.MapFile{Data: []byte(`{"name":"lit","version":"3.2.0"}`)}
	now = now.Add(moduleCacheTTL + time.Second)

	m, err := tc.Resolve(ctx, "lit")
	if err != nil {
		t.Fatalf("Resolve after expiry: %v", err)
	}
	if m.Version != "3.2.0" {
		t.Errorf("version = %s, want the re-read 3.2.0", m.Version)
	}
}

func TestStaticToolchain(t *testing.T) {
	tc := StaticToolchain{"react": "18.3.1"}
	m, err := tc.Resolve(context.Background(), "react")
	if err != nil || m.Major() != 18 {
		t.Errorf("Resolve(react) = %+v, %v", m, err)
	}
	if _, err := tc.Resolve(context.Background(), "vue"); !errors.Is(err, ErrModuleNotFound) {
		t.Errorf("Resolve(vue) err = %v", err)
	}
}

func TestMajorVersion(t *testing.T) {
	tests := map[string]int{
		"3.4.1":        3,
		"^2.7.0":       2,
		"~18.2":        18,
		">=5":          5,
		"v1.0.0":       1,
		"latest":       -1,
		"workspace:*":  -1,
		"":             -1,
		"10.22.0-beta": 10,
	}
	for in, want := range tests {
		if got := majorVersion(in); got != want {
			t.Errorf("majorVersion(%q) = %d, want %d", in, got, want)
		}
	}
}
