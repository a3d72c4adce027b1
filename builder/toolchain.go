package builder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/ldesign/toolkit/cache"
	"github.com/rs/zerolog/log"
)

// Module is an installed npm package.
type Module struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Dir     string `json:"dir"`
}

// Major returns the major version, or -1 if Version does not start with one.
func (m Module) Major() int {
	return majorVersion(m.Version)
}

// Toolchain resolves the npm packages a strategy needs. Strategies only call
// it from Apply, so nothing is looked up for strategies that are not used.
type Toolchain interface {
	Resolve(ctx context.Context, name string) (Module, error)
}

const (
	moduleCacheSize = 100
	moduleCacheTTL  = 5 * time.Minute
)

// NodeToolchain resolves packages from a node_modules directory.
type NodeToolchain struct {
	fsys  fs.FS
	root  string
	cache cache.Engine
}

// NodeModules resolves packages under root/node_modules. Lookups are cached
// in engine; a nil engine gets a private in-memory cache.
func NodeModules(root string, engine cache.Engine) *NodeToolchain {
	return newNodeToolchain(os.DirFS(root), root, engine)
}

func newNodeToolchain(fsys fs.FS, root string, engine cache.Engine) *NodeToolchain {
	if engine == nil {
		engine = cache.NewMemoryEngine(moduleCacheSize, moduleCacheTTL)
	}
	return &NodeToolchain{fsys: fsys, root: root, cache: engine}
}

type packageManifest struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Resolve reads node_modules/<name>/package.json.
func (t *NodeToolchain) Resolve(ctx context.Context, name string) (Module, error) {
	key := "module:" + t.root + ":" + name
	if raw, ok, err := t.cache.Get(ctx, key); err == nil && ok {
		var m Module
		if json.Unmarshal(raw, &m) == nil {
			return m, nil
		}
	} else if err != nil {
		log.Warn().Err(err).Str("module", name).Msg("module cache lookup failed")
	}

	dir := path.Join("node_modules", name)
	data, err := fs.ReadFile(t.fsys, path.Join(dir, "package.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return Module{}, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	if err != nil {
		return Module{}, fmt.Errorf("reading manifest of %s: %w", name, err)
	}
	var pkg packageManifest
	if err := json.Unmarshal(data, &pkg); err != nil {
		return Module{}, fmt.Errorf("parsing manifest of %s: %w", name, err)
	}

	m := Module{Name: name, Version: pkg.Version, Dir: path.Join(t.root, dir)}
	if raw, err := json.Marshal(m); err == nil {
		if err := t.cache.Set(ctx, key, raw, 0); err != nil {
			log.Warn().Err(err).Str("module", name).Msg("module cache store failed")
		}
	}
	log.Debug().Str("module", name).Str("version", m.Version).Msg("resolved module")
	return m, nil
}

// StaticToolchain resolves from a fixed package name to version table.
type StaticToolchain map[string]string

// Resolve implements Toolchain.
func (s StaticToolchain) Resolve(_ context.Context, name string) (Module, error) {
	v, ok := s[name]
	if !ok {
		return Module{}, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return Module{Name: name, Version: v, Dir: path.Join("node_modules", name)}, nil
}

// majorVersion extracts the major number from a version or simple range
// such as "3.4.1", "^2.7.0", "~18.2" or ">=5".
func majorVersion(v string) int {
	v = strings.TrimLeft(strings.TrimSpace(v), "^~>=<v ")
	end := strings.IndexFunc(v, func(r rune) bool { return r < '0' || r > '9' })
	if end == 0 {
		return -1
	}
	if end > 0 {
		v = v[:end]
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}
