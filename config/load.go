package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// EnvPrefix starts every environment override; sections are separated by a
// double underscore, e.g. LDESIGN_CACHE__MAX_SIZE.
const EnvPrefix = "LDESIGN_"

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := decode(filepath.Ext(path), data, cfg); err != nil {
			return nil, fmt.Errorf("decoding config %s: %w", path, err)
		}
		log.Debug().Str("path", path).Msg("config file loaded")
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(ext string, data []byte, cfg *Config) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".toml":
		_, err := toml.Decode(string(data), cfg)
		return err
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(cfg)
	default:
		return fmt.Errorf("unsupported config format %q", ext)
	}
}

type envOverride struct {
	key   string
	apply func(cfg *Config, v string) error
}

var envOverrides = []envOverride{
	{"LOG_LEVEL", func(c *Config, v string) error { c.LogLevel = v; return nil }},
	{"SERVER__ADDR", func(c *Config, v string) error { c.Server.Addr = v; return nil }},
	{"SERVER__SHUTDOWN_TIMEOUT", durationEnv(func(c *Config) *time.Duration { return &c.Server.ShutdownTimeout })},
	{"SERVER__PROJECT_ROOT", func(c *Config, v string) error { c.Server.ProjectRoot = v; return nil }},
	{"REDIS__ADDR", func(c *Config, v string) error { c.Redis.Addr = v; return nil }},
	{"REDIS__PASSWORD", func(c *Config, v string) error { c.Redis.Password = v; return nil }},
	{"REDIS__DB", intEnv(func(c *Config) *int { return &c.Redis.DB })},
	{"CACHE__ENGINE", func(c *Config, v string) error { c.Cache.Engine = v; return nil }},
	{"CACHE__MAX_SIZE", intEnv(func(c *Config) *int { return &c.Cache.MaxSize })},
	{"CACHE__DEFAULT_TTL", durationEnv(func(c *Config) *time.Duration { return &c.Cache.DefaultTTL })},
	{"CACHE__CLEANUP_INTERVAL", durationEnv(func(c *Config) *time.Duration { return &c.Cache.CleanupInterval })},
	{"CACHE__KEY_PREFIX", func(c *Config, v string) error { c.Cache.KeyPrefix = v; return nil }},
	{"CACHE__LOCK", boolEnv(func(c *Config) *bool { return &c.Cache.Lock })},
	{"EVENTS__BACKEND", func(c *Config, v string) error { c.Events.Backend = v; return nil }},
	{"LIMITER__STORAGE_TYPE", func(c *Config, v string) error { c.Limiter.StorageType = v; return nil }},
}

// ApplyEnv applies LDESIGN_* overrides found through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, o := range envOverrides {
		v, ok := lookup(EnvPrefix + o.key)
		if !ok {
			continue
		}
		if err := o.apply(cfg, v); err != nil {
			return fmt.Errorf("%w: %s%s: %w", ErrInvalidConfig, EnvPrefix, o.key, err)
		}
		log.Debug().Str("env", EnvPrefix+o.key).Msg("config override from environment")
	}
	return nil
}

func durationEnv(field func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

func intEnv(field func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolEnv(field func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}
