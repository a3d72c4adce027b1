// Package config loads the ldesign service configuration from YAML, TOML or
// JSON files with LDESIGN_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/ldesign/toolkit/limiter"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("config: invalid")

// Cache engines.
const (
	EngineMemory = "memory"
	EngineRedis  = "redis"
	EngineNull   = "null"
)

// Event bus backends.
const (
	EventsMemory = "memory"
	EventsRedis  = "redis"
)

// Config is the service configuration.
type Config struct {
	LogLevel string         `yaml:"log_level" json:"log_level" toml:"log_level"`
	Server   ServerConfig   `yaml:"server" json:"server" toml:"server"`
	Redis    RedisConfig    `yaml:"redis" json:"redis" toml:"redis"`
	Cache    CacheConfig    `yaml:"cache" json:"cache" toml:"cache"`
	Events   EventsConfig   `yaml:"events" json:"events" toml:"events"`
	Limiter  limiter.Config `yaml:"limiter" json:"limiter" toml:"limiter"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr" toml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" toml:"shutdown_timeout"`
	// ProjectRoot is where plan requests resolve node_modules.
	ProjectRoot string `yaml:"project_root" json:"project_root" toml:"project_root"`
}

// RedisConfig is shared by every Redis-backed component. An empty Addr
// means Redis is not available.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr" toml:"addr"`
	Password string `yaml:"password" json:"password" toml:"password"`
	DB       int    `yaml:"db" json:"db" toml:"db"`
}

// CacheConfig configures the cache engine and manager.
type CacheConfig struct {
	Engine          string        `yaml:"engine" json:"engine" toml:"engine"`
	MaxSize         int           `yaml:"max_size" json:"max_size" toml:"max_size"`
	DefaultTTL      time.Duration `yaml:"default_ttl" json:"default_ttl" toml:"default_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval" toml:"cleanup_interval"`
	KeyPrefix       string        `yaml:"key_prefix" json:"key_prefix" toml:"key_prefix"`
	PlanTTL         time.Duration `yaml:"plan_ttl" json:"plan_ttl" toml:"plan_ttl"`
	// Lock serialises loads of the same key across processes; needs Redis.
	Lock bool `yaml:"lock" json:"lock" toml:"lock"`
}

// EventsConfig configures the event broker.
type EventsConfig struct {
	Backend    string `yaml:"backend" json:"backend" toml:"backend"`
	BufferSize int    `yaml:"buffer_size" json:"buffer_size" toml:"buffer_size"`
	Topic      string `yaml:"topic" json:"topic" toml:"topic"`
}

// DefaultConfig returns a configuration that runs without Redis.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			ProjectRoot:     ".",
		},
		Cache: CacheConfig{
			Engine:          EngineMemory,
			MaxSize:         1000,
			DefaultTTL:      5 * time.Minute,
			CleanupInterval: time.Minute,
			KeyPrefix:       "ldesign:",
			PlanTTL:         10 * time.Minute,
		},
		Events: EventsConfig{
			Backend:    EventsMemory,
			BufferSize: 64,
			Topic:      "cache",
		},
		Limiter: limiter.Config{
			StorageType: limiter.StorageMemory,
			Rules: []limiter.Rule{
				{
					Path:    "/v1/plan",
					LimitBy: []string{limiter.LimitByIP},
					Bucket:  limiter.Bucket{Capacity: 20, TokensPerInterval: 10, Interval: time.Second},
				},
			},
		},
	}
}

func invalid(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...))
}

// Validate checks the configuration and prepares the limiter rules.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return invalid("server.addr", "must not be empty")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return invalid("server.shutdown_timeout", "%s must be positive", c.Server.ShutdownTimeout)
	}
	if c.Server.ReadTimeout < 0 || c.Server.WriteTimeout < 0 {
		return invalid("server", "timeouts must not be negative")
	}

	switch c.Cache.Engine {
	case EngineMemory, EngineNull:
	case EngineRedis:
		if c.Redis.Addr == "" {
			return invalid("cache.engine", "redis engine requires redis.addr")
		}
	default:
		return invalid("cache.engine", "unknown engine %q", c.Cache.Engine)
	}
	if c.Cache.MaxSize < 0 {
		return invalid("cache.max_size", "%d must not be negative", c.Cache.MaxSize)
	}
	if c.Cache.CleanupInterval <= 0 {
		return invalid("cache.cleanup_interval", "%s must be positive", c.Cache.CleanupInterval)
	}
	if c.Cache.Lock && c.Redis.Addr == "" {
		return invalid("cache.lock", "requires redis.addr")
	}

	switch c.Events.Backend {
	case EventsMemory:
	case EventsRedis:
		if c.Redis.Addr == "" {
			return invalid("events.backend", "redis backend requires redis.addr")
		}
	default:
		return invalid("events.backend", "unknown backend %q", c.Events.Backend)
	}
	if c.Events.BufferSize <= 0 {
		return invalid("events.buffer_size", "%d must be positive", c.Events.BufferSize)
	}

	if err := c.Limiter.ValidateAndPrepare(); err != nil {
		return fmt.Errorf("%w: limiter: %w", ErrInvalidConfig, err)
	}
	if c.Limiter.StorageType == limiter.StorageRedis && c.Redis.Addr == "" {
		return invalid("limiter.storage_type", "redis storage requires redis.addr")
	}
	return nil
}
