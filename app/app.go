// Package app assembles the service components from configuration and runs
// them under a lifecycle manager.
package app

import (
	"context"
	"fmt"

	"github.com/ldesign/toolkit/cache"
	"github.com/ldesign/toolkit/config"
	"github.com/ldesign/toolkit/event"
	"github.com/ldesign/toolkit/lifecycle"
	"github.com/ldesign/toolkit/limiter"
	"github.com/ldesign/toolkit/redlock"
	"github.com/ldesign/toolkit/server"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// App owns every long-lived component of the service.
type App struct {
	cfg       *config.Config
	lifecycle *lifecycle.Manager

	Broker *event.Broker
	Cache  *cache.Manager
	Server *server.Server

	subscription string
}

// New builds the components described by cfg without starting them.
func New(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg, lifecycle: lifecycle.New()}

	var client *redis.Client
	if cfg.Redis.Addr != "" {
		client = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		err := a.lifecycle.Register(lifecycle.Func{
			ComponentName: "redis",
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("pinging redis at %s: %w", cfg.Redis.Addr, err)
				}
				return nil
			},
			OnStop: func(context.Context) error { return client.Close() },
		})
		if err != nil {
			return nil, err
		}
	}

	var brokerOpts []event.BrokerOption
	if cfg.Events.Backend == config.EventsRedis {
		brokerOpts = append(brokerOpts,
			event.WithRedisClient(client),
			event.WithQueuePrefix(cfg.Cache.KeyPrefix+"events:"))
	}
	a.Broker = event.NewBroker(brokerOpts...)
	if err := a.lifecycle.Register(a.Broker); err != nil {
		return nil, err
	}

	engine, err := a.cacheEngine(client)
	if err != nil {
		return nil, err
	}
	managerOpts := []cache.ManagerOption{
		cache.WithEngineName(cfg.Cache.Engine),
		cache.WithEvents(a.Broker, cfg.Events.Topic),
	}
	if cfg.Cache.Lock {
		managerOpts = append(managerOpts, cache.WithLocker(redlock.New(client, redlock.WithKeyPrefix(cfg.Cache.KeyPrefix+"lock:"))))
	}
	a.Cache = cache.NewManager(engine, managerOpts...)

	serverOpts := []server.Option{server.WithPlanTTL(cfg.Cache.PlanTTL)}
	if len(cfg.Limiter.Rules) > 0 {
		store, err := a.limiterStore(client)
		if err != nil {
			return nil, err
		}
		serverOpts = append(serverOpts, server.WithRuleLimiter(limiter.NewRuleLimiter(&cfg.Limiter, store)))
	}
	a.Server = server.New(cfg.Server, a.Cache, serverOpts...)
	if err := a.lifecycle.Register(a.Server); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) cacheEngine(client *redis.Client) (cache.Engine, error) {
	c := a.cfg.Cache
	switch c.Engine {
	case config.EngineRedis:
		return cache.NewRedisEngine(client, c.KeyPrefix, c.DefaultTTL), nil
	case config.EngineNull:
		return cache.NullEngine{}, nil
	default:
		engine := cache.NewMemoryEngine(c.MaxSize, c.DefaultTTL, cache.WithCleanupInterval(c.CleanupInterval))
		if err := a.lifecycle.Register(engine); err != nil {
			return nil, err
		}
		return engine, nil
	}
}

func (a *App) limiterStore(client *redis.Client) (limiter.Store, error) {
	if a.cfg.Limiter.StorageType == limiter.StorageRedis {
		return limiter.NewRedisStore(client, limiter.WithKeyPrefix(a.cfg.Cache.KeyPrefix+"ratelimit:")), nil
	}
	store := limiter.NewMemoryStore()
	if err := a.lifecycle.Register(limiter.NewSweeper(store, 0, 0)); err != nil {
		return nil, err
	}
	return store, nil
}

// Start starts every component in registration order and logs cache events
// at debug level.
func (a *App) Start(ctx context.Context) error {
	if err := a.lifecycle.StartAll(ctx); err != nil {
		return err
	}
	id, err := a.Broker.Subscribe(ctx, a.cfg.Events.Topic, func(_ context.Context, e event.Event) {
		log.Debug().Str("type", e.Type).Str("key", e.Key).Interface("attrs", e.Attrs).Msg("cache event")
	}, event.WithBufferSize(a.cfg.Events.BufferSize))
	if err != nil {
		log.Warn().Err(err).Msg("cache event logging disabled")
		return nil
	}
	a.subscription = id
	return nil
}

// Stop stops every component in reverse order within the shutdown timeout.
func (a *App) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if a.subscription != "" {
		if err := a.Broker.Unsubscribe(ctx, a.subscription); err != nil {
			log.Debug().Err(err).Msg("unsubscribing cache event logger")
		}
		a.subscription = ""
	}
	return a.lifecycle.StopAll(ctx)
}

// Run starts the app, blocks until ctx is done and then stops it.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	log.Info().Str("addr", a.Server.Addr().String()).Msg("ldesign service running")
	<-ctx.Done()
	log.Info().Msg("shutting down")
	return a.Stop(context.WithoutCancel(ctx))
}
