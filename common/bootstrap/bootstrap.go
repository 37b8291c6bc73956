package bootstrap

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/telflow/telflow/common/cache"
	"github.com/telflow/telflow/common/config"
	"github.com/telflow/telflow/common/db"
	"github.com/telflow/telflow/common/logger"
	"github.com/telflow/telflow/common/queue"
	redisc "github.com/telflow/telflow/common/redis"
)

// Setup initializes all service components.
// This is the main entry point for the engine service.
func Setup(ctx context.Context, serviceName string, opts ...Option) (*Components, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	components := &Components{
		cleanupFuncs: make([]func() error, 0),
	}

	// 1. Load configuration
	var err error
	if options.customConfig != nil {
		components.Config = options.customConfig
	} else {
		components.Config, err = config.Load(serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	// 2. Initialize logger
	if options.customLogger != nil {
		components.Logger = options.customLogger
	} else {
		components.Logger = logger.New(
			components.Config.Service.LogLevel,
			components.Config.Service.LogFormat,
		)
	}

	components.Logger.Info("initializing service",
		"service", serviceName,
		"environment", components.Config.Service.Environment,
	)

	// 3. Initialize database when a Postgres backend is configured
	if !options.skipDB && components.Config.NeedsDB() {
		components.Logger.Info("connecting to database")
		components.DB, err = db.New(ctx, components.Config, components.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		components.addCleanup(func() error {
			components.DB.Close()
			return nil
		})
	}

	// 4. Initialize Redis when the session store or limiter needs it
	if !options.skipRedis && components.Config.NeedsRedis() {
		components.Logger.Info("connecting to redis", "addr", components.Config.Redis.Addr)

		raw := goredis.NewClient(&goredis.Options{
			Addr:     components.Config.Redis.Addr,
			Password: components.Config.Redis.Password,
			DB:       components.Config.Redis.DB,
		})
		if err := raw.Ping(ctx).Err(); err != nil {
			components.Shutdown(ctx)
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}

		components.Redis = redisc.NewClient(raw, components.Logger)
		components.addCleanup(func() error {
			components.Logger.Info("closing redis connection")
			return components.Redis.Close()
		})
	}

	// 5. Initialize queue (scheduler run requests)
	components.Queue = queue.NewMemoryQueue(components.Logger)
	components.addCleanup(func() error {
		components.Logger.Info("closing queue")
		return components.Queue.Close()
	})

	// 6. Initialize cache (compiled graphs)
	if components.Config.Cache.Enabled {
		components.Cache = cache.NewMemoryCache(components.Logger)
		components.addCleanup(func() error {
			components.Logger.Info("closing cache")
			return components.Cache.Close()
		})
	}

	return components, nil
}
