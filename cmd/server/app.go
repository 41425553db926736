package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/rl1809/rack-inventory/internal/adapter/event"
	"github.com/rl1809/rack-inventory/internal/adapter/storage"
	"github.com/rl1809/rack-inventory/internal/clock"
	"github.com/rl1809/rack-inventory/internal/config"
	"github.com/rl1809/rack-inventory/internal/core/service"
	"github.com/rl1809/rack-inventory/internal/observability"
	"github.com/rl1809/rack-inventory/internal/port"
)

type inventoryStore interface {
	port.Store
	Migrate(ctx context.Context) error
}

// app holds the process-wide resources shared by every command.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     inventoryStore
	cache     port.CacheRepository
	publisher port.EventPublisher
	inventory *service.InventoryService

	redis         *redis.Client
	traceShutdown func(context.Context) error
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := observability.NewLogger(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func openStore(ctx context.Context, cfg *config.Config) (inventoryStore, error) {
	switch cfg.StoreDriver {
	case config.DriverMySQL:
		db, err := storage.OpenMySQL(ctx, cfg.MySQLDSN)
		if err != nil {
			return nil, err
		}
		return storage.NewMySQLStore(db), nil
	default:
		client, err := storage.OpenMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, err
		}
		return storage.NewMongoStore(client, cfg.MongoDatabase, cfg.MongoTransactions), nil
	}
}

// bootstrap wires the full service. withService false stops after the store,
// which is all the maintenance commands need.
func bootstrap(ctx context.Context, withService bool) (*app, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, traceShutdown: func(context.Context) error { return nil }}

	a.store, err = openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to store", zap.String("driver", cfg.StoreDriver))

	if !withService {
		return a, nil
	}

	if a.traceShutdown, err = observability.SetupTracing(ctx, cfg.OTelEndpoint, cfg.OTelInsecure); err != nil {
		logger.Error("failed to setup tracing", zap.Error(err))
	}

	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			PoolSize: 100,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.cache = storage.NewRedisAdapter(a.redis)
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	} else {
		a.cache = storage.NewMemoryCache()
		logger.Warn("REDIS_ADDR not set, locks are local to this process")
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := event.NewKafkaProducer(event.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaTopic,
			BatchTimeout: 10 * time.Millisecond,
			BatchSize:    100,
		}, otel.GetTracerProvider())
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		a.publisher = event.NewKafkaPublisher(producer)
		logger.Info("publishing events", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	} else {
		a.publisher = event.NoopPublisher{}
	}

	loc, err := clock.Zone(cfg.Timezone)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	a.inventory = service.NewInventoryService(a.store, a.cache, clock.NewSystem(loc),
		service.WithLogger(logger),
		service.WithPublisher(a.publisher),
		service.WithLockWait(cfg.LockWait),
		service.WithLockTTL(cfg.LockTTL),
	)
	return a, nil
}

func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close(ctx))
	}
	errs = append(errs, a.traceShutdown(ctx))

	// stderr sync errors are expected on some platforms
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
