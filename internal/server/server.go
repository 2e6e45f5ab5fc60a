// Package server assembles the planner: storage tiers, the generation
// pipeline, sync and the HTTP surface, wired with fx.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/domain/catalog"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/genconfig"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/generator"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/itinerary"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/persistence"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/recovery"
	"github.com/FACorreiaa/loci-planner/internal/app/domain/syncmgr"
	"github.com/FACorreiaa/loci-planner/internal/app/models"
	database "github.com/FACorreiaa/loci-planner/internal/db"
	"github.com/FACorreiaa/loci-planner/internal/pkg/cache"
	"github.com/FACorreiaa/loci-planner/internal/pkg/config"
)

const (
	sessionTTL  = 24 * time.Hour
	syncBuffer  = 64
	pprofAddr   = "localhost:6060"
	readTimeout = 10 * time.Second
)

// CoreModule provides the engine and everything behind it.
var CoreModule = fx.Options(
	fx.Provide(
		ProvideGeneratorConfig,
		ProvideRedis,
		ProvideTiers,
		ProvidePersistence,
		ProvideCaches,
		ProvideGenerator,
		ProvideSyncChannel,
		ProvideSyncManager,
		ProvideEngine,
	),
)

// HTTPModule serves the engine over HTTP.
var HTTPModule = fx.Options(
	fx.Provide(
		func(e *itinerary.Engine, logger *zap.Logger) *itinerary.Handler {
			return itinerary.NewHandler(e, logger)
		},
		SetupRouter,
		ProvideHTTPServer,
	),
	fx.Invoke(StartHTTP),
)

// Module is the full service.
var Module = fx.Options(CoreModule, HTTPModule)

// ProvideGeneratorConfig resolves the defaults layered with the optional
// overrides file.
func ProvideGeneratorConfig(cfg *config.Config, logger *zap.Logger) (models.GeneratorConfig, error) {
	var overrides *models.ConfigOverrides
	if cfg.GeneratorConfigFile != "" {
		o, err := genconfig.LoadOverrides(cfg.GeneratorConfigFile)
		if err != nil {
			return models.GeneratorConfig{}, err
		}
		overrides = o
	}
	genCfg, res, err := genconfig.Resolve(overrides)
	if err != nil {
		logger.Error("Generator configuration rejected", zap.Strings("errors", res.Messages()))
		return models.GeneratorConfig{}, err
	}
	logger.Info("Generator configuration resolved",
		zap.String("storage_type", string(genCfg.Persistence.StorageType)),
		zap.String("intensity", string(genCfg.ActivityDensity.Level)),
		zap.Int("timeout_ms", genCfg.Performance.TimeoutMs))
	return genCfg, nil
}

// ProvideRedis returns nil when no component is configured for Redis.
func ProvideRedis(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) redis.UniversalClient {
	if !cfg.UsesRedis() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				logger.Warn("Redis is not reachable yet", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
			}
			return nil
		},
		OnStop: func(context.Context) error { return client.Close() },
	})
	return client
}

// ProvideTiers opens the configured backends.
func ProvideTiers(lc fx.Lifecycle, cfg *config.Config, rdb redis.UniversalClient, logger *zap.Logger) (persistence.Tiers, error) {
	var tiers persistence.Tiers

	switch cfg.Storage.Driver {
	case "postgres":
		dbCfg, err := database.NewDatabaseConfig(cfg, logger)
		if err != nil {
			return tiers, fmt.Errorf("failed to initialize database configuration: %w", err)
		}
		pool, err := database.Init(dbCfg, logger)
		if err != nil {
			return tiers, fmt.Errorf("failed to initialize database pool: %w", err)
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if !database.WaitForDB(ctx, pool, logger) {
					return errors.New("postgres did not answer")
				}
				return database.RunMigrations(dbCfg.ConnectionURL, logger)
			},
			OnStop: func(context.Context) error {
				pool.Close()
				return nil
			},
		})
		tiers.Structured = persistence.NewPostgresStore(pool, logger)
	default:
		db, err := database.OpenSQLite(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return tiers, err
		}
		store, err := persistence.NewGormStore(db, logger)
		if err != nil {
			return tiers, err
		}
		lc.Append(fx.StopHook(func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		}))
		tiers.Structured = store
	}

	switch cfg.Storage.LocalDriver {
	case "redis":
		tiers.KV = persistence.NewRedisStore(rdb, persistence.DefaultKeyPrefix, 0, logger)
	default:
		fs, err := persistence.NewFileStore(cfg.Storage.LocalFilePath, logger)
		if err != nil {
			return tiers, err
		}
		tiers.KV = fs
	}

	tiers.Session = persistence.NewSessionStore(sessionTTL)
	logger.Info("Storage tiers ready",
		zap.String("structured", tiers.Structured.Name()),
		zap.String("kv", tiers.KV.Name()))
	return tiers, nil
}

func ProvidePersistence(genCfg models.GeneratorConfig, tiers persistence.Tiers, logger *zap.Logger) *persistence.Manager {
	return persistence.NewManager(genCfg.Persistence, tiers, logger)
}

func ProvideCaches(lc fx.Lifecycle, genCfg models.GeneratorConfig, logger *zap.Logger) *cache.CacheManager {
	caches := cache.NewCacheManager(time.Duration(genCfg.Performance.CacheTTLSeconds)*time.Second, logger)
	lc.Append(fx.StopHook(caches.Close))
	return caches
}

// ProvideGenerator builds the pipeline over the built-in catalog and the
// heuristic oracle, both memoised.
func ProvideGenerator(genCfg models.GeneratorConfig, caches *cache.CacheManager, logger *zap.Logger) generator.Service {
	ttl := time.Duration(genCfg.Performance.CacheTTLSeconds) * time.Second
	provider := catalog.NewCachedProvider(catalog.NewStaticCatalog(logger, catalog.DefaultCities()...), caches.Destinations, ttl, logger)
	oracle := catalog.NewCachedOracle(catalog.NewHeuristicOracle(), caches.Scores, logger)
	return generator.NewGeneratorService(provider, oracle, recovery.NewManager(logger), logger,
		generator.WithBaseConfig(genCfg))
}

func ProvideSyncChannel(lc fx.Lifecycle, cfg *config.Config, rdb redis.UniversalClient, logger *zap.Logger) syncmgr.Channel {
	var ch syncmgr.Channel
	if cfg.SyncChannel == "redis" {
		ch = syncmgr.NewRedisChannel(rdb, syncmgr.DefaultRedisChannel, logger)
	} else {
		ch = syncmgr.NewLocalChannel(syncBuffer)
	}
	lc.Append(fx.StopHook(ch.Close))
	return ch
}

func ProvideSyncManager(cfg *config.Config, genCfg models.GeneratorConfig, ch syncmgr.Channel, store *persistence.Manager, logger *zap.Logger) (*syncmgr.Manager, error) {
	strategy, err := syncmgr.ParseStrategy(cfg.SyncStrategy)
	if err != nil {
		return nil, err
	}
	interval := time.Duration(genCfg.Persistence.SyncIntervalMs) * time.Millisecond
	logger.Info("Sync manager configured", zap.String("strategy", string(strategy)), zap.Duration("interval", interval))
	return syncmgr.NewManager(ch, store, strategy, interval, logger), nil
}

// ProvideEngine builds the engine and runs its background loops, and those of
// the sync manager, for the lifetime of the app.
func ProvideEngine(lc fx.Lifecycle, genCfg models.GeneratorConfig, gen generator.Service, store *persistence.Manager, syncMgr *syncmgr.Manager, logger *zap.Logger) *itinerary.Engine {
	ttl := time.Duration(genCfg.Performance.CacheTTLSeconds) * time.Second
	e := itinerary.NewEngine(gen, store, logger,
		itinerary.WithSyncer(syncMgr),
		itinerary.WithEviction(2*ttl, ttl),
	)
	syncMgr.SetHandler(e)

	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			if err := syncMgr.Start(ctx); err != nil {
				cancel()
				return err
			}
			e.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			defer cancel()
			return errors.Join(e.Close(), syncMgr.Close())
		},
	})
	return e
}

func ProvideHTTPServer(cfg *config.Config, router *gin.Engine) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		IdleTimeout:       time.Minute,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      30 * time.Second,
	}
}

// StartHTTP serves the API and the pprof endpoint between app start and stop.
func StartHTTP(lc fx.Lifecycle, srv *http.Server, logger *zap.Logger) {
	pprofSrv := NewPprofServer(pprofAddr)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			StartPprofServer(pprofSrv, logger)
			go func() {
				logger.Info("Server starting", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return errors.Join(GracefulShutdown(ctx, srv, logger), GracefulShutdown(ctx, pprofSrv, logger))
		},
	})
}
