package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sraphaz/araponga/pkg/access"
	"github.com/sraphaz/araponga/pkg/audit"
	"github.com/sraphaz/araponga/pkg/cache"
	"github.com/sraphaz/araponga/pkg/config"
	"github.com/sraphaz/araponga/pkg/events"
	"github.com/sraphaz/araponga/pkg/flags"
	"github.com/sraphaz/araponga/pkg/middleware"
	"github.com/sraphaz/araponga/pkg/observability"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("araponga access service exited")
	}
}

func run() error {
	ctx := context.Background()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logrus.WithFields(logrus.Fields{
		"cache_backend": cfg.Cache.Backend,
		"cache_ttl":     cfg.Cache.TTL.String(),
	}).Info("starting araponga access service")

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("init otel: %w", err)
	}

	metrics := observability.NewMetrics()

	// Database. Optional: without it the service runs on in-memory stores,
	// which only makes sense for local development.
	var db *sql.DB
	var stores access.Stores
	if cfg.Database.URL != "" {
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnLifetime)

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		if err := access.RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		stores = access.NewSQLStores(db)
		logger.Info("using postgres fact stores")
	} else {
		stores = access.NewMemoryStores()
		logger.Warn("no database configured, using in-memory fact stores")
	}

	// Decision cache.
	var cacheService cache.Service
	var memoryCache *cache.MemoryCache
	switch cfg.Cache.Backend {
	case config.CacheBackendRedis:
		redisCache, err := cache.NewRedisCache(ctx, cache.RedisConfig{
			Addr:       cfg.Cache.RedisAddr,
			Password:   cfg.Cache.RedisPassword,
			DB:         cfg.Cache.RedisDB,
			MaxRetries: cfg.Cache.RedisMaxRetries,
			PoolSize:   cfg.Cache.RedisPoolSize,
		})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		cacheService = redisCache
	default:
		memoryCache = cache.NewMemoryCache(cfg.Cache.MemorySize, cfg.Cache.TTL)
		cacheService = memoryCache
	}
	defer cacheService.Close()

	// Audit sinks.
	auditLogger, err := buildAuditLogger(ctx, cfg, db)
	if err != nil {
		return fmt.Errorf("init audit: %w", err)
	}
	defer auditLogger.Close()

	// Feature flags. A flag file is watched for edits so territory overrides
	// land without a restart.
	var flagOracle access.FlagOracle
	if cfg.Flags.FilePath != "" {
		watched, err := flags.WatchFile(cfg.Flags.FilePath, logger)
		if err != nil {
			return fmt.Errorf("init flags: %w", err)
		}
		defer watched.Close()
		flagOracle = watched
	} else {
		flagOracle = flags.NewStaticProvider(map[string]bool{
			access.FlagMarketplaceEnabled: true,
		})
	}

	// Core wiring: bus, evaluator, invalidation, lifecycle services.
	bus := events.NewInProcessBus(logger, metrics)

	invalidator := access.NewInvalidator(cacheService,
		access.WithInvalidatorLogger(logger),
		access.WithInvalidatorMetrics(metrics),
	)
	invalidator.Register(bus)

	rules := access.NewRules(flagOracle)
	evaluator := access.NewEvaluator(stores, stores, stores, rules, cacheService, cfg.Cache.TTL,
		access.WithLogger(logger),
		access.WithMetrics(metrics),
	)

	serviceOpts := []access.ServiceOption{
		access.WithServiceLogger(logger),
		access.WithServiceMetrics(metrics),
		access.WithAuditor(auditLogger),
	}
	capabilities := access.NewCapabilityService(stores, bus, serviceOpts...)
	permissions := access.NewPermissionService(stores, bus, serviceOpts...)
	memberships := access.NewMembershipService(stores, bus, serviceOpts...)

	// Maintenance schedule: cache sweeps and limiter cleanup hang off one
	// cron scheduler, started after the router is wired.
	scheduler := cron.New()
	if memoryCache != nil {
		if _, err := scheduler.AddFunc("*/5 * * * *", func() {
			removed := memoryCache.Sweep()
			if removed > 0 {
				logger.WithField("removed", removed).Debug("swept expired cache entries")
			}
		}); err != nil {
			return fmt.Errorf("schedule cache sweep: %w", err)
		}
	}

	// HTTP surface: access checks and grant lifecycle under /v1, probes and
	// metrics at the root.
	health := observability.NewHealthChecker(db, cacheService)
	router := mux.NewRouter()
	router.HandleFunc("/healthz", health.Liveness).Methods(http.MethodGet)
	router.HandleFunc("/readyz", health.Readiness).Methods(http.MethodGet)
	if cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	router.Use(middleware.RequestID)
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))

	v1 := router.PathPrefix("/v1").Subrouter()

	// Rate limiting on the API surface only; probes and metrics stay open.
	// With the redis cache backend the limit is shared across instances.
	if cfg.Cache.Backend == config.CacheBackendRedis {
		limiterClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		defer limiterClient.Close()
		v1.Use(middleware.NewDistributedRateLimiter(limiterClient, nil, logger).Handler)
	} else {
		limiter := middleware.NewRateLimiter(nil)
		if _, err := scheduler.AddFunc("*/10 * * * *", limiter.Cleanup); err != nil {
			return fmt.Errorf("schedule limiter cleanup: %w", err)
		}
		v1.Use(limiter.Handler)
	}

	handlers := access.NewHandlers(evaluator, memberships, capabilities, permissions, logger)
	handlers.RegisterRoutes(v1)

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(router, "araponga.access"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	scheduler.Start()

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		stopCtx := scheduler.Stop()
		select {
		case <-stopCtx.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	if otelProviders != nil {
		shutdown.RegisterShutdownFunc(otelProviders.Shutdown)
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("ops server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return shutdown.WaitForShutdown()
	})

	return group.Wait()
}

func buildAuditLogger(ctx context.Context, cfg *config.Config, db *sql.DB) (audit.Logger, error) {
	var sinks []audit.Logger
	if cfg.Audit.FilePath != "" {
		fileLogger, err := audit.NewFileLogger(cfg.Audit.FilePath)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileLogger)
	}
	if cfg.Audit.DBEnabled && db != nil {
		dbLogger := audit.NewDBLogger(db)
		if err := dbLogger.Migrate(ctx); err != nil {
			return nil, err
		}
		sinks = append(sinks, dbLogger)
	}

	switch len(sinks) {
	case 0:
		return audit.NewNoOpLogger(), nil
	case 1:
		return audit.NewAsyncLogger(sinks[0], 2), nil
	default:
		return audit.NewAsyncLogger(audit.NewMultiLogger(sinks...), 2), nil
	}
}
