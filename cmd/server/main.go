package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	pricesyncapp "github.com/erp/pricesync/internal/application/pricesync"
	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/erp/pricesync/internal/domain/shared"
	"github.com/erp/pricesync/internal/infrastructure/auth"
	"github.com/erp/pricesync/internal/infrastructure/cache"
	"github.com/erp/pricesync/internal/infrastructure/config"
	"github.com/erp/pricesync/internal/infrastructure/erp"
	"github.com/erp/pricesync/internal/infrastructure/event"
	"github.com/erp/pricesync/internal/infrastructure/lock"
	"github.com/erp/pricesync/internal/infrastructure/logger"
	"github.com/erp/pricesync/internal/infrastructure/persistence"
	"github.com/erp/pricesync/internal/infrastructure/scheduler"
	"github.com/erp/pricesync/internal/infrastructure/storage"
	"github.com/erp/pricesync/internal/infrastructure/telemetry"
	"github.com/erp/pricesync/internal/interfaces/http/handler"
	"github.com/erp/pricesync/internal/interfaces/http/middleware"
	"github.com/erp/pricesync/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// stopper is a shutdown hook, run in reverse registration order
type stopper struct {
	name string
	fn   func(ctx context.Context) error
}

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	logCfg := logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output}
	log := logger.New(logCfg)

	var stoppers []stopper
	onShutdown := func(name string, fn func(ctx context.Context) error) {
		stoppers = append(stoppers, stopper{name: name, fn: fn})
	}

	// OpenTelemetry: traces, metrics and optionally logs
	exporter := telemetry.Exporter{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.CollectorEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
	}
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{Exporter: exporter, SamplingRatio: cfg.Telemetry.SamplingRatio}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	onShutdown("tracer provider", tracerProvider.Shutdown)

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{Exporter: exporter, ExportInterval: cfg.Telemetry.MetricsInterval}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	onShutdown("meter provider", meterProvider.Shutdown)

	if cfg.Telemetry.Enabled && cfg.Telemetry.LogExportEnabled {
		logProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{Exporter: exporter}, log)
		if err != nil {
			log.Fatal("Failed to initialize log exporter", zap.Error(err))
		}
		log = logger.New(logCfg, telemetry.NewZapOTELCore(logProvider, logger.ParseLevel(cfg.Log.Level)))
		onShutdown("log provider", logProvider.Shutdown)
	}
	defer func() { _ = log.Sync() }()

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:           cfg.Telemetry.ProfilingEnabled,
		ServerAddress:     cfg.Telemetry.PyroscopeAddress,
		ApplicationName:   cfg.Telemetry.ServiceName,
		BasicAuthUser:     cfg.Telemetry.PyroscopeUser,
		BasicAuthPassword: cfg.Telemetry.PyroscopePassword,
		ProfileTypes:      cfg.Telemetry.ProfileTypes,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	onShutdown("profiler", func(context.Context) error { return profiler.Stop() })
	if profiler.IsEnabled() {
		tracerProvider.EnableSpanProfiles()
	}

	log.Info("Starting price sync service",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	// Database
	db, err := persistence.OpenDatabase(ctx, &cfg.Database, log,
		persistence.WithSQLLogging(logger.MapGormLogLevel(cfg.Log.Level), cfg.Telemetry.DBSlowQueryThresh),
	)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled:         cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		SlowQueryThresh: cfg.Telemetry.DBSlowQueryThresh,
		DBName:          cfg.Database.DBName,
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	dbMetrics, err := telemetry.RegisterDBMetrics(db.DB, meterProvider, telemetry.DBMetricsConfig{
		Enabled:            cfg.Telemetry.Enabled,
		SlowQueryThreshold: cfg.Telemetry.DBSlowQueryThresh,
		PoolStatsInterval:  15 * time.Second,
	}, log)
	if err != nil {
		log.Fatal("Failed to register database metrics", zap.Error(err))
	}
	if dbMetrics != nil {
		dbMetrics.StartPoolStatsCollection(ctx)
		onShutdown("db metrics", func(context.Context) error { dbMetrics.Stop(); return nil })
	}
	log.Info("Database connected successfully")

	// Repositories
	jobRepo := persistence.NewGormSyncJobRepository(db.DB)
	conflictRepo := persistence.NewGormConflictRepository(db.DB)
	ruleRepo := persistence.NewGormPricingRuleRepository(db.DB)
	settingsRepo := persistence.NewGormSettingsRepository(db.DB)
	historyRepo := persistence.NewGormPriceHistoryRepository(db.DB)
	productRepo := persistence.NewGormProductRepository(db.DB)
	orderRepo := persistence.NewGormOrderRepository(db.DB)
	transactor := persistence.NewGormTransactor(db.DB,
		persistence.WithRetry(cfg.Sync.TxRetryAttempts, cfg.Sync.TxRetryBackoff),
		persistence.WithTransactorLogger(log),
	)

	// Cross-instance coordination: Redis when enabled, in-process otherwise
	var (
		redisClient *redis.Client
		invalidator pricesync.CacheInvalidator
		locker      pricesync.JobLocker
		deliveries  shared.IdempotencyStore
	)
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		onShutdown("redis", func(context.Context) error { return redisClient.Close() })
		invalidator = cache.NewRedisInvalidator(redisClient,
			cache.WithChannel(cfg.Redis.Channel),
			cache.WithLogger(log),
		)
		locker = lock.NewRedisJobLocker(redisClient, log)
		deliveries = cache.NewRedisIdempotencyStore(redisClient, "")
		log.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
	} else {
		invalidator = cache.NewLocalInvalidator()
		locker = lock.NewMemoryJobLocker()
		deliveries = cache.NewInMemoryIdempotencyStore(5 * time.Minute)
		log.Warn("Redis disabled, job locks and cache invalidation are process-local")
	}
	onShutdown("cache invalidator", func(context.Context) error { return invalidator.Close() })
	onShutdown("webhook deliveries", func(context.Context) error { return deliveries.Close() })

	// Settings and rules
	defaults, err := defaultSettings(cfg.Pricing)
	if err != nil {
		log.Fatal("Invalid [pricing] defaults", zap.Error(err))
	}
	settingsStore := pricesyncapp.NewSettingsStore(settingsRepo, defaults, invalidator, log)
	if err := settingsStore.Reload(ctx); err != nil {
		log.Fatal("Failed to load tenant sync settings", zap.Error(err))
	}
	ruleCache := pricesyncapp.NewRuleCache(ruleRepo, invalidator, log)

	applierCtx, stopApplier := context.WithCancel(ctx)
	applier := pricesyncapp.NewCacheUpdateApplier(ruleCache, settingsStore, log)
	go func() {
		if err := applier.Run(applierCtx, invalidator); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Cache update subscription ended", zap.Error(err))
		}
	}()
	onShutdown("cache update applier", func(context.Context) error { stopApplier(); return nil })

	// Event bus
	eventBus := event.NewInMemoryEventBus(log)

	// Conflict pipeline
	dispatcher := pricesyncapp.NewDispatcher(conflictRepo, productRepo, orderRepo, historyRepo, transactor, nil, log)
	conflictService := pricesyncapp.NewConflictService(pricesyncapp.ConflictServiceDeps{
		Conflicts:  conflictRepo,
		Products:   productRepo,
		Orders:     orderRepo,
		Dispatcher: dispatcher,
		Rules:      ruleCache,
		Settings:   settingsStore,
		Tx:         transactor,
		Publisher:  eventBus,
		Notifier:   pricesyncapp.NewLogReviewNotifier(log),
		Logger:     log,
		PageSize:   cfg.Conflict.SweepPageSize,
	})

	syncMetrics, err := telemetry.NewSyncMetrics(telemetry.SyncMetricsConfig{
		Meter:           meterProvider.Meter("pricesync"),
		Logger:          log,
		PendingProvider: conflictService.PendingProvider(),
	})
	if err != nil {
		log.Fatal("Failed to register sync metrics", zap.Error(err))
	}
	syncMetrics.StartCollection(ctx)
	onShutdown("sync metrics", func(context.Context) error { syncMetrics.Stop(); return nil })

	eventBus.Subscribe(pricesyncapp.NewAuditLogHandler(log))
	eventBus.Subscribe(pricesyncapp.NewMetricsHandler(syncMetrics, eventBus))
	if err := eventBus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}
	onShutdown("event bus", eventBus.Stop)

	// ERP client and orchestrator
	erpClient, err := erp.NewHTTPClient(erp.Config{
		BaseURL:            cfg.ERP.BaseURL,
		APIKey:             cfg.ERP.APIKey,
		RequestTimeout:     cfg.ERP.RequestTimeout,
		RateLimitPerSecond: float64(cfg.ERP.RateLimitPerSecond),
		MaxIDsPerRequest:   cfg.ERP.MaxIDsPerRequest,
	}, log)
	if err != nil {
		log.Fatal("Failed to create ERP client", zap.Error(err))
	}

	processor := pricesyncapp.NewRecordProcessor(productRepo, historyRepo, transactor, conflictService, log)
	orchestrator := pricesyncapp.NewSyncOrchestrator(pricesyncapp.OrchestratorDeps{
		Jobs:      jobRepo,
		Products:  productRepo,
		Erp:       erpClient,
		Processor: processor,
		Rules:     ruleCache,
		Settings:  settingsStore,
		Locker:    locker,
		Publisher: eventBus,
		Metrics:   syncMetrics,
		Logger:    log,
	}, orchestratorConfig(cfg.Sync, cfg.ERP))

	if n, err := orchestrator.RecoverStale(ctx); err != nil {
		log.Error("Failed to recover stale jobs", zap.Error(err))
	} else if n > 0 {
		log.Warn("Marked stale jobs as failed", zap.Int64("jobs", n))
	}

	ruleService := pricesyncapp.NewRuleService(ruleRepo, ruleCache, eventBus, log)
	settingsService := pricesyncapp.NewSettingsService(settingsStore)
	historyService := pricesyncapp.NewHistoryService(historyRepo)

	// Background schedules
	if cfg.Sync.SchedulerEnabled {
		trigger, err := scheduler.NewCadenceTrigger(cadenceIntervals(cfg.Sync), orchestrator, settingsStore, log)
		if err != nil {
			log.Fatal("Failed to create sync scheduler", zap.Error(err))
		}
		startTask(ctx, log, "sync scheduler", trigger, onShutdown)
	}
	if cfg.Sync.SettingsRefresh > 0 {
		refresher, err := scheduler.NewSettingsRefresher(settingsStore, cfg.Sync.SettingsRefresh, log)
		if err != nil {
			log.Fatal("Failed to create settings refresher", zap.Error(err))
		}
		startTask(ctx, log, "settings refresher", refresher, onShutdown)
	}
	if cfg.Conflict.SweepEnabled {
		sweeper, err := scheduler.NewConflictSweeper(conflictService, cfg.Conflict.SweepInterval, log)
		if err != nil {
			log.Fatal("Failed to create conflict sweeper", zap.Error(err))
		}
		startTask(ctx, log, "conflict sweeper", sweeper, onShutdown)
	}
	if cfg.Conflict.ArchiveEnabled {
		archiveStore, err := storage.NewS3ArchiveStore(ctx, &cfg.Storage, storage.WithLogger(log))
		if err != nil {
			log.Fatal("Failed to create archive store", zap.Error(err))
		}
		archiveService := pricesyncapp.NewArchiveService(conflictRepo, archiveStore,
			cfg.Conflict.Retention, cfg.Conflict.ArchiveBatchSize, log)
		archiver, err := scheduler.NewArchiveTrigger(archiveService, cfg.Conflict.ArchiveInterval, log)
		if err != nil {
			log.Fatal("Failed to create conflict archiver", zap.Error(err))
		}
		startTask(ctx, log, "conflict archiver", archiver, onShutdown)
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	middleware.SetupValidator()

	engine := gin.New()
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT)
	if !jwtService.Enabled() {
		log.Warn("JWT secret not set, trusting X-Tenant-ID and X-User-ID headers")
	}
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.Secure())
	cors := middleware.DefaultCORSConfig()
	cors.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	cors.AllowMethods = cfg.HTTP.CORSAllowMethods
	cors.AllowHeaders = cfg.HTTP.CORSAllowHeaders
	engine.Use(middleware.CORSWithConfig(cors))
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))
	engine.Use(middleware.JWTAuth(jwtService, middleware.WithAuthLogger(log)))
	engine.Use(middleware.SpanEnricher())

	var triggerLimit gin.HandlerFunc
	if cfg.HTTP.TriggerRatePerSecond > 0 {
		limiter := middleware.NewKeyedLimiter(cfg.HTTP.TriggerRatePerSecond, cfg.HTTP.TriggerBurst, 10*time.Minute)
		triggerLimit = middleware.RateLimitByKey(limiter, middleware.TenantKey)
		log.Info("Trigger rate limiting enabled",
			zap.Float64("per_second", cfg.HTTP.TriggerRatePerSecond),
			zap.Int("burst", cfg.HTTP.TriggerBurst),
		)
	}

	checks := map[string]handler.HealthCheck{
		"database": db.Ping,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	systemHandler := handler.NewSystemHandler(version, checks)

	router.Probes(engine, systemHandler)
	router.MountAPI(engine, "v1", log,
		router.SyncRoutes(router.SyncHandlers{
			Jobs:      handler.NewSyncJobHandler(orchestrator),
			Conflicts: handler.NewConflictHandler(conflictService),
			Rules:     handler.NewRuleHandler(ruleService),
			Settings:  handler.NewSettingsHandler(settingsService, historyService),
		}, triggerLimit),
		router.WebhookRoutes(handler.NewWebhookHandler(orchestrator, cfg.ERP.WebhookSecret, log,
			handler.WithDeliveryStore(deliveries, cfg.ERP.WebhookDeliveryTTL)), triggerLimit, cfg.HTTP.WebhookMaxBodySize),
		router.SystemRoutes(systemHandler),
	)

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	// Running jobs finish or are cancelled before their collaborators stop
	if err := orchestrator.Shutdown(shutdownCtx); err != nil {
		log.Error("Sync jobs did not finish in time", zap.Error(err))
	}
	for i := len(stoppers) - 1; i >= 0; i-- {
		if err := stoppers[i].fn(shutdownCtx); err != nil {
			log.Error("Error during shutdown", zap.String("component", stoppers[i].name), zap.Error(err))
		}
	}

	log.Info("Server exited gracefully")
}

type startStopper interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

func startTask(ctx context.Context, log *zap.Logger, name string, task startStopper, onShutdown func(string, func(context.Context) error)) {
	if err := task.Start(ctx); err != nil {
		log.Fatal("Failed to start "+name, zap.Error(err))
	}
	onShutdown(name, task.Stop)
	log.Info(name + " started")
}
