package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"propsync/internal/api"
	"propsync/internal/audit"
	"propsync/internal/config"
	"propsync/internal/crm"
	"propsync/internal/database"
	"propsync/internal/domain"
	"propsync/internal/engine"
	"propsync/internal/events"
	"propsync/internal/export"
	"propsync/internal/logging"
	"propsync/internal/metrics"
	"propsync/internal/notify"
	"propsync/internal/repository"
	"propsync/internal/service"
	"propsync/internal/strategy"
	"propsync/internal/webhook"
	"propsync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := database.NewDB(cfg.Database, &logger)
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	auditLog, mongoClose := initAudit(ctx, cfg, db, &logger)
	defer mongoClose()

	crmClient := crm.NewClient(cfg.CRM, &logger)
	if !crmClient.IsConfigured() {
		logger.Warn().Msg("CRM is not configured, syncs will be refused")
	}

	mappings := service.NewEntityMap(db, &logger)
	registry := strategy.New(db, cfg.Sync.Taxonomies, strategy.Deps{
		CRM:      crmClient,
		Mappings: mappings,
		Audit:    auditLog,
		Logger:   &logger,
	})

	// Local changes reach the CRM through the bus; webhook writes carry the
	// webhook origin and are not pushed back.
	var (
		localStore domain.LocalStore = db
		publisher  domain.EventPublisher
	)
	if cfg.Sync.AutoSync {
		bus := events.NewEventBus()
		bus.OnError(func(e *events.Event, err error) {
			logger.Error().Err(err).Str("event", e.Type).Str("origin", string(e.Origin)).Msg("Auto sync failed")
		})
		service.NewAutoSync(registry, mappings, &logger).Register(bus)
		localStore = service.NewPublishingStore(db, bus, &logger)
		publisher = bus
	}

	progress := initProgressStore(cfg, redisClient, &logger)
	queue := worker.NewBatchWorker(redisClient, cfg.Sync.QueueKey, cfg.Sync.Workers, &logger)

	eng := engine.New(engine.Deps{
		CRM:        crmClient,
		Strategies: registry,
		Progress:   progress,
		Queue:      queue,
		Notifier:   initNotifiers(ctx, cfg, &logger),
		Logger:     &logger,
	}, cfg.Sync)

	reconciler := webhook.NewReconciler(localStore, mappings, auditLog, &logger)

	grpcServer, err := api.NewGRPCServer(&cfg.API, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return err
	}
	grpcServer.SetServiceStatus(api.CRMHealthService, crmClient.IsConfigured())

	httpServer := api.NewHTTPServer(&cfg.API, cfg.Webhook, api.Deps{
		Engine:   eng,
		Webhooks: reconciler,
		Mappings: mappings,
		Events:   publisher,
		Reports:  export.NewReporter(db, &logger),
		Ready:    readinessChecks(db, redisClient),
	}, &logger)

	go queue.Run(ctx, eng.ProcessBatch)
	go eng.RunJanitor(ctx, cfg.Sync.JanitorInterval)

	if !cfg.Database.IsPostgres() {
		backup := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backup.Start(ctx)
	}

	startMetrics(ctx, cfg, &logger)

	return startServers(ctx, grpcServer, httpServer, cfg, &logger)
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if _, err := redisClient.Ping(ctx).Result(); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initProgressStore(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.ProgressStore {
	memory := repository.NewMemoryProgressStore(cfg.Sync.ProgressTTL)
	if redisClient == nil {
		logger.Warn().Msg("progress store runs in memory only")
		return memory
	}
	primary := repository.NewRedisProgressStore(redisClient, cfg.Sync.ProgressTTL)
	return repository.NewFailoverProgressStore(primary, memory, logger)
}

// initAudit returns the sync log sink and a cleanup func. The SQL table is
// always written; mongo mirrors it when configured.
func initAudit(ctx context.Context, cfg *config.Config, db *database.DB, logger *zerolog.Logger) (domain.AuditLog, func()) {
	if cfg.Audit.Sink != "mongo" {
		return db, func() {}
	}

	client, coll, err := audit.Connect(ctx, cfg.Audit)
	if err != nil {
		logger.Warn().Err(err).Msg("mongodb audit sink unavailable, using sql only")
		return db, func() {}
	}
	logger.Info().Str("database", cfg.Audit.MongoDB).Str("collection", cfg.Audit.Collection).Msg("mongodb audit sink connected")

	return audit.Fanout(db, audit.NewMongoSink(coll, logger)), func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(shutdownCtx)
	}
}

func initNotifiers(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) domain.Notifier {
	var notifiers []domain.Notifier

	if cfg.Notify.Telegram.Enabled {
		bot, err := notify.NewTelegramBot(cfg.Notify.Telegram.BotToken)
		if err != nil {
			logger.Warn().Err(err).Msg("telegram notifier init failed, continuing without it")
		} else {
			notifiers = append(notifiers, notify.NewTelegramNotifier(bot, cfg.Notify.Telegram.ChatID, logger))
			logger.Info().Str("bot", bot.Self.UserName).Msg("telegram notifier enabled")
		}
	}

	if cfg.Notify.Sheets.Enabled {
		srv, err := notify.NewSheetsService(ctx, cfg.Notify.Sheets.CredentialsFile)
		if err != nil {
			logger.Warn().Err(err).Msg("google sheets init failed, continuing without sheets")
		} else {
			notifiers = append(notifiers, notify.NewSheetsNotifier(srv, cfg.Notify.Sheets, logger))
			logger.Info().Msg("google sheets notifier enabled")
		}
	}

	return notify.Multi(notifiers...)
}

func readinessChecks(db *database.DB, redisClient *redis.Client) map[string]api.ReadinessCheck {
	checks := map[string]api.ReadinessCheck{
		"database": db.PingContext,
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	go func() {
		if !cfg.API.GRPC.Enabled {
			return
		}
		if err := grpcServer.Serve(); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	go func() {
		if !cfg.API.HTTP.Enabled {
			return
		}
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Str("grpc_addr", grpcServer.Addr()).Int("http_port", cfg.API.HTTP.Port).Msg("API server started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("API server stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
