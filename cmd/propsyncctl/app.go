package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"propsync/internal/config"
	"propsync/internal/crm"
	"propsync/internal/database"
	"propsync/internal/engine"
	"propsync/internal/export"
	"propsync/internal/logging"
	"propsync/internal/repository"
	"propsync/internal/service"
	"propsync/internal/strategy"
	"propsync/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var errNoRedis = errors.New("redis.address is required: progress records live in redis")

// app holds the stores an operator command works on. It talks to the same
// redis and database as the running service but starts no workers.
type app struct {
	cfg      *config.Config
	engine   *engine.Engine
	mappings *service.EntityMap
	queue    *worker.BatchWorker
	reports  *export.Reporter
	logger   zerolog.Logger
	closers  []io.Closer
}

func openApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.Redis.Address == "" {
		return nil, errNoRedis
	}

	baseLogger, logCloser, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "ctl").Logger()

	a := &app{cfg: cfg, logger: logger}
	if logCloser != nil {
		a.closers = append(a.closers, logCloser)
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	a.closers = append(a.closers, redisClient)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		a.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	db, err := database.NewDB(cfg.Database, &logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, db)

	a.wire(db, redisClient)
	return a, nil
}

func (a *app) wire(db *database.DB, redisClient *redis.Client) {
	crmClient := crm.NewClient(a.cfg.CRM, &a.logger)
	a.queue = worker.NewBatchWorker(redisClient, a.cfg.Sync.QueueKey, 0, &a.logger)
	a.mappings = service.NewEntityMap(db, &a.logger)
	registry := strategy.New(db, a.cfg.Sync.Taxonomies, strategy.Deps{
		CRM:      crmClient,
		Mappings: a.mappings,
		Audit:    db,
		Logger:   &a.logger,
	})

	a.engine = engine.New(engine.Deps{
		CRM:        crmClient,
		Strategies: registry,
		Progress:   repository.NewRedisProgressStore(redisClient, a.cfg.Sync.ProgressTTL),
		Queue:      a.queue,
		Logger:     &a.logger,
	}, a.cfg.Sync)
	a.reports = export.NewReporter(db, &a.logger)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].Close()
	}
}
