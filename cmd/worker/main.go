package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/analytics"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/app"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/connection"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/ledgersync"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/mirror"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/observability"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/platform/cache"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/platform/db"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/xero"
	"github.com/hiltonbrown/ledgerbot-sub004/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	cipher, err := connection.NewTokenCipher(cfg.CipherKey())
	if err != nil {
		logger.Error("init token cipher", slog.Any("error", err))
		os.Exit(1)
	}

	connRepo := connection.NewRepository(pool, cipher)
	connService := connection.NewService(connRepo, connection.OAuthConfig{
		ClientID:     cfg.XeroClientID,
		ClientSecret: cfg.XeroClientSecret,
		TokenURL:     cfg.XeroTokenURL,
		BaseURL:      cfg.XeroBaseURL,
	}, logger)

	mirrorRepo := mirror.NewRepository(pool)
	analyticsCache := analytics.NewCache(redisClient, cfg.CacheTTL)
	analyticsService := analytics.NewService(mirrorRepo, analyticsCache)

	gate := xero.NewGate(cfg.SyncConcurrency)
	resolver := ledgersync.ResolverFunc(func(ctx context.Context, userID string) (ledgersync.LedgerAPI, string, error) {
		client, err := connService.Resolve(ctx, userID)
		if err != nil {
			return nil, "", err
		}
		return client, client.TenantID(), nil
	})
	syncService := ledgersync.NewService(resolver, mirrorRepo, analyticsService, gate, ledgersync.Config{
		PageSize: cfg.SyncPageSize,
		MaxItems: cfg.SyncMaxItems,
		Budget:   cfg.SyncBudget,
	}, logger, metrics)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobsClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	handlers := jobs.NewSyncTaskHandlers(syncService, connRepo, jobsClient, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpts,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerSync, Handler: handlers.HandleLedgerSync},
			{Type: jobs.TaskNightlySync, Handler: handlers.HandleNightlySync},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 2 * * *", Task: jobs.NewNightlySyncTask(), Options: []asynq.Option{asynq.MaxRetry(2)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
