package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/analytics"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/app"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/connection"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/ledgersync"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/mirror"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/observability"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/platform/cache"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/platform/db"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/schedule"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/xero"
	"github.com/hiltonbrown/ledgerbot-sub004/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if err := db.Migrate(cfg.PGDSN); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	connRepo := connection.NewRepository(dbpool, cipher)
	connService := connection.NewService(connRepo, connection.OAuthConfig{
		ClientID:     cfg.XeroClientID,
		ClientSecret: cfg.XeroClientSecret,
		TokenURL:     cfg.XeroTokenURL,
		BaseURL:      cfg.XeroBaseURL,
	}, logger)
	connHandler := connection.NewHandler(logger, connService)

	mirrorRepo := mirror.NewRepository(dbpool)

	analyticsCache := analytics.NewCache(redisClient, cfg.CacheTTL)
	analyticsService := analytics.NewService(mirrorRepo, analyticsCache)
	analyticsHandler := analytics.NewHandler(logger, analyticsService)

	scheduleRepo := schedule.NewRepository(dbpool)
	scheduleService := schedule.NewService(scheduleRepo, mirrorRepo, analyticsService)
	scheduleHandler := schedule.NewHandler(logger, scheduleService)

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
	syncHandler := ledgersync.NewHandler(logger, syncService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AnalyticsHandler:  analyticsHandler,
		ScheduleHandler:   scheduleHandler,
		SyncHandler:       syncHandler,
		ConnectionHandler: connHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
