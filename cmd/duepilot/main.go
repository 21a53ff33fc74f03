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

	"github.com/duepilot/duepilot/internal/app"
	"github.com/duepilot/duepilot/internal/ar"
	"github.com/duepilot/duepilot/internal/config"
	"github.com/duepilot/duepilot/internal/integration"
	"github.com/duepilot/duepilot/internal/outreach"
	"github.com/duepilot/duepilot/internal/payments"
	"github.com/duepilot/duepilot/internal/plan"
	"github.com/duepilot/duepilot/internal/platform/cache"
	"github.com/duepilot/duepilot/internal/platform/db"
	"github.com/duepilot/duepilot/internal/shared"
	"github.com/duepilot/duepilot/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	arRepo := ar.NewRepository(pool)
	outreachRepo := outreach.NewRepository(pool)
	planRepo := plan.NewRepository(pool)
	paymentsRepo := payments.NewRepository(pool)
	integrationRepo := integration.NewRepository(pool)

	planService := plan.NewService(cfg.Engine, planRepo, arRepo, outreachRepo, integrationRepo, outreachRepo, logger)
	planHandler := plan.NewHandler(planService)

	invoiceLocks := shared.NewMutex(redisClient, 0)
	paymentsService := payments.NewService(cfg.Engine, arRepo, outreachRepo, planRepo, paymentsRepo, invoiceLocks, logger)
	paymentsHandler := payments.NewHandler(paymentsService, paymentsRepo)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		PlanHandler:     planHandler,
		PaymentsHandler: paymentsHandler,
		JobHandler:      jobHandler,
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
