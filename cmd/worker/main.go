package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

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
	"github.com/duepilot/duepilot/internal/platform/ratelimit"
	"github.com/duepilot/duepilot/internal/shared"
	"github.com/duepilot/duepilot/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	invoiceLocks := shared.NewMutex(redisClient, 0)
	paymentsService := payments.NewService(cfg.Engine, arRepo, outreachRepo, planRepo, paymentsRepo, invoiceLocks, logger)

	providerLimiter := ratelimit.PerMinute(cfg.Engine.ProviderCallsPerMin)
	executor := outreach.NewExecutor(
		cfg.Engine,
		outreachRepo,
		arRepo,
		outreach.NewSendgridEmail(cfg),
		outreach.NewTwilioSMS(cfg),
		outreach.NewStripeLinks(cfg),
		providerLimiter,
		logger,
	)

	accountingSyncer := integration.NewAccountingSyncer(
		integrationRepo,
		integration.NewAccountingTokenSource(cfg),
		integration.NewHTTPAccountingFeed(cfg),
		arRepo,
		paymentsService,
		logger,
	)
	bankSyncer := integration.NewBankSyncer(
		integrationRepo,
		integration.NewBankTokenSource(cfg),
		integration.NewHTTPBankFeed(cfg),
		arRepo,
		paymentsService,
		logger,
	)

	planJob := jobs.NewPlanGenerateJob(cfg.Engine, arRepo, planService, logger, nil)
	dispatchJob := jobs.NewOutreachDispatchJob(executor, logger, nil)
	accountingJob := jobs.NewAccountingSyncJob(integrationRepo, accountingSyncer, logger, nil)
	bankJob := jobs.NewBankSyncJob(integrationRepo, bankSyncer, logger, nil)

	planTask, err := jobs.NewPlanGenerateTask(jobs.OrgScopedPayload{})
	if err != nil {
		logger.Error("build plan task", slog.Any("error", err))
		os.Exit(1)
	}
	dispatchTask, err := jobs.NewOutreachDispatchTask()
	if err != nil {
		logger.Error("build dispatch task", slog.Any("error", err))
		os.Exit(1)
	}
	accountingTask, err := jobs.NewSyncAccountingTask(jobs.OrgScopedPayload{})
	if err != nil {
		logger.Error("build accounting task", slog.Any("error", err))
		os.Exit(1)
	}
	bankTask, err := jobs.NewSyncBankTask(jobs.OrgScopedPayload{})
	if err != nil {
		logger.Error("build bank task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPlanGenerate, Handler: planJob.Handle},
			{Type: jobs.TaskOutreachDispatch, Handler: dispatchJob.Handle},
			{Type: jobs.TaskSyncAccounting, Handler: accountingJob.Handle},
			{Type: jobs.TaskSyncBank, Handler: bankJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 6 * * *", Task: planTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/5 * * * *", Task: dispatchTask},
			{Spec: "20 * * * *", Task: accountingTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "40 * * * *", Task: bankTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
