package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/readerly/readerly/internal/activity"
	"github.com/readerly/readerly/internal/app"
	"github.com/readerly/readerly/internal/clubs"
	"github.com/readerly/readerly/internal/entitlement"
	jobmetrics "github.com/readerly/readerly/internal/jobs"
	"github.com/readerly/readerly/internal/platform/cache"
	"github.com/readerly/readerly/internal/platform/db"
	"github.com/readerly/readerly/internal/roles"
	"github.com/readerly/readerly/internal/tiers"
	"github.com/readerly/readerly/jobs"
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
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	rolesRepo := roles.NewRepository(pool)
	tiersRepo := tiers.NewRepository(pool)
	clubsRepo := clubs.NewRepository(pool)
	timeline := activity.NewTimeline(pool)

	computer := entitlement.NewComputer(rolesRepo, tiersRepo, clubsRepo, entitlement.DefaultCatalog())
	entCache := entitlement.NewCache(redisClient, computer, cfg.CacheTTL, nil)

	metrics := jobmetrics.NewMetrics(nil)
	warmupJob := jobs.NewCacheWarmupJob(clubsRepo, entCache, logger, metrics, cfg.WarmupUsers)
	pruneJob := jobs.NewActivityPruneJob(timeline, logger, metrics, cfg.ActivityRetention)

	warmupTask, err := jobs.NewCacheWarmupTask(jobs.CacheWarmupPayload{})
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	pruneTask, err := jobs.NewActivityPruneTask(jobs.ActivityPrunePayload{})
	if err != nil {
		logger.Error("build prune task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCacheWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskActivityPrune, Handler: pruneJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "15 5 * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "45 2 * * *", Task: pruneTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
