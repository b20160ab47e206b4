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

	"github.com/readerly/readerly/internal/activity"
	"github.com/readerly/readerly/internal/app"
	"github.com/readerly/readerly/internal/clubs"
	"github.com/readerly/readerly/internal/entitlement"
	"github.com/readerly/readerly/internal/observability"
	"github.com/readerly/readerly/internal/platform/cache"
	"github.com/readerly/readerly/internal/platform/db"
	"github.com/readerly/readerly/internal/roles"
	"github.com/readerly/readerly/internal/shared"
	"github.com/readerly/readerly/internal/tiers"
	"github.com/readerly/readerly/jobs"
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

	metrics := observability.NewMetrics()

	rolesRepo := roles.NewRepository(pool)
	tiersRepo := tiers.NewRepository(pool)
	clubsRepo := clubs.NewRepository(pool)
	tracker := activity.NewTracker(pool)
	timeline := activity.NewTimeline(pool)

	catalog := entitlement.DefaultCatalog()
	computer := entitlement.NewComputer(rolesRepo, tiersRepo, clubsRepo, catalog)
	entCache := entitlement.NewCache(redisClient, computer, cfg.CacheTTL, metrics)

	engine := entitlement.NewEngine(entitlement.EngineConfig{
		Cache:        entCache,
		Catalog:      catalog,
		Tracker:      tracker,
		Logger:       logger,
		Metrics:      metrics,
		QuotaTimeout: cfg.QuotaTimeout,
	})
	engine.MustRegister(entitlement.ActionPostDiscussion, entitlement.Check{
		Entitlement: entitlement.EntPostDiscussion,
	})
	engine.MustRegister(entitlement.ActionJoinClub, entitlement.Check{
		Entitlement: entitlement.EntJoinClub,
		Quota:       entitlement.QuotaClubMemberships,
		Counter: entitlement.LiveCounterFunc(func(ctx context.Context, userID int64, target entitlement.Context) (int64, error) {
			return clubsRepo.CountMemberships(ctx, userID)
		}),
	})
	engine.MustRegister(entitlement.ActionCreateClub, entitlement.Check{
		Entitlement: entitlement.EntCreateClub,
	})
	engine.MustRegister(entitlement.ActionModerateContent, entitlement.Check{
		Entitlement: entitlement.EntModerateContent,
	})
	engine.MustRegister(entitlement.ActionAppointModerator, entitlement.Check{
		Entitlement: entitlement.EntAppointModerator,
		Quota:       entitlement.QuotaClubModerators,
		Counter: entitlement.LiveCounterFunc(func(ctx context.Context, userID int64, target entitlement.Context) (int64, error) {
			return rolesRepo.CountActive(ctx, entitlement.RoleClubModerator, target)
		}),
	})
	engine.MustRegister(entitlement.ActionManageStore, entitlement.Check{
		Entitlement: entitlement.EntManageStore,
	})

	rolesService := roles.NewService(rolesRepo, entCache, tracker, logger)
	tiersService := tiers.NewService(tiersRepo, entCache, tracker, logger)
	clubsService := clubs.NewService(clubsRepo, engine, rolesService, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AdminAuth:          shared.NewAdminAuth(cfg.AdminTokenHash),
		EntitlementHandler: entitlement.NewHandler(logger, engine, entCache),
		RolesHandler:       roles.NewHandler(logger, rolesService),
		TiersHandler:       tiers.NewHandler(logger, tiersService),
		ClubsHandler:       clubs.NewHandler(logger, clubsService),
		ActivityHandler:    activity.NewHandler(logger, timeline),
		JobsHandler:        jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
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
