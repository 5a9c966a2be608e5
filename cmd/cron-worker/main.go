package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/packfinderz-compliance/api"
	"github.com/angelmondragon/packfinderz-compliance/api/controllers"
	"github.com/angelmondragon/packfinderz-compliance/api/routes"
	"github.com/angelmondragon/packfinderz-compliance/internal/bootstrap"
	"github.com/angelmondragon/packfinderz-compliance/internal/cron"
	"github.com/angelmondragon/packfinderz-compliance/pkg/config"
	"github.com/angelmondragon/packfinderz-compliance/pkg/db"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
	"github.com/angelmondragon/packfinderz-compliance/pkg/metrics"
	"github.com/angelmondragon/packfinderz-compliance/pkg/migrate"
	"github.com/angelmondragon/packfinderz-compliance/pkg/redis"
)

const lockKeyFormat = "pf:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stack, err := bootstrap.NewStack(bootstrap.EngineParams{
		Config:  cfg,
		DB:      dbClient.DB(),
		Logger:  logg,
		Metrics: metrics.NewActionMetrics(prometheus.DefaultRegisterer),
		Locks:   redisClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build service action engine", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	deferredJob, err := cron.NewDeferredActionsJob(cron.DeferredActionsJobParams{
		Logger:    logg,
		Tasks:     stack.Schedulers,
		Runner:    stack.Runner,
		Metrics:   metricsCollector,
		BatchSize: cfg.Scheduler.BatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create deferred actions job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(deferredJob),
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Scheduler.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	router := routes.NewRouter(cfg, logg, map[string]controllers.Pinger{
		"database": dbClient,
		"redis":    redisClient,
	}, prometheus.DefaultGatherer)
	health := api.NewServer(cfg.App.Port, router, logg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	go func() {
		if err := health.Run(ctx); err != nil {
			logg.Error(ctx, "health server stopped", err)
			stop()
		}
	}()

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
