package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/packfinderz-compliance/internal/bootstrap"
	"github.com/angelmondragon/packfinderz-compliance/internal/completions"
	"github.com/angelmondragon/packfinderz-compliance/pkg/config"
	"github.com/angelmondragon/packfinderz-compliance/pkg/db"
	"github.com/angelmondragon/packfinderz-compliance/pkg/instance"
	"github.com/angelmondragon/packfinderz-compliance/pkg/logger"
	"github.com/angelmondragon/packfinderz-compliance/pkg/metrics"
	"github.com/angelmondragon/packfinderz-compliance/pkg/migrate"
	"github.com/angelmondragon/packfinderz-compliance/pkg/pubsub"
	"github.com/angelmondragon/packfinderz-compliance/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "sync-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "sync-worker"

	logg = logger.New(logger.Options{
		ServiceName: "sync-worker",
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

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
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

	consumer, err := completions.NewService(completions.Params{
		Subscription: pubsubClient.CompletionsSubscription(),
		Executor:     stack.Engine,
		Integrations: stack.Integrations,
		Locks:        redisClient,
		LockTTL:      cfg.Redis.CompletionLockTTL,
		Logger:       logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create completion consumer", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		PubSub:   pubsubClient,
		Consumer: consumer,
		Gatherer: prometheus.DefaultGatherer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID("sync-worker-0"),
	})
	logg.Info(ctx, "starting sync worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sync worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sync worker shutting down gracefully")
}
