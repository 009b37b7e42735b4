package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/packfinderz-settlement/api/controllers"
	"github.com/angelmondragon/packfinderz-settlement/api/routes"
	"github.com/angelmondragon/packfinderz-settlement/internal/consumers/providerevents"
	"github.com/angelmondragon/packfinderz-settlement/internal/cron"
	"github.com/angelmondragon/packfinderz-settlement/internal/payouts"
	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/metrics"
	"github.com/angelmondragon/packfinderz-settlement/pkg/migrate"
	"github.com/angelmondragon/packfinderz-settlement/pkg/pubsub"
	"github.com/angelmondragon/packfinderz-settlement/pkg/redis"
)

const shutdownTimeout = 10 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "settlement-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: cfg.Service.Kind,
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
			logg.Error(context.Background(), "error closing pubsub client", err)
		}
	}()

	var transferer payouts.Transferer
	if pub := pubsubClient.PayoutPublisher(); pub != nil {
		t, err := payouts.NewPubSubTransferer(pub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create payout transferer", err)
			os.Exit(1)
		}
		transferer = t
	}

	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)
	svc, err := buildServices(cfg, logg, dbClient, redisClient, transferer, settlementMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to build settlement services", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, svc)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}
	lock, err := cron.NewRedisLock(redisClient, cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}
	cronService, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	var consumer *providerevents.Consumer
	if sub := pubsubClient.ProviderSubscriber(); sub != nil {
		consumer, err = providerevents.NewConsumer(sub, svc.payments, svc.shipping, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create provider events consumer", err)
			os.Exit(1)
		}
	}

	server := &http.Server{
		Addr: net.JoinHostPort("", cfg.App.Port),
		Handler: routes.NewRouter(cfg, logg, prometheus.DefaultGatherer,
			controllers.ReadinessCheck{Name: "db", Pinger: dbClient},
			controllers.ReadinessCheck{Name: "redis", Pinger: redisClient},
			controllers.ReadinessCheck{Name: "pubsub", Pinger: pubsubClient},
		),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting settlement worker")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return cronService.Run(groupCtx)
	})
	if consumer != nil {
		group.Go(func() error {
			return consumer.Run(groupCtx)
		})
	} else {
		logg.Warn(ctx, "provider subscription not configured, callbacks are not consumed")
	}
	group.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "settlement worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "settlement worker shutting down gracefully")
}
