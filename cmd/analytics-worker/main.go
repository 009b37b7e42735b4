package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/packfinderz-settlement/internal/analytics"
	analyticsconsumer "github.com/angelmondragon/packfinderz-settlement/internal/consumers/analytics"
	paymentwebhook "github.com/angelmondragon/packfinderz-settlement/internal/webhooks/payment"
	"github.com/angelmondragon/packfinderz-settlement/pkg/bigquery"
	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/pubsub"
	"github.com/angelmondragon/packfinderz-settlement/pkg/redis"
)

const (
	serviceName      = "analytics-worker"
	idempotencyScope = "settlement-analytics"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: serviceName})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)
	cfg.Service.Kind = serviceName

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
	requireResource(ctx, logg, "bigquery client", err)
	defer func() {
		if err := bqClient.Close(); err != nil {
			logg.Error(ctx, "failed to close bigquery client", err)
		}
	}()

	subscription := pubsubClient.AnalyticsSubscriber()
	if subscription == nil {
		requireResource(ctx, logg, "analytics subscription", errors.New("subscription not configured"))
	}

	guard, err := paymentwebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.OutboxIdempotencyTTL, idempotencyScope)
	requireResource(ctx, logg, "idempotency guard", err)

	writer, err := analytics.NewWriter(bqClient, analytics.WriterConfig{Table: cfg.BigQuery.SettlementEventsTable})
	requireResource(ctx, logg, "settlement bigquery writer", err)

	router, err := analytics.NewRouter(writer, logg)
	requireResource(ctx, logg, "settlement event router", err)

	consumer, err := analyticsconsumer.NewConsumer(subscription, router, guard, logg)
	requireResource(ctx, logg, "analytics consumer", err)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(runCtx, "analytics worker ready")

	if err := consumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "analytics worker failed", err)
		os.Exit(1)
	}
	if err := writer.Flush(context.Background()); err != nil {
		logg.Error(runCtx, "failed to flush buffered rows", err)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
