package main

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/packfinderz-settlement/internal/cart"
	"github.com/angelmondragon/packfinderz-settlement/internal/checkout"
	"github.com/angelmondragon/packfinderz-settlement/internal/commission"
	"github.com/angelmondragon/packfinderz-settlement/internal/cron"
	"github.com/angelmondragon/packfinderz-settlement/internal/escrow"
	"github.com/angelmondragon/packfinderz-settlement/internal/invoices"
	"github.com/angelmondragon/packfinderz-settlement/internal/orders"
	"github.com/angelmondragon/packfinderz-settlement/internal/payouts"
	"github.com/angelmondragon/packfinderz-settlement/internal/promo"
	"github.com/angelmondragon/packfinderz-settlement/internal/returns"
	paymentwebhook "github.com/angelmondragon/packfinderz-settlement/internal/webhooks/payment"
	shippingwebhook "github.com/angelmondragon/packfinderz-settlement/internal/webhooks/shipping"
	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/metrics"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
	"github.com/angelmondragon/packfinderz-settlement/pkg/redis"
)

const (
	paymentCallbackScope = "payment-callback"
	dailyCadence         = 24 * time.Hour
)

// services is everything the worker runs, built against one database.
type services struct {
	payments *paymentwebhook.Service
	shipping *shippingwebhook.Service
	payouts  *payouts.Service
	invoices *invoices.Service
	returns  *returns.Service
	// settleEnabled is false when no payout topic is configured.
	settleEnabled bool
}

func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, transferer payouts.Transferer, m *metrics.SettlementMetrics) (*services, error) {
	gdb := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(gdb), logg)

	rates := commission.NewRateResolverFromConfig(cfg.Marketplace)
	commissionSvc, err := commission.NewService(commission.NewRepository(gdb), rates)
	if err != nil {
		return nil, fmt.Errorf("commission service: %w", err)
	}
	escrowSvc, err := escrow.NewService(escrow.NewRepository(gdb), cfg.Marketplace.EscrowPayoutDelay(), m)
	if err != nil {
		return nil, fmt.Errorf("escrow service: %w", err)
	}

	ordersRepo := orders.NewRepository(gdb)
	ordersSvc, err := orders.NewService(orders.Deps{
		Repo:       ordersRepo,
		Tx:         dbClient,
		Commission: commissionSvc,
		Escrow:     escrowSvc,
		Outbox:     outboxSvc,
		Logger:     logg,
	})
	if err != nil {
		return nil, fmt.Errorf("orders service: %w", err)
	}

	returnsSvc, err := returns.NewService(returns.Deps{
		Repo:    returns.NewRepository(gdb),
		Orders:  ordersRepo,
		Refunds: ordersSvc,
		Tx:      dbClient,
		Outbox:  outboxSvc,
		Logger:  logg,
		Window:  cfg.Marketplace.ReturnWindow(),
	})
	if err != nil {
		return nil, fmt.Errorf("returns service: %w", err)
	}

	cartRepo := cart.NewRepository(gdb)
	builder := cart.NewTotalsBuilder(cartRepo, cart.NewCalculator(rates))
	promoSvc, err := promo.NewService(promo.NewRepository(gdb), dbClient, builder, logg)
	if err != nil {
		return nil, fmt.Errorf("promo service: %w", err)
	}
	inventory, err := checkout.NewRedisInventory(redisClient)
	if err != nil {
		return nil, fmt.Errorf("inventory lookup: %w", err)
	}
	validator, err := checkout.NewValidator(cartRepo, inventory, cart.Options{
		AllowedCountries: cfg.Marketplace.AllowedDeliveryCountries,
		AllowedRegions:   cfg.Marketplace.AllowedDeliveryRegions,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout validator: %w", err)
	}
	checkoutSvc, err := checkout.NewService(checkout.Deps{
		Tx:         dbClient,
		CartRepo:   cartRepo,
		Orders:     ordersRepo,
		Totals:     builder,
		Promos:     promoSvc,
		Commission: commissionSvc,
		Escrow:     escrowSvc,
		Outbox:     outboxSvc,
		Validator:  validator,
		Metrics:    m,
		Logger:     logg,
		Currency:   cfg.Marketplace.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	guard, err := paymentwebhook.NewIdempotencyGuard(redisClient, cfg.Eventing.WebhookIdempotencyTTL, paymentCallbackScope)
	if err != nil {
		return nil, fmt.Errorf("payment idempotency guard: %w", err)
	}
	paymentSvc, err := paymentwebhook.NewService(paymentwebhook.ServiceParams{
		TransactionRunner: dbClient,
		CartRepo:          cartRepo,
		OrdersRepo:        ordersRepo,
		Placer:            checkoutSvc,
		Commission:        commissionSvc,
		Escrow:            escrowSvc,
		Outbox:            outboxSvc,
		Guard:             guard,
		Metrics:           m,
		Logger:            logg,
	})
	if err != nil {
		return nil, fmt.Errorf("payment callback service: %w", err)
	}
	shippingSvc, err := shippingwebhook.NewService(ordersSvc, logg)
	if err != nil {
		return nil, fmt.Errorf("shipping status service: %w", err)
	}

	payoutSvc, err := payouts.NewService(payouts.Deps{
		Repo:       payouts.NewRepository(gdb),
		Tx:         dbClient,
		Escrow:     escrowSvc,
		Outbox:     outboxSvc,
		Transferer: transferer,
		Metrics:    m,
		Logger:     logg,
		Options: payouts.Options{
			MinimumAmount: cfg.Marketplace.PayoutMinimumAmount,
			IntervalDays:  cfg.Marketplace.PayoutIntervalDays,
			Currency:      cfg.Marketplace.Currency,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("payout service: %w", err)
	}
	invoiceSvc, err := invoices.NewService(invoices.Deps{
		Repo:         invoices.NewRepository(gdb),
		Tx:           dbClient,
		Escrow:       escrowSvc,
		Corrections:  commissionSvc,
		Outbox:       outboxSvc,
		Tax:          cfg.Marketplace,
		Metrics:      m,
		Logger:       logg,
		NumberPrefix: cfg.Marketplace.InvoiceNumberPrefix,
		Currency:     cfg.Marketplace.Currency,
	})
	if err != nil {
		return nil, fmt.Errorf("invoice service: %w", err)
	}

	return &services{
		payments:      paymentSvc,
		shipping:      shippingSvc,
		payouts:       payoutSvc,
		invoices:      invoiceSvc,
		returns:       returnsSvc,
		settleEnabled: transferer != nil,
	}, nil
}

// buildRegistry registers the daily settlement batches.
func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, svc *services) (*cron.Registry, error) {
	schedule, err := cron.NewPayoutScheduleJob(logg, svc.payouts)
	if err != nil {
		return nil, err
	}
	invoiceJob, err := cron.NewCommissionInvoiceJob(logg, svc.invoices)
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Outbox.RetentionDays,
	})
	if err != nil {
		return nil, err
	}

	registry := cron.NewRegistry(
		cron.Entry{Job: schedule, Every: dailyCadence},
		cron.Entry{Job: invoiceJob, Every: dailyCadence},
		cron.Entry{Job: retention, Every: dailyCadence},
	)
	if svc.settleEnabled {
		settle, err := cron.NewPayoutSettlementJob(logg, svc.payouts)
		if err != nil {
			return nil, err
		}
		registry.Register(settle, dailyCadence)
	} else {
		logg.Warn(logg.WithJob(context.Background(), cron.PayoutSettlementJobName), "payout topic not configured, settlement job disabled")
	}
	return registry, nil
}
