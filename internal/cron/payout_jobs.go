package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/packfinderz-settlement/internal/payouts"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

const (
	PayoutScheduleJobName   = "payout-schedule"
	PayoutSettlementJobName = "payout-settlement"
)

type payoutScheduler interface {
	ScheduleDuePayouts(ctx context.Context) (payouts.ScheduleReport, error)
}

type payoutSettler interface {
	SettleDuePayouts(ctx context.Context) (payouts.SettleReport, error)
}

// NewPayoutScheduleJob batches matured escrow into payout schedules.
func NewPayoutScheduleJob(logg *logger.Logger, scheduler payoutScheduler) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if scheduler == nil {
		return nil, fmt.Errorf("payout scheduler required")
	}
	return &payoutScheduleJob{logg: logg, scheduler: scheduler}, nil
}

type payoutScheduleJob struct {
	logg      *logger.Logger
	scheduler payoutScheduler
}

func (j *payoutScheduleJob) Name() string { return PayoutScheduleJobName }

func (j *payoutScheduleJob) Run(ctx context.Context) error {
	report, err := j.scheduler.ScheduleDuePayouts(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"payouts_scheduled": len(report.Scheduled),
		"sellers_skipped":   len(report.Skipped),
	})
	if err != nil {
		return fmt.Errorf("schedule payouts: %w", err)
	}
	j.logg.Info(logCtx, "payout scheduling complete")
	return nil
}

// NewPayoutSettlementJob transfers payouts whose scheduled day has come.
func NewPayoutSettlementJob(logg *logger.Logger, settler payoutSettler) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if settler == nil {
		return nil, fmt.Errorf("payout settler required")
	}
	return &payoutSettlementJob{logg: logg, settler: settler}, nil
}

type payoutSettlementJob struct {
	logg    *logger.Logger
	settler payoutSettler
}

func (j *payoutSettlementJob) Name() string { return PayoutSettlementJobName }

func (j *payoutSettlementJob) Run(ctx context.Context) error {
	report, err := j.settler.SettleDuePayouts(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"payouts_paid":   len(report.Paid),
		"payouts_failed": len(report.Failed),
	})
	if err != nil {
		j.logg.Warn(logCtx, "payout settlement finished with failures")
		return fmt.Errorf("settle payouts: %w", err)
	}
	j.logg.Info(logCtx, "payout settlement complete")
	return nil
}
