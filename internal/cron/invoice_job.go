package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/packfinderz-settlement/internal/invoices"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

const CommissionInvoiceJobName = "commission-invoices"

type invoiceGenerator interface {
	GenerateAll(ctx context.Context) (invoices.GenerateReport, error)
}

// NewCommissionInvoiceJob issues last month's commission invoices. Running it
// more than once a month only reports the invoices that already exist.
func NewCommissionInvoiceJob(logg *logger.Logger, generator invoiceGenerator) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if generator == nil {
		return nil, fmt.Errorf("invoice generator required")
	}
	return &commissionInvoiceJob{logg: logg, generator: generator}, nil
}

type commissionInvoiceJob struct {
	logg      *logger.Logger
	generator invoiceGenerator
}

func (j *commissionInvoiceJob) Name() string { return CommissionInvoiceJobName }

func (j *commissionInvoiceJob) Run(ctx context.Context) error {
	report, err := j.generator.GenerateAll(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"invoices_issued":  len(report.Issued),
		"invoices_existed": report.Existed,
		"sellers_empty":    report.Empty,
	})
	if err != nil {
		return fmt.Errorf("generate invoices: %w", err)
	}
	j.logg.Info(logCtx, "commission invoicing complete")
	return nil
}
