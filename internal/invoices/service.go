package invoices

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	baserepo "github.com/angelmondragon/packfinderz-settlement/internal/repo"
	dbpkg "github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/metrics"
	"github.com/angelmondragon/packfinderz-settlement/pkg/money"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox/payloads"
)

// invoiceNamespace derives outbox aggregate ids from numeric invoice ids.
var invoiceNamespace = uuid.MustParse("6f1c2a8e-4b7d-4c1e-9a3f-2d5e8b7c9f10")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type escrowReader interface {
	CreatedBetween(ctx context.Context, tx *gorm.DB, sellerID uuid.UUID, from, to time.Time) ([]models.EscrowEntry, error)
}

type correctionReader interface {
	CorrectionsBetween(ctx context.Context, tx *gorm.DB, sellerID uuid.UUID, from, to time.Time) ([]models.CommissionCorrection, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// TaxPolicy resolves the flat tax rate billed to a seller.
type TaxPolicy interface {
	TaxRateFor(sellerID uuid.UUID) decimal.Decimal
}

// Deps groups the collaborators of the invoice generator.
type Deps struct {
	Repo         *Repository
	Tx           txRunner
	Escrow       escrowReader
	Corrections  correctionReader
	Outbox       outboxPublisher
	Tax          TaxPolicy
	Metrics      *metrics.SettlementMetrics
	Logger       *logger.Logger
	NumberPrefix string
	Currency     string
}

// GenerateReport summarises a batch run.
type GenerateReport struct {
	Issued  []models.CommissionInvoice
	Empty   int
	Existed int
}

type Service struct {
	repo        *Repository
	tx          txRunner
	escrow      escrowReader
	corrections correctionReader
	outbox      outboxPublisher
	tax         TaxPolicy
	metrics     *metrics.SettlementMetrics
	logg        *logger.Logger
	prefix      string
	currency    string
	now         func() time.Time
}

func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Repo == nil:
		return nil, fmt.Errorf("invoice repository required")
	case deps.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case deps.Escrow == nil:
		return nil, fmt.Errorf("escrow reader required")
	case deps.Corrections == nil:
		return nil, fmt.Errorf("correction reader required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case deps.Tax == nil:
		return nil, fmt.Errorf("tax policy required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	prefix := strings.TrimSpace(deps.NumberPrefix)
	if prefix == "" {
		prefix = "INV"
	}
	return &Service{
		repo:        deps.Repo,
		tx:          deps.Tx,
		escrow:      deps.Escrow,
		corrections: deps.Corrections,
		outbox:      deps.Outbox,
		tax:         deps.Tax,
		metrics:     deps.Metrics,
		logg:        deps.Logger,
		prefix:      prefix,
		currency:    deps.Currency,
		now:         time.Now,
	}, nil
}

// PreviousMonth returns [first instant of last month, first instant of this month).
func PreviousMonth(now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return end.AddDate(0, -1, 0), end
}

// FormatNumber renders {prefix}-{year}-{id:00000}.
func FormatNumber(prefix string, year int, id int64) string {
	return fmt.Sprintf("%s-%d-%05d", prefix, year, id)
}

// GenerateForSeller bills the previous calendar month. An existing invoice for
// the period is returned unchanged; a seller without billable lines gets nil.
func (s *Service) GenerateForSeller(ctx context.Context, sellerID uuid.UUID) (*models.CommissionInvoice, error) {
	invoice, _, err := s.generate(ctx, sellerID)
	return invoice, err
}

func (s *Service) generate(ctx context.Context, sellerID uuid.UUID) (*models.CommissionInvoice, bool, error) {
	if sellerID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	}
	now := s.now().UTC()
	from, to := PreviousMonth(now)

	existing, err := s.repo.FindByPeriod(ctx, nil, sellerID, from)
	if err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load invoice")
	}
	if existing != nil {
		return existing, false, nil
	}

	var invoice *models.CommissionInvoice
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		lines, err := s.collectLines(ctx, tx, sellerID, from, to)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return nil
		}
		invoice = s.build(sellerID, from, to, now, lines)
		if err := s.repo.Create(ctx, tx, invoice); err != nil {
			return err
		}
		number := FormatNumber(s.prefix, now.Year(), invoice.ID)
		if err := s.repo.SetNumber(ctx, tx, invoice.ID, number); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "assign invoice number")
		}
		invoice.Number = &number
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventInvoiceIssued,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   uuid.NewSHA1(invoiceNamespace, []byte(strconv.FormatInt(invoice.ID, 10))),
			Actor:         &outbox.ActorRef{Role: outbox.RoleSystem},
			OccurredAt:    now,
			Data: payloads.InvoiceIssuedEvent{
				InvoiceNumber: number,
				SellerID:      sellerID,
				PeriodStart:   invoice.PeriodStart,
				PeriodEnd:     invoice.PeriodEnd,
				Total:         invoice.Total,
				IsCreditNote:  invoice.IsCreditNote,
			},
		})
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "") {
			existing, findErr := s.repo.FindByPeriod(ctx, nil, sellerID, from)
			if findErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create invoice")
	}
	if invoice == nil {
		return nil, false, nil
	}
	s.metrics.IncInvoiceIssued(invoice.IsCreditNote)
	logCtx := s.logg.WithSellerID(ctx, sellerID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{"invoice_number": *invoice.Number, "total": invoice.Total.String()})
	s.logg.Info(logCtx, "commission invoice issued")
	return invoice, true, nil
}

func (s *Service) collectLines(ctx context.Context, tx *gorm.DB, sellerID uuid.UUID, from, to time.Time) ([]models.CommissionInvoiceLine, error) {
	entries, err := s.escrow.CreatedBetween(ctx, tx, sellerID, from, to)
	if err != nil {
		return nil, err
	}
	corrections, err := s.corrections.CorrectionsBetween(ctx, tx, sellerID, from, to)
	if err != nil {
		return nil, err
	}

	lines := make([]models.CommissionInvoiceLine, 0, len(entries)+len(corrections))
	for _, entry := range entries {
		amount := money.Round2(entry.OriginalCommission)
		if amount.IsZero() {
			continue
		}
		entryID := entry.ID
		lines = append(lines, models.CommissionInvoiceLine{
			SellerOrderID: entry.SellerOrderID,
			EscrowEntryID: &entryID,
			Description:   "Commission for seller order " + entry.SellerOrderID.String(),
			Amount:        amount,
		})
	}
	for _, correction := range corrections {
		amount := money.Round2(correction.Amount)
		if amount.IsZero() {
			continue
		}
		correctionID := correction.ID
		lines = append(lines, models.CommissionInvoiceLine{
			SellerOrderID: correction.SellerOrderID,
			CorrectionID:  &correctionID,
			Description:   "Correction: " + correction.Reason,
			Amount:        amount,
			IsCorrection:  true,
		})
	}
	return lines, nil
}

func (s *Service) build(sellerID uuid.UUID, from, to, now time.Time, lines []models.CommissionInvoiceLine) *models.CommissionInvoice {
	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Amount)
	}
	rate := s.tax.TaxRateFor(sellerID)
	tax := money.Round2(subtotal.Mul(rate))
	total := subtotal.Add(tax)
	return &models.CommissionInvoice{
		SellerID:     sellerID,
		PeriodStart:  from,
		PeriodEnd:    to.Add(-time.Nanosecond),
		Currency:     s.currency,
		Subtotal:     subtotal,
		TaxRate:      rate,
		TaxAmount:    tax,
		Total:        total,
		IsCreditNote: total.IsNegative(),
		IssuedAt:     now,
		Lines:        lines,
	}
}

// GenerateAll invoices every seller with activity last month. Sellers are
// independent; failures are collected and the rest still run.
func (s *Service) GenerateAll(ctx context.Context) (GenerateReport, error) {
	from, to := PreviousMonth(s.now())
	sellers, err := s.repo.ActiveSellers(ctx, nil, from, to)
	if err != nil {
		return GenerateReport{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list active sellers")
	}

	var report GenerateReport
	var errs error
	for _, sellerID := range sellers {
		sellerCtx := s.logg.WithSellerID(ctx, sellerID.String())
		invoice, created, err := s.generate(sellerCtx, sellerID)
		switch {
		case err != nil:
			s.logg.Error(sellerCtx, "generate invoice failed", err)
			errs = multierr.Append(errs, fmt.Errorf("seller %s: %w", sellerID, err))
		case invoice == nil:
			report.Empty++
		case created:
			report.Issued = append(report.Issued, *invoice)
		default:
			report.Existed++
		}
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"issued":  len(report.Issued),
		"existed": report.Existed,
		"empty":   report.Empty,
	})
	s.logg.Info(logCtx, "commission invoice pass complete")
	return report, errs
}

// Get loads an invoice with its lines.
func (s *Service) Get(ctx context.Context, id int64) (*models.CommissionInvoice, error) {
	invoice, err := s.repo.Find(ctx, nil, id)
	if err != nil {
		return nil, baserepo.LookupError(err, "invoice")
	}
	return invoice, nil
}
