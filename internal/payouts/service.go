package payouts

import (
	"context"
	"fmt"
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

// ErrorReferenceBelowMinimum marks a payout whose escrow shrank below the
// minimum between scheduling and transfer.
const ErrorReferenceBelowMinimum = "escrow_below_minimum"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type escrowLedger interface {
	Payable(ctx context.Context, now time.Time) ([]models.EscrowEntry, error)
	Entries(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]models.EscrowEntry, error)
	MarkReleasedToSeller(ctx context.Context, tx *gorm.DB, entryIDs []uuid.UUID, at time.Time) (int64, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// TransferRequest asks the payment rail to move a payout to the seller.
type TransferRequest struct {
	PayoutID uuid.UUID
	SellerID uuid.UUID
	Amount   decimal.Decimal
	Currency string
}

// Transferer sends money to sellers and returns the rail's reference.
type Transferer interface {
	Transfer(ctx context.Context, req TransferRequest) (string, error)
}

// Options carry the scheduling rules.
type Options struct {
	MinimumAmount decimal.Decimal
	IntervalDays  int
	Currency      string
}

// Deps groups the collaborators of the payout service. Transferer is only
// needed by SettleDuePayouts.
type Deps struct {
	Repo       *Repository
	Tx         txRunner
	Escrow     escrowLedger
	Outbox     outboxPublisher
	Transferer Transferer
	Metrics    *metrics.SettlementMetrics
	Logger     *logger.Logger
	Options    Options
}

// ScheduleReport summarises one scheduling pass.
type ScheduleReport struct {
	Scheduled []models.PayoutSchedule
	Skipped   []uuid.UUID
}

// SettleReport summarises one settlement pass.
type SettleReport struct {
	Paid   []uuid.UUID
	Failed []uuid.UUID
}

type Service struct {
	repo       *Repository
	tx         txRunner
	escrow     escrowLedger
	outbox     outboxPublisher
	transferer Transferer
	metrics    *metrics.SettlementMetrics
	logg       *logger.Logger
	opts       Options
	now        func() time.Time
}

func NewService(deps Deps) (*Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("payout repository required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Escrow == nil {
		return nil, fmt.Errorf("escrow ledger required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if deps.Options.IntervalDays < 0 {
		return nil, fmt.Errorf("payout interval must be non-negative")
	}
	if deps.Options.MinimumAmount.IsNegative() {
		return nil, fmt.Errorf("payout minimum must be non-negative")
	}
	return &Service{
		repo:       deps.Repo,
		tx:         deps.Tx,
		escrow:     deps.Escrow,
		outbox:     deps.Outbox,
		transferer: deps.Transferer,
		metrics:    deps.Metrics,
		logg:       deps.Logger,
		opts:       deps.Options,
		now:        time.Now,
	}, nil
}

type sellerBatch struct {
	sellerID uuid.UUID
	entries  []models.EscrowEntry
	total    decimal.Decimal
}

// ScheduleDuePayouts batches every payable escrow entry per seller. Sellers
// below the minimum are skipped. Each seller is scheduled in its own
// transaction and a failure is collected without stopping the others.
func (s *Service) ScheduleDuePayouts(ctx context.Context) (ScheduleReport, error) {
	now := s.now().UTC()
	entries, err := s.escrow.Payable(ctx, now)
	if err != nil {
		return ScheduleReport{}, err
	}

	var report ScheduleReport
	var errs error
	for _, batch := range groupBySeller(entries) {
		sellerCtx := s.logg.WithSellerID(ctx, batch.sellerID.String())
		if batch.total.LessThan(s.opts.MinimumAmount) {
			s.logg.Info(s.logg.WithField(sellerCtx, "amount", batch.total.String()), "payout below minimum, skipped")
			report.Skipped = append(report.Skipped, batch.sellerID)
			continue
		}
		schedule, err := s.scheduleSeller(sellerCtx, batch, now)
		if err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				s.logg.Warn(sellerCtx, "escrow entries already scheduled by a concurrent run")
				continue
			}
			s.logg.Error(sellerCtx, "schedule payout failed", err)
			errs = multierr.Append(errs, fmt.Errorf("seller %s: %w", batch.sellerID, err))
			continue
		}
		s.metrics.ObservePayout(string(enums.PayoutStatusScheduled), schedule.TotalAmount.InexactFloat64())
		report.Scheduled = append(report.Scheduled, *schedule)
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"scheduled": len(report.Scheduled),
		"skipped":   len(report.Skipped),
	})
	s.logg.Info(logCtx, "payout scheduling pass complete")
	return report, errs
}

func (s *Service) scheduleSeller(ctx context.Context, batch sellerBatch, now time.Time) (*models.PayoutSchedule, error) {
	schedule := &models.PayoutSchedule{
		ID:           uuid.New(),
		SellerID:     batch.sellerID,
		Status:       enums.PayoutStatusScheduled,
		Currency:     s.opts.Currency,
		TotalAmount:  batch.total,
		ScheduledFor: startOfDay(now).AddDate(0, 0, s.opts.IntervalDays),
	}
	for _, entry := range batch.entries {
		schedule.Items = append(schedule.Items, models.PayoutScheduleItem{
			PayoutScheduleID: schedule.ID,
			EscrowEntryID:    entry.ID,
			SellerOrderID:    entry.SellerOrderID,
			Amount:           entry.SellerPayoutAmount,
		})
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.Create(ctx, tx, schedule); err != nil {
			return err
		}
		return s.emit(ctx, tx, enums.EventPayoutScheduled, schedule)
	})
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

// StartProcessing moves a scheduled payout to processing, counting the attempt,
// and reconciles it against its escrow entries. A payout whose remaining
// entries fall below the minimum is failed in the same transaction and
// returned with status failed.
func (s *Service) StartProcessing(ctx context.Context, payoutID uuid.UUID) (*models.PayoutSchedule, error) {
	var schedule *models.PayoutSchedule
	payable := true
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		schedule, err = s.transition(ctx, tx, payoutID, enums.PayoutStatusScheduled, map[string]any{
			"status":          enums.PayoutStatusProcessing,
			"attempt_count":   gorm.Expr("attempt_count + 1"),
			"error_reference": nil,
		})
		if err != nil {
			return err
		}
		payable, err = s.reconcile(ctx, tx, schedule)
		if err != nil || payable {
			return err
		}
		schedule, err = s.transition(ctx, tx, payoutID, enums.PayoutStatusProcessing, map[string]any{
			"status":          enums.PayoutStatusFailed,
			"error_reference": ErrorReferenceBelowMinimum,
		})
		if err != nil {
			return err
		}
		return s.emit(ctx, tx, enums.EventPayoutFailed, schedule)
	})
	if err != nil {
		return nil, err
	}
	if !payable {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"payout_id": schedule.ID.String(),
			"amount":    schedule.TotalAmount.String(),
		})
		s.logg.Warn(logCtx, "payable escrow fell below minimum, payout failed")
		s.metrics.ObservePayout(string(enums.PayoutStatusFailed), schedule.TotalAmount.InexactFloat64())
	}
	return schedule, nil
}

// reconcile re-reads the escrow entries behind a payout inside tx. Items whose
// entry is no longer held are unlinked and the rest take the entry's current
// payout share. When the remainder is below the minimum every item is
// unlinked so the held entries return to the scheduling pool, and false is
// returned.
func (s *Service) reconcile(ctx context.Context, tx *gorm.DB, schedule *models.PayoutSchedule) (bool, error) {
	ids := make([]uuid.UUID, 0, len(schedule.Items))
	for _, item := range schedule.Items {
		ids = append(ids, item.EscrowEntryID)
	}
	entries, err := s.escrow.Entries(ctx, tx, ids)
	if err != nil {
		return false, err
	}
	held := make(map[uuid.UUID]models.EscrowEntry, len(entries))
	for _, entry := range entries {
		if entry.Status == enums.EscrowStatusHeld {
			held[entry.ID] = entry
		}
	}

	total := decimal.Zero
	kept := make([]models.PayoutScheduleItem, 0, len(schedule.Items))
	var dropped []uuid.UUID
	for _, item := range schedule.Items {
		entry, ok := held[item.EscrowEntryID]
		if !ok {
			dropped = append(dropped, item.ID)
			continue
		}
		if !item.Amount.Equal(entry.SellerPayoutAmount) {
			if err := s.repo.SetItemAmount(ctx, tx, item.ID, entry.SellerPayoutAmount); err != nil {
				return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout item")
			}
			item.Amount = entry.SellerPayoutAmount
		}
		kept = append(kept, item)
		total = money.Sum(total, item.Amount)
	}

	payable := len(kept) > 0 && !total.LessThan(s.opts.MinimumAmount)
	if !payable {
		for _, item := range kept {
			dropped = append(dropped, item.ID)
		}
		kept = nil
	}
	if err := s.repo.DeleteItems(ctx, tx, dropped); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "unlink payout items")
	}
	if !total.Equal(schedule.TotalAmount) {
		if err := s.repo.SetTotal(ctx, tx, schedule.ID, total); err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout total")
		}
	}
	schedule.Items = kept
	schedule.TotalAmount = total
	return payable, nil
}

// MarkPaid completes a processing payout and releases its escrow entries to
// the seller.
func (s *Service) MarkPaid(ctx context.Context, payoutID uuid.UUID, transferReference *string) (*models.PayoutSchedule, error) {
	var schedule *models.PayoutSchedule
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		now := s.now().UTC()
		updates := map[string]any{
			"status":  enums.PayoutStatusPaid,
			"paid_at": now,
		}
		if transferReference != nil {
			updates["transfer_reference"] = *transferReference
		}
		var err error
		schedule, err = s.transition(ctx, tx, payoutID, enums.PayoutStatusProcessing, updates)
		if err != nil {
			return err
		}
		entryIDs := make([]uuid.UUID, 0, len(schedule.Items))
		for _, item := range schedule.Items {
			entryIDs = append(entryIDs, item.EscrowEntryID)
		}
		released, err := s.escrow.MarkReleasedToSeller(ctx, tx, entryIDs, now)
		if err != nil {
			return err
		}
		if released != int64(len(entryIDs)) {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"payout_id": payoutID.String(),
				"expected":  len(entryIDs),
				"released":  released,
			})
			s.logg.Warn(logCtx, "escrow entries left held while payout was processing")
		}
		return s.emit(ctx, tx, enums.EventPayoutPaid, schedule)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObservePayout(string(enums.PayoutStatusPaid), schedule.TotalAmount.InexactFloat64())
	return schedule, nil
}

// MarkFailed records the error reference; the attempt count is kept.
func (s *Service) MarkFailed(ctx context.Context, payoutID uuid.UUID, errorReference string) (*models.PayoutSchedule, error) {
	errorReference = strings.TrimSpace(errorReference)
	if errorReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "error reference is required")
	}
	var schedule *models.PayoutSchedule
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		schedule, err = s.transition(ctx, tx, payoutID, enums.PayoutStatusProcessing, map[string]any{
			"status":          enums.PayoutStatusFailed,
			"error_reference": errorReference,
		})
		if err != nil {
			return err
		}
		return s.emit(ctx, tx, enums.EventPayoutFailed, schedule)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObservePayout(string(enums.PayoutStatusFailed), schedule.TotalAmount.InexactFloat64())
	return schedule, nil
}

// Retry puts a failed payout back in the queue.
func (s *Service) Retry(ctx context.Context, payoutID uuid.UUID) (*models.PayoutSchedule, error) {
	var schedule *models.PayoutSchedule
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		schedule, err = s.transition(ctx, tx, payoutID, enums.PayoutStatusFailed, map[string]any{
			"status":          enums.PayoutStatusScheduled,
			"error_reference": nil,
		})
		return err
	})
	return schedule, err
}

// SettleDuePayouts transfers every payout scheduled up to today. Each payout
// is settled independently.
func (s *Service) SettleDuePayouts(ctx context.Context) (SettleReport, error) {
	if s.transferer == nil {
		return SettleReport{}, pkgerrors.New(pkgerrors.CodeInternal, "transferer required")
	}
	cutoff := startOfDay(s.now().UTC()).AddDate(0, 0, 1)
	due, err := s.repo.ListDue(ctx, nil, cutoff)
	if err != nil {
		return SettleReport{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due payouts")
	}

	var report SettleReport
	var errs error
	for _, schedule := range due {
		payoutCtx := s.logg.WithFields(ctx, map[string]any{
			"payout_id": schedule.ID.String(),
			"seller_id": schedule.SellerID.String(),
		})
		paid, err := s.settle(payoutCtx, schedule)
		if err != nil {
			s.logg.Error(payoutCtx, "settle payout failed", err)
			errs = multierr.Append(errs, fmt.Errorf("payout %s: %w", schedule.ID, err))
		}
		if paid {
			report.Paid = append(report.Paid, schedule.ID)
		} else {
			report.Failed = append(report.Failed, schedule.ID)
		}
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{"paid": len(report.Paid), "failed": len(report.Failed)})
	s.logg.Info(logCtx, "payout settlement pass complete")
	return report, errs
}

func (s *Service) settle(ctx context.Context, schedule models.PayoutSchedule) (bool, error) {
	processing, err := s.StartProcessing(ctx, schedule.ID)
	if err != nil {
		return false, err
	}
	if processing.Status != enums.PayoutStatusProcessing {
		return false, nil
	}
	reference, err := s.transferer.Transfer(ctx, TransferRequest{
		PayoutID: processing.ID,
		SellerID: processing.SellerID,
		Amount:   processing.TotalAmount,
		Currency: processing.Currency,
	})
	if err != nil {
		if _, markErr := s.MarkFailed(ctx, schedule.ID, err.Error()); markErr != nil {
			return false, multierr.Append(err, markErr)
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "transfer payout").WithRetryable(true)
	}
	var ref *string
	if reference != "" {
		ref = &reference
	}
	if _, err := s.MarkPaid(ctx, schedule.ID, ref); err != nil {
		return false, err
	}
	return true, nil
}

// ListForSeller returns a seller's payouts, newest first.
func (s *Service) ListForSeller(ctx context.Context, sellerID uuid.UUID) ([]models.PayoutSchedule, error) {
	rows, err := s.repo.ListBySeller(ctx, nil, sellerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payouts")
	}
	return rows, nil
}

// transition applies a guarded status change and returns the stored payout.
// A payout in another status yields a state conflict.
func (s *Service) transition(ctx context.Context, tx *gorm.DB, payoutID uuid.UUID, from enums.PayoutStatus, updates map[string]any) (*models.PayoutSchedule, error) {
	updates["updated_at"] = s.now().UTC()
	changed, err := s.repo.Transition(ctx, tx, payoutID, from, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update payout")
	}
	schedule, err := s.repo.Find(ctx, tx, payoutID)
	if err != nil {
		return nil, baserepo.LookupError(err, "payout")
	}
	if !changed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payout is not in the expected status").
			WithDetails(map[string]any{"status": schedule.Status, "expected": from})
	}
	return schedule, nil
}

func (s *Service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, schedule *models.PayoutSchedule) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayoutSchedule,
		AggregateID:   schedule.ID,
		Actor:         &outbox.ActorRef{Role: outbox.RoleSystem},
		Data: payloads.PayoutEvent{
			PayoutID:          schedule.ID,
			SellerID:          schedule.SellerID,
			Status:            schedule.Status,
			Amount:            schedule.TotalAmount,
			Currency:          schedule.Currency,
			ScheduledFor:      schedule.ScheduledFor,
			EntryCount:        len(schedule.Items),
			TransferReference: schedule.TransferReference,
			ErrorReference:    schedule.ErrorReference,
		},
	})
}

// groupBySeller keeps the first-seen seller order of entries.
func groupBySeller(entries []models.EscrowEntry) []sellerBatch {
	index := make(map[uuid.UUID]int)
	var batches []sellerBatch
	for _, entry := range entries {
		i, ok := index[entry.SellerID]
		if !ok {
			i = len(batches)
			index[entry.SellerID] = i
			batches = append(batches, sellerBatch{sellerID: entry.SellerID, total: decimal.Zero})
		}
		batches[i].entries = append(batches[i].entries, entry)
		batches[i].total = money.Sum(batches[i].total, entry.SellerPayoutAmount)
	}
	return batches
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
