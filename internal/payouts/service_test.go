package payouts

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-settlement/internal/escrow"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
)

var payoutNow = time.Date(2026, 5, 20, 15, 30, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type fakeTransferer struct {
	failFor map[uuid.UUID]error
	calls   []TransferRequest
}

func (f *fakeTransferer) Transfer(_ context.Context, req TransferRequest) (string, error) {
	f.calls = append(f.calls, req)
	if err := f.failFor[req.SellerID]; err != nil {
		return "", err
	}
	return "tr_" + req.PayoutID.String()[:8], nil
}

type harness struct {
	svc        *Service
	client     *db.Client
	transferer *fakeTransferer
}

func newHarness(t *testing.T) harness {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	esc, err := escrow.NewService(escrow.NewRepository(client.DB()), 14*24*time.Hour, nil)
	require.NoError(t, err)
	transferer := &fakeTransferer{failFor: map[uuid.UUID]error{}}

	svc, err := NewService(Deps{
		Repo:       NewRepository(client.DB()),
		Tx:         client,
		Escrow:     esc,
		Outbox:     outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Transferer: transferer,
		Logger:     logg,
		Options:    Options{MinimumAmount: d("100"), IntervalDays: 7, Currency: "EUR"},
	})
	require.NoError(t, err)
	svc.now = func() time.Time { return payoutNow }
	return harness{svc: svc, client: client, transferer: transferer}
}

// addEntry stores a held entry whose payout share is amount.
func (h harness) addEntry(t *testing.T, sellerID uuid.UUID, amount string, eligibleAt time.Time) models.EscrowEntry {
	t.Helper()
	entry := models.EscrowEntry{
		OrderID:            uuid.New(),
		SellerOrderID:      uuid.New(),
		SellerID:           sellerID,
		HeldAmount:         d(amount),
		CommissionAmount:   decimal.Zero,
		SellerPayoutAmount: d(amount),
		OriginalCommission: decimal.Zero,
		Status:             enums.EscrowStatusHeld,
		PayoutEligibleAt:   eligibleAt,
		CreatedAt:          eligibleAt.Add(-14 * 24 * time.Hour),
	}
	require.NoError(t, h.client.DB().Create(&entry).Error)
	return entry
}

func TestScheduleDuePayoutsAppliesMinimumPerSeller(t *testing.T) {
	h := newHarness(t)
	sellerA := uuid.New()
	sellerB := uuid.New()
	past := payoutNow.Add(-time.Hour)
	a1 := h.addEntry(t, sellerA, "120.00", past)
	a2 := h.addEntry(t, sellerA, "30.00", past)
	h.addEntry(t, sellerB, "20.00", past)

	report, err := h.svc.ScheduleDuePayouts(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Scheduled, 1)
	schedule := report.Scheduled[0]
	assert.Equal(t, sellerA, schedule.SellerID)
	assert.Equal(t, enums.PayoutStatusScheduled, schedule.Status)
	assert.True(t, schedule.TotalAmount.Equal(d("150")))
	assert.Equal(t, time.Date(2026, 5, 27, 0, 0, 0, 0, time.UTC), schedule.ScheduledFor)
	require.Len(t, schedule.Items, 2)
	assert.ElementsMatch(t, []uuid.UUID{a1.ID, a2.ID}, []uuid.UUID{schedule.Items[0].EscrowEntryID, schedule.Items[1].EscrowEntryID})
	assert.Equal(t, []uuid.UUID{sellerB}, report.Skipped)

	var schedules int64
	require.NoError(t, h.client.DB().Model(&models.PayoutSchedule{}).Where("seller_id = ?", sellerB).Count(&schedules).Error)
	assert.Zero(t, schedules)
}

func TestScheduleDuePayoutsIgnoresFutureAndScheduledEntries(t *testing.T) {
	h := newHarness(t)
	seller := uuid.New()
	h.addEntry(t, seller, "150.00", payoutNow.Add(-time.Hour))
	h.addEntry(t, seller, "500.00", payoutNow.Add(time.Hour))

	first, err := h.svc.ScheduleDuePayouts(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Scheduled, 1)
	assert.True(t, first.Scheduled[0].TotalAmount.Equal(d("150")))

	second, err := h.svc.ScheduleDuePayouts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, second.Scheduled)
	assert.Empty(t, second.Skipped)
}

func TestPayoutLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seller := uuid.New()
	entry := h.addEntry(t, seller, "200.00", payoutNow.Add(-time.Hour))
	report, err := h.svc.ScheduleDuePayouts(ctx)
	require.NoError(t, err)
	id := report.Scheduled[0].ID

	_, err = h.svc.MarkPaid(ctx, id, nil)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	processing, err := h.svc.StartProcessing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusProcessing, processing.Status)
	assert.Equal(t, 1, processing.AttemptCount)

	failed, err := h.svc.MarkFailed(ctx, id, "bank-timeout")
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusFailed, failed.Status)
	require.NotNil(t, failed.ErrorReference)
	assert.Equal(t, "bank-timeout", *failed.ErrorReference)
	assert.Equal(t, 1, failed.AttemptCount)

	retried, err := h.svc.Retry(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusScheduled, retried.Status)
	assert.Nil(t, retried.ErrorReference)

	again, err := h.svc.StartProcessing(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, again.AttemptCount)

	ref := "tr_1"
	paid, err := h.svc.MarkPaid(ctx, id, &ref)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)
	require.NotNil(t, paid.TransferReference)

	var stored models.EscrowEntry
	require.NoError(t, h.client.DB().First(&stored, "id = ?", entry.ID).Error)
	assert.Equal(t, enums.EscrowStatusReleasedToSeller, stored.Status)
	require.NotNil(t, stored.ReleasedAt)

	var events int64
	require.NoError(t, h.client.DB().Model(&models.OutboxEvent{}).Where("aggregate_id = ?", id).Count(&events).Error)
	assert.Equal(t, int64(3), events)
}

// scheduleAndAdvance schedules every payable entry and moves the clock past
// the scheduled day.
func (h harness) scheduleAndAdvance(t *testing.T) models.PayoutSchedule {
	t.Helper()
	report, err := h.svc.ScheduleDuePayouts(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Scheduled, 1)
	h.svc.now = func() time.Time { return payoutNow.AddDate(0, 0, 8) }
	return report.Scheduled[0]
}

func (h harness) escrowService(t *testing.T) *escrow.Service {
	t.Helper()
	esc, ok := h.svc.escrow.(*escrow.Service)
	require.True(t, ok)
	return esc
}

func (h harness) entryStatus(t *testing.T, id uuid.UUID) enums.EscrowStatus {
	t.Helper()
	var stored models.EscrowEntry
	require.NoError(t, h.client.DB().First(&stored, "id = ?", id).Error)
	return stored.Status
}

func TestSettleSkipsEntryReleasedToBuyerAfterScheduling(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seller := uuid.New()
	cancelled := h.addEntry(t, seller, "120.00", payoutNow.Add(-time.Hour))
	kept := h.addEntry(t, seller, "30.00", payoutNow.Add(-time.Hour))
	h.svc.opts.MinimumAmount = d("20")
	schedule := h.scheduleAndAdvance(t)
	assert.True(t, schedule.TotalAmount.Equal(d("150")))

	_, err := h.escrowService(t).ReleaseOrderToBuyer(ctx, nil, cancelled.OrderID, "cancelled")
	require.NoError(t, err)

	report, err := h.svc.SettleDuePayouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{schedule.ID}, report.Paid)
	require.Len(t, h.transferer.calls, 1)
	assert.True(t, h.transferer.calls[0].Amount.Equal(d("30")), "transferred %s", h.transferer.calls[0].Amount)

	stored, err := h.svc.repo.Find(ctx, nil, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusPaid, stored.Status)
	assert.True(t, stored.TotalAmount.Equal(d("30")))
	require.Len(t, stored.Items, 1)
	assert.Equal(t, kept.ID, stored.Items[0].EscrowEntryID)

	assert.Equal(t, enums.EscrowStatusReleasedToBuyer, h.entryStatus(t, cancelled.ID))
	assert.Equal(t, enums.EscrowStatusReleasedToSeller, h.entryStatus(t, kept.ID))
}

func TestSettleFailsPayoutThatFallsBelowMinimum(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seller := uuid.New()
	cancelled := h.addEntry(t, seller, "120.00", payoutNow.Add(-time.Hour))
	remaining := h.addEntry(t, seller, "30.00", payoutNow.Add(-time.Hour))
	schedule := h.scheduleAndAdvance(t)

	_, err := h.escrowService(t).ReleaseOrderToBuyer(ctx, nil, cancelled.OrderID, "cancelled")
	require.NoError(t, err)

	report, err := h.svc.SettleDuePayouts(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Paid)
	assert.Equal(t, []uuid.UUID{schedule.ID}, report.Failed)
	assert.Empty(t, h.transferer.calls)

	stored, err := h.svc.repo.Find(ctx, nil, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorReference)
	assert.Equal(t, ErrorReferenceBelowMinimum, *stored.ErrorReference)
	assert.True(t, stored.TotalAmount.Equal(d("30")))
	assert.Empty(t, stored.Items)

	assert.Equal(t, enums.EscrowStatusHeld, h.entryStatus(t, remaining.ID))
	payable, err := h.escrowService(t).Payable(ctx, payoutNow)
	require.NoError(t, err)
	require.Len(t, payable, 1)
	assert.Equal(t, remaining.ID, payable[0].ID)
}

func TestSettleUsesPartiallyRefundedEscrow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	seller := uuid.New()
	entry := h.addEntry(t, seller, "200.00", payoutNow.Add(-time.Hour))
	schedule := h.scheduleAndAdvance(t)

	err := h.escrowService(t).ApplyRefund(ctx, nil, models.SellerOrder{
		ID:               entry.SellerOrderID,
		Total:            d("200.00"),
		RefundedAmount:   d("50.00"),
		CommissionAmount: d("15.00"),
	})
	require.NoError(t, err)

	report, err := h.svc.SettleDuePayouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{schedule.ID}, report.Paid)
	require.Len(t, h.transferer.calls, 1)
	assert.True(t, h.transferer.calls[0].Amount.Equal(d("135")), "transferred %s", h.transferer.calls[0].Amount)

	stored, err := h.svc.repo.Find(ctx, nil, schedule.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalAmount.Equal(d("135")))
	require.Len(t, stored.Items, 1)
	assert.True(t, stored.Items[0].Amount.Equal(d("135")))
	assert.Equal(t, enums.EscrowStatusReleasedToSeller, h.entryStatus(t, entry.ID))
}

func TestSettleSkipsFullyRefundedEscrow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	entry := h.addEntry(t, uuid.New(), "200.00", payoutNow.Add(-time.Hour))
	schedule := h.scheduleAndAdvance(t)

	err := h.escrowService(t).ApplyRefund(ctx, nil, models.SellerOrder{
		ID:               entry.SellerOrderID,
		Total:            d("200.00"),
		RefundedAmount:   d("200.00"),
		CommissionAmount: d("20.00"),
	})
	require.NoError(t, err)
	assert.Equal(t, enums.EscrowStatusReleasedToBuyer, h.entryStatus(t, entry.ID))

	report, err := h.svc.SettleDuePayouts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{schedule.ID}, report.Failed)
	assert.Empty(t, h.transferer.calls)

	stored, err := h.svc.repo.Find(ctx, nil, schedule.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusFailed, stored.Status)
	assert.True(t, stored.TotalAmount.IsZero())
}

func TestPayoutTransitionsUnknownPayout(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.StartProcessing(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	_, err = h.svc.MarkFailed(context.Background(), uuid.New(), " ")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSettleDuePayoutsIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	good := uuid.New()
	bad := uuid.New()
	h.addEntry(t, good, "150.00", payoutNow.Add(-time.Hour))
	h.addEntry(t, bad, "180.00", payoutNow.Add(-time.Hour))

	h.svc.opts.IntervalDays = 0
	_, err := h.svc.ScheduleDuePayouts(ctx)
	require.NoError(t, err)
	h.transferer.failFor[bad] = errors.New("account closed")

	report, err := h.svc.SettleDuePayouts(ctx)
	require.Error(t, err)
	require.Len(t, report.Paid, 1)
	require.Len(t, report.Failed, 1)
	assert.Len(t, h.transferer.calls, 2)

	var goodSchedule, badSchedule models.PayoutSchedule
	require.NoError(t, h.client.DB().First(&goodSchedule, "seller_id = ?", good).Error)
	require.NoError(t, h.client.DB().First(&badSchedule, "seller_id = ?", bad).Error)
	assert.Equal(t, enums.PayoutStatusPaid, goodSchedule.Status)
	assert.Equal(t, enums.PayoutStatusFailed, badSchedule.Status)
	require.NotNil(t, badSchedule.ErrorReference)
	assert.Equal(t, "account closed", *badSchedule.ErrorReference)
	assert.Equal(t, 1, badSchedule.AttemptCount)
}

func TestSettleDuePayoutsWaitsForScheduledDay(t *testing.T) {
	h := newHarness(t)
	h.addEntry(t, uuid.New(), "150.00", payoutNow.Add(-time.Hour))
	_, err := h.svc.ScheduleDuePayouts(context.Background())
	require.NoError(t, err)

	report, err := h.svc.SettleDuePayouts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Paid)
	assert.Empty(t, h.transferer.calls)
}

func TestGroupBySellerKeepsOrderAndSums(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	batches := groupBySeller([]models.EscrowEntry{
		{SellerID: a, SellerPayoutAmount: d("1.10")},
		{SellerID: b, SellerPayoutAmount: d("2")},
		{SellerID: a, SellerPayoutAmount: d("0.90")},
	})
	require.Len(t, batches, 2)
	assert.Equal(t, a, batches[0].sellerID)
	assert.True(t, batches[0].total.Equal(d("2")))
	assert.Len(t, batches[0].entries, 2)
	assert.Equal(t, b, batches[1].sellerID)
}
