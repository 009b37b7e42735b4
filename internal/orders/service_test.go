package orders

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
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/internal/commission"
	"github.com/angelmondragon/packfinderz-settlement/internal/escrow"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
	"github.com/angelmondragon/packfinderz-settlement/pkg/types"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type fakeShipping struct {
	resp  *ShipmentResponse
	err   error
	block bool
	got   ShipmentRequest
}

func (f *fakeShipping) CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResponse, error) {
	f.got = req
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.resp, f.err
}

type harness struct {
	svc      *service
	client   *db.Client
	shipping *fakeShipping
}

func newHarness(t *testing.T) harness {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	comm, err := commission.NewService(commission.NewRepository(client.DB()), commission.NewRateResolver(d("0.10"), nil, nil))
	require.NoError(t, err)
	esc, err := escrow.NewService(escrow.NewRepository(client.DB()), 14*24*time.Hour, nil)
	require.NoError(t, err)
	shipping := &fakeShipping{resp: &ShipmentResponse{Success: true, TrackingNumber: "TRK-1", Carrier: "dhl", TrackingURL: "https://track/TRK-1"}}

	svc, err := NewService(Deps{
		Repo:       NewRepository(client.DB()),
		Tx:         client,
		Commission: comm,
		Escrow:     esc,
		Outbox:     outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Shipping:   shipping,
		Logger:     logg,
	})
	require.NoError(t, err)
	impl := svc.(*service)
	impl.now = func() time.Time { return testNow }
	return harness{svc: impl, client: client, shipping: shipping}
}

type seeded struct {
	order   models.Order
	sellerA models.SellerOrder
	sellerB models.SellerOrder
}

// seedOrder places a paid order with seller A (100 + 50) and seller B (40),
// then stamps commission at 10% and opens escrow.
func (h harness) seedOrder(t *testing.T) seeded {
	t.Helper()
	ctx := context.Background()
	orderID := uuid.New()
	item := func(sellerOrderID uuid.UUID, total string) models.OrderItem {
		return models.OrderItem{
			OrderID: orderID, SellerOrderID: sellerOrderID, ProductID: uuid.New(), SKU: "SKU-" + total,
			ProductName: "Product " + total, UnitPrice: d(total), Quantity: 1, LineTotal: d(total), Status: enums.OrderStatusPaid,
		}
	}
	sellerA := uuid.New()
	sellerB := uuid.New()
	soA := uuid.New()
	soB := uuid.New()
	order := models.Order{
		ID:            orderID,
		BuyerID:       uuid.New(),
		PaymentMethod: enums.PaymentMethodCard,
		Delivery:      types.DeliverySnapshot{FullName: "Ana", Line1: "Main 1", City: "Madrid", PostalCode: "28001", Country: "ES"},
		Currency:      "EUR",
		ItemsSubtotal: d("190"),
		Total:         d("190"),
		Status:        enums.OrderStatusPaid,
		CreatedAt:     testNow.Add(-time.Hour),
		SellerOrders: []models.SellerOrder{
			{ID: soA, OrderID: orderID, SellerID: sellerA, SellerName: "A", Subtotal: d("150"), Total: d("150"), Status: enums.OrderStatusPaid,
				CreatedAt: testNow.Add(-time.Hour),
				Items:     []models.OrderItem{item(soA, "100"), item(soA, "50")}},
			{ID: soB, OrderID: orderID, SellerID: sellerB, SellerName: "B", Subtotal: d("40"), Total: d("40"), Status: enums.OrderStatusPaid,
				CreatedAt: testNow.Add(-time.Hour).Add(time.Second),
				Items:     []models.OrderItem{item(soB, "40")}},
		},
	}
	for i := range order.SellerOrders {
		order.SellerOrders[i].BuyerID = order.BuyerID
	}
	require.NoError(t, h.client.DB().Create(&order).Error)

	comm, err := commission.NewService(commission.NewRepository(h.client.DB()), commission.NewRateResolver(d("0.10"), nil, nil))
	require.NoError(t, err)
	esc, err := escrow.NewService(escrow.NewRepository(h.client.DB()), 14*24*time.Hour, nil)
	require.NoError(t, err)
	require.NoError(t, h.client.WithTx(ctx, func(tx *gorm.DB) error {
		sellerOrders, err := comm.EnsureForOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		_, err = esc.CreateForOrder(ctx, tx, &order, sellerOrders)
		return err
	}))

	loaded, err := h.svc.GetOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, loaded.SellerOrders, 2)
	return seeded{order: *loaded, sellerA: loaded.SellerOrders[0], sellerB: loaded.SellerOrders[1]}
}

func (h harness) sellerOrder(t *testing.T, id uuid.UUID) models.SellerOrder {
	t.Helper()
	var so models.SellerOrder
	require.NoError(t, h.client.DB().Preload("Items").First(&so, "id = ?", id).Error)
	return so
}

func (h harness) orderStatus(t *testing.T, id uuid.UUID) enums.OrderStatus {
	t.Helper()
	var order models.Order
	require.NoError(t, h.client.DB().First(&order, "id = ?", id).Error)
	return order.Status
}

func (h harness) escrowEntry(t *testing.T, sellerOrderID uuid.UUID) models.EscrowEntry {
	t.Helper()
	var entry models.EscrowEntry
	require.NoError(t, h.client.DB().First(&entry, "seller_order_id = ?", sellerOrderID).Error)
	return entry
}

func (h harness) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, h.client.DB().Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func (h harness) move(t *testing.T, id uuid.UUID, status enums.OrderStatus) TransitionResult {
	t.Helper()
	res, err := h.svc.UpdateSellerOrderStatus(context.Background(), StatusUpdateInput{SellerOrderID: id, Status: status})
	require.NoError(t, err)
	return res
}

func TestUpdateSellerOrderStatusRejectsSkippedStep(t *testing.T) {
	h := newHarness(t)
	s := h.seedOrder(t)

	res := h.move(t, s.sellerA.ID, enums.OrderStatusDelivered)
	assert.True(t, res.Rejected)
	assert.False(t, res.Applied)
	assert.NotEmpty(t, res.Reason)
	assert.Equal(t, enums.OrderStatusPaid, h.sellerOrder(t, s.sellerA.ID).Status)
	assert.Zero(t, h.countEvents(t, enums.EventSellerOrderStatus))
}

func TestUpdateSellerOrderStatusSameStatusIsUnchanged(t *testing.T) {
	h := newHarness(t)
	s := h.seedOrder(t)

	res := h.move(t, s.sellerA.ID, enums.OrderStatusPaid)
	assert.True(t, res.Unchanged)
	assert.False(t, res.Rejected)
}

func TestUpdateSellerOrderStatusOwnership(t *testing.T) {
	h := newHarness(t)
	s := h.seedOrder(t)
	ctx := context.Background()

	other := uuid.New()
	_, err := h.svc.UpdateSellerOrderStatus(ctx, StatusUpdateInput{SellerOrderID: s.sellerA.ID, SellerID: &other, Status: enums.OrderStatusPreparing})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.UpdateSellerOrderStatus(ctx, StatusUpdateInput{SellerOrderID: uuid.New(), SellerID: &other, Status: enums.OrderStatusPreparing})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	owner := s.sellerA.SellerID
	res, err := h.svc.UpdateSellerOrderStatus(ctx, StatusUpdateInput{SellerOrderID: s.sellerA.ID, SellerID: &owner, Status: enums.OrderStatusPreparing})
	require.NoError(t, err)
	assert.True(t, res.Applied)
}

func TestShippingRollsUpOrderStatus(t *testing.T) {
	h := newHarness(t)
	s := h.seedOrder(t)
	ctx := context.Background()

	h.move(t, s.sellerA.ID, enums.OrderStatusPreparing)
	tracking := "TRACK-A"
	res, err := h.svc.UpdateSellerOrderStatus(ctx, StatusUpdateInput{
		SellerOrderID:  s.sellerA.ID,
		Status:         enums.OrderStatusShipped,
		TrackingNumber: &tracking,
	})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, enums.OrderStatusPaid, res.OrderStatus, "seller B has not started preparing")

	so := h.sellerOrder(t, s.sellerA.ID)
	require.NotNil(t, so.TrackingNumber)
	assert.Equal(t, "TRACK-A", *so.TrackingNumber)
	require.NotNil(t, so.ShippedAt)
	for _, item := range so.Items {
		assert.Equal(t, enums.OrderStatusShipped, item.Status)
	}

	res = h.move(t, s.sellerB.ID, enums.OrderStatusPreparing)
	assert.Equal(t, enums.OrderStatusShipped, res.OrderStatus)
	assert.Equal(t, enums.OrderStatusShipped, h.orderStatus(t, s.order.ID))

	h.move(t, s.sellerA.ID, enums.OrderStatusDelivered)
	h.move(t, s.sellerB.ID, enums.OrderStatusShipped)
	res = h.move(t, s.sellerB.ID, enums.OrderStatusDelivered)
	assert.Equal(t, enums.OrderStatusDelivered, res.OrderStatus)
	assert.Equal(t, int64(6), h.countEvents(t, enums.EventSellerOrderStatus))

	found, err := h.svc.FindByTrackingNumber(ctx, " TRACK-A ")
	require.NoError(t, err)
	assert.Equal(t, s.sellerA.ID, found.ID)
}

func TestFullRefundReleasesEscrowAndVoidsCommission(t *testing.T) {
	h := newHarness(t)
	s := h.seedOrder(t)

	res := h.move(t, s.sellerA.ID, enums.OrderStatusRefunded)
	assert.True(t, res.Applied)
	assert.Equal(t, enums.OrderStatusPaid, res.OrderStatus)

	so := h.sellerOrder(t, s.sellerA.ID)
	assert.True(t, so.RefundedAmount.Equal(d("150")))
	assert.True(t, so.CommissionAmount.IsZero())

	entry := h.escrowEntry(t, s.sellerA.ID)
	assert.Equal(t, enums.EscrowStatusReleasedToBuyer, entry.Status)
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventSellerOrderRefunded))
}

func TestPartialRefundAmountValidated(t *testing.T) {
	h := newHarness(t)
	s := h.seedOrder(t)
	ctx := context.Background()

	tooMuch := d("151")
	_, err := h.svc.UpdateSellerOrderStatus(ctx, StatusUpdateInput{SellerOrderID: s.sellerA.ID, Status: enums.OrderStatusRefunded, RefundAmount: &tooMuch})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	part := d("30")
	_, err = h.svc.UpdateSellerOrderStatus(ctx, StatusUpdateInput{SellerOrderID: s.sellerA.ID, Status: enums.OrderStatusRefunded, RefundAmount: &part})
	require.NoError(t, err)
	so := h.sellerOrder(t, s.sellerA.ID)
	assert.True(t, so.RefundedAmount.Equal(d("30")))
	assert.True(t, so.CommissionAmount.Equal(d("12")))

	entry := h.escrowEntry(t, s.sellerA.ID)
	assert.Equal(t, enums.EscrowStatusHeld, entry.Status)
	assert.True(t, entry.HeldAmount.Equal(d("120")))
}

func TestSellerOrderCancelReleasesOnlyThatEscrow(t *testing.T) {
	h := newHarness(t)
	s := h.seedOrder(t)

	res := h.move(t, s.sellerB.ID, enums.OrderStatusCancelled)
	assert.Equal(t, enums.OrderStatusPaid, res.OrderStatus)
	assert.Equal(t, enums.EscrowStatusReleasedToBuyer, h.escrowEntry(t, s.sellerB.ID).Status)
	assert.Equal(t, enums.EscrowStatusHeld, h.escrowEntry(t, s.sellerA.ID).Status)
	assert.True(t, h.sellerOrder(t, s.sellerB.ID).CommissionAmount.IsZero())
}

func TestUpdateItemStatusesDerivesRefund(t *testing.T) {
	h := newHarness(t)
	s := h.seedOrder(t)
	ctx := context.Background()

	var small, large models.OrderItem
	for _, item := range s.sellerA.Items {
		if item.LineTotal.Equal(d("50")) {
			small = item
		} else {
			large = item
		}
	}

	res, err := h.svc.UpdateItemStatuses(ctx, ItemStatusUpdateInput{
		SellerOrderID: s.sellerA.ID,
		Updates: []ItemStatusChange{
			{ItemID: small.ID, Status: enums.OrderStatusCancelled},
			{ItemID: large.ID, Status: enums.OrderStatusDelivered},
			{ItemID: uuid.New(), Status: enums.OrderStatusPreparing},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{small.ID}, res.Applied)
	assert.Len(t, res.Rejected, 2)
	assert.Equal(t, enums.OrderStatusPaid, res.SellerOrderStatus)
	assert.True(t, res.RefundedAmount.Equal(d("50")))

	so := h.sellerOrder(t, s.sellerA.ID)
	assert.True(t, so.RefundedAmount.Equal(d("50")))
	assert.True(t, so.CommissionAmount.Equal(d("10")))
	assert.True(t, h.escrowEntry(t, s.sellerA.ID).HeldAmount.Equal(d("100")))

	res, err = h.svc.UpdateItemStatuses(ctx, ItemStatusUpdateInput{
		SellerOrderID: s.sellerA.ID,
		Updates:       []ItemStatusChange{{ItemID: large.ID, Status: enums.OrderStatusPreparing}},
	})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPreparing, res.SellerOrderStatus)
	assert.Equal(t, enums.OrderStatusPreparing, h.sellerOrder(t, s.sellerA.ID).Status)
}

func TestCancelOrder(t *testing.T) {
	h := newHarness(t)
	s := h.seedOrder(t)
	ctx := context.Background()

	require.NoError(t, h.svc.CancelOrder(ctx, s.order.ID, "buyer request"))
	assert.Equal(t, enums.OrderStatusCancelled, h.orderStatus(t, s.order.ID))
	for _, id := range []uuid.UUID{s.sellerA.ID, s.sellerB.ID} {
		so := h.sellerOrder(t, id)
		assert.Equal(t, enums.OrderStatusCancelled, so.Status)
		assert.True(t, so.CommissionAmount.IsZero())
		for _, item := range so.Items {
			assert.Equal(t, enums.OrderStatusCancelled, item.Status)
		}
		assert.Equal(t, enums.EscrowStatusReleasedToBuyer, h.escrowEntry(t, id).Status)
	}
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventOrderCancelled))

	require.NoError(t, h.svc.CancelOrder(ctx, s.order.ID, "again"))
	assert.Equal(t, int64(1), h.countEvents(t, enums.EventOrderCancelled))
}

func TestCancelOrderRefusedAfterShipment(t *testing.T) {
	h := newHarness(t)
	s := h.seedOrder(t)

	h.move(t, s.sellerA.ID, enums.OrderStatusPreparing)
	h.move(t, s.sellerA.ID, enums.OrderStatusShipped)

	err := h.svc.CancelOrder(context.Background(), s.order.ID, "too late")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	details, ok := typed.Details().(map[string]any)
	require.True(t, ok)
	offending, ok := details["seller_orders"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, offending, 1)
	assert.Equal(t, s.sellerA.ID.String(), offending[0]["seller_order_id"])

	assert.Equal(t, enums.OrderStatusPaid, h.sellerOrder(t, s.sellerB.ID).Status)
	assert.Equal(t, enums.EscrowStatusHeld, h.escrowEntry(t, s.sellerB.ID).Status)
}

func TestApplyRefundIsAdditiveAndCapped(t *testing.T) {
	h := newHarness(t)
	s := h.seedOrder(t)
	ctx := context.Background()

	apply := func(amount string) error {
		return h.client.WithTx(ctx, func(tx *gorm.DB) error {
			_, err := h.svc.ApplyRefund(ctx, tx, s.sellerA.ID, d(amount), "return")
			return err
		})
	}
	require.NoError(t, apply("40"))
	require.NoError(t, apply("60"))
	err := apply("60")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	so := h.sellerOrder(t, s.sellerA.ID)
	assert.True(t, so.RefundedAmount.Equal(d("100")))
	assert.Equal(t, enums.OrderStatusPaid, so.Status)
	assert.True(t, so.CommissionAmount.Equal(d("5")))
}

func TestCreateShipmentMovesToShipped(t *testing.T) {
	h := newHarness(t)
	s := h.seedOrder(t)
	ctx := context.Background()
	h.move(t, s.sellerA.ID, enums.OrderStatusPreparing)

	res, err := h.svc.CreateShipment(ctx, ShipmentInput{SellerOrderID: s.sellerA.ID, Method: "standard", WeightKg: d("1.5")})
	require.NoError(t, err)
	assert.Equal(t, "TRK-1", res.TrackingNumber)
	assert.True(t, res.Transition.Applied)
	assert.Equal(t, s.sellerA.ID.String(), h.shipping.got.Reference)
	assert.Equal(t, "Madrid", h.shipping.got.Recipient.City)
	assert.Len(t, h.shipping.got.Items, 2)

	so := h.sellerOrder(t, s.sellerA.ID)
	assert.Equal(t, enums.OrderStatusShipped, so.Status)
	require.NotNil(t, so.Carrier)
	assert.Equal(t, "dhl", *so.Carrier)
}

func TestCreateShipmentProviderFailure(t *testing.T) {
	h := newHarness(t)
	s := h.seedOrder(t)
	ctx := context.Background()
	h.move(t, s.sellerA.ID, enums.OrderStatusPreparing)

	h.shipping.resp = &ShipmentResponse{Success: false, Error: "carrier unavailable", Retryable: true}
	_, err := h.svc.CreateShipment(ctx, ShipmentInput{SellerOrderID: s.sellerA.ID})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.True(t, pkgerrors.As(err).Retryable())
	assert.Equal(t, enums.OrderStatusPreparing, h.sellerOrder(t, s.sellerA.ID).Status)
}

func TestCreateShipmentHonoursCancellation(t *testing.T) {
	h := newHarness(t)
	s := h.seedOrder(t)
	h.move(t, s.sellerA.ID, enums.OrderStatusPreparing)
	h.shipping.block = true

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := h.svc.CreateShipment(ctx, ShipmentInput{SellerOrderID: s.sellerA.ID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, enums.OrderStatusPreparing, h.sellerOrder(t, s.sellerA.ID).Status)
}

func TestCreateShipmentRequiresPreparing(t *testing.T) {
	h := newHarness(t)
	s := h.seedOrder(t)

	_, err := h.svc.CreateShipment(context.Background(), ShipmentInput{SellerOrderID: s.sellerA.ID})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestCreateShipmentWithoutProvider(t *testing.T) {
	h := newHarness(t)
	s := h.seedOrder(t)
	h.move(t, s.sellerA.ID, enums.OrderStatusPreparing)
	h.svc.shipping = nil

	_, err := h.svc.CreateShipment(context.Background(), ShipmentInput{SellerOrderID: s.sellerA.ID})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.False(t, pkgerrors.As(err).Retryable())
}
