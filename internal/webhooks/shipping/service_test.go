package shippingwebhook

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-settlement/internal/orders"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

type stubOrders struct {
	sellerOrder *models.SellerOrder
	findErr     error
	got         []orders.StatusUpdateInput
}

func (s *stubOrders) FindByTrackingNumber(_ context.Context, trackingNumber string) (*models.SellerOrder, error) {
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.sellerOrder.TrackingNumber == nil || *s.sellerOrder.TrackingNumber != trackingNumber {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "seller order not found")
	}
	return s.sellerOrder, nil
}

func (s *stubOrders) UpdateSellerOrderStatus(_ context.Context, input orders.StatusUpdateInput) (orders.TransitionResult, error) {
	s.got = append(s.got, input)
	result := orders.TransitionResult{SellerOrderID: input.SellerOrderID, From: s.sellerOrder.Status, To: input.Status}
	switch {
	case s.sellerOrder.Status == input.Status:
		result.Unchanged = true
	case orders.CanTransition(s.sellerOrder.Status, input.Status):
		result.Applied = true
		s.sellerOrder.Status = input.Status
	default:
		result.Rejected = true
		result.Reason = "not allowed"
	}
	return result, nil
}

func newTestService(t *testing.T, status enums.OrderStatus) (*Service, *stubOrders) {
	t.Helper()
	tracking := "TRK-9"
	stub := &stubOrders{sellerOrder: &models.SellerOrder{ID: uuid.New(), OrderID: uuid.New(), Status: status, TrackingNumber: &tracking}}
	svc, err := NewService(stub, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, stub
}

func TestMapStatus(t *testing.T) {
	cases := map[string]enums.OrderStatus{
		"in_transit":       enums.OrderStatusShipped,
		"SHIPPED":          enums.OrderStatusShipped,
		" out_for_delivery": enums.OrderStatusShipped,
		"delivered":        enums.OrderStatusDelivered,
		"cancelled":        enums.OrderStatusCancelled,
	}
	for code, want := range cases {
		got, ok := MapStatus(code)
		if !ok || got != want {
			t.Fatalf("MapStatus(%q) = %s, %v; want %s", code, got, ok, want)
		}
	}
	if _, ok := MapStatus("lost"); ok {
		t.Fatal("expected unknown code to be rejected")
	}
}

func TestHandleStatusUpdateDelivers(t *testing.T) {
	svc, stub := newTestService(t, enums.OrderStatusShipped)

	result, err := svc.HandleStatusUpdate(context.Background(), Update{ProviderCode: "dhl", TrackingNumber: "TRK-9", Status: "delivered"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !result.Applied || result.To != enums.OrderStatusDelivered {
		t.Fatalf("unexpected result %+v", result)
	}
	if stub.got[0].TrackingNumber != nil {
		t.Fatal("tracking must only be forwarded for shipped updates")
	}
}

func TestHandleStatusUpdateForwardsTrackingWhenShipped(t *testing.T) {
	svc, stub := newTestService(t, enums.OrderStatusPreparing)
	url := "https://track/TRK-9"

	result, err := svc.HandleStatusUpdate(context.Background(), Update{ProviderCode: "dhl", TrackingNumber: "TRK-9", Status: "in_transit", TrackingURL: &url})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !result.Applied {
		t.Fatalf("expected applied, got %+v", result)
	}
	got := stub.got[0]
	if got.TrackingNumber == nil || *got.TrackingNumber != "TRK-9" || got.TrackingURL == nil || *got.TrackingURL != url {
		t.Fatalf("tracking not forwarded: %+v", got)
	}
}

func TestHandleStatusUpdateRepeatIsUnchanged(t *testing.T) {
	svc, _ := newTestService(t, enums.OrderStatusShipped)

	for i := 0; i < 2; i++ {
		result, err := svc.HandleStatusUpdate(context.Background(), Update{ProviderCode: "dhl", TrackingNumber: "TRK-9", Status: "out_for_delivery"})
		if err != nil {
			t.Fatalf("handle: %v", err)
		}
		if !result.Unchanged {
			t.Fatalf("expected unchanged, got %+v", result)
		}
	}
}

func TestHandleStatusUpdateRejectsUnknownStatus(t *testing.T) {
	svc, stub := newTestService(t, enums.OrderStatusShipped)

	_, err := svc.HandleStatusUpdate(context.Background(), Update{ProviderCode: "dhl", TrackingNumber: "TRK-9", Status: "lost"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(stub.got) != 0 {
		t.Fatal("state machine must not be called")
	}
}

func TestHandleStatusUpdateUnknownTracking(t *testing.T) {
	svc, _ := newTestService(t, enums.OrderStatusShipped)

	_, err := svc.HandleStatusUpdate(context.Background(), Update{ProviderCode: "dhl", TrackingNumber: "TRK-0", Status: "delivered"})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestHandleStatusUpdateReportsRejectedTransition(t *testing.T) {
	svc, _ := newTestService(t, enums.OrderStatusDelivered)

	result, err := svc.HandleStatusUpdate(context.Background(), Update{ProviderCode: "dhl", TrackingNumber: "TRK-9", Status: "cancelled"})
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !result.Rejected {
		t.Fatalf("expected rejected, got %+v", result)
	}
}
