package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox/payloads"
)

var ErrUnsupportedEventType = errors.New("unsupported settlement event type")

// Writer delivers rows produced by the router.
type Writer interface {
	Insert(ctx context.Context, row SettlementEventRow) error
}

type rowBuilder func(envelope Envelope, payload any) (SettlementEventRow, error)

type routeEntry struct {
	factory func() any
	build   rowBuilder
}

// Router decodes each settlement event and writes one warehouse row for it.
type Router struct {
	routes map[enums.OutboxEventType]routeEntry
	writer Writer
	logg   *logger.Logger
}

func NewRouter(writer Writer, logg *logger.Logger) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	return &Router{
		routes: map[enums.OutboxEventType]routeEntry{
			enums.EventOrderPlaced: {
				factory: func() any { return &payloads.OrderPlacedEvent{} },
				build:   orderPlacedRow,
			},
			enums.EventOrderCancelled: {
				factory: func() any { return &payloads.OrderCancelledEvent{} },
				build:   orderCancelledRow,
			},
			enums.EventSellerOrderStatus: {
				factory: func() any { return &payloads.SellerOrderStatusEvent{} },
				build:   sellerOrderStatusRow,
			},
			enums.EventSellerOrderRefunded: {
				factory: func() any { return &payloads.SellerOrderRefundedEvent{} },
				build:   sellerOrderRefundedRow,
			},
			enums.EventPayoutScheduled: {
				factory: func() any { return &payloads.PayoutEvent{} },
				build:   payoutRow,
			},
			enums.EventPayoutPaid: {
				factory: func() any { return &payloads.PayoutEvent{} },
				build:   payoutRow,
			},
			enums.EventPayoutFailed: {
				factory: func() any { return &payloads.PayoutEvent{} },
				build:   payoutRow,
			},
			enums.EventInvoiceIssued: {
				factory: func() any { return &payloads.InvoiceIssuedEvent{} },
				build:   invoiceIssuedRow,
			},
			enums.EventReturnRequested: {
				factory: func() any { return &payloads.ReturnRequestedEvent{} },
				build:   returnRequestedRow,
			},
			enums.EventReturnResolved: {
				factory: func() any { return &payloads.ReturnResolvedEvent{} },
				build:   returnResolvedRow,
			},
			enums.EventPaymentCallbackFailed: {
				factory: func() any { return &payloads.PaymentCallbackFailedEvent{} },
				build:   paymentCallbackFailedRow,
			},
		},
		writer: writer,
		logg:   logg,
	}, nil
}

// Handle decodes the envelope payload, builds its row and hands it to the writer.
func (r *Router) Handle(ctx context.Context, envelope Envelope) error {
	entry, ok := r.routes[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	payload := entry.factory()
	if err := json.Unmarshal(envelope.Payload, payload); err != nil {
		return fmt.Errorf("decode %s payload: %w", envelope.EventType, err)
	}

	row, err := entry.build(envelope, payload)
	if err != nil {
		return fmt.Errorf("build %s row: %w", envelope.EventType, err)
	}
	if err := r.writer.Insert(ctx, row); err != nil {
		r.logg.Error(ctx, "failed to insert settlement event row", err)
		return err
	}
	return nil
}

func orderPlacedRow(envelope Envelope, payload any) (SettlementEventRow, error) {
	event := payload.(*payloads.OrderPlacedEvent)
	row, err := baseRow(envelope)
	if err != nil {
		return row, err
	}
	row.OrderID = uuidPtr(event.OrderID)
	row.BuyerID = uuidPtr(event.BuyerID)
	row.Status = stringPtr(string(event.Status))
	row.Amount = numeric(event.Total)
	row.Currency = stringPtr(event.Currency)
	return row, nil
}

func orderCancelledRow(envelope Envelope, payload any) (SettlementEventRow, error) {
	event := payload.(*payloads.OrderCancelledEvent)
	row, err := baseRow(envelope)
	if err != nil {
		return row, err
	}
	if !event.CancelledAt.IsZero() {
		row.OccurredAt = event.CancelledAt.UTC()
	}
	row.OrderID = uuidPtr(event.OrderID)
	row.BuyerID = uuidPtr(event.BuyerID)
	row.Status = stringPtr(string(enums.OrderStatusCancelled))
	row.Reference = stringPtr(event.Reason)
	return row, nil
}

func sellerOrderStatusRow(envelope Envelope, payload any) (SettlementEventRow, error) {
	event := payload.(*payloads.SellerOrderStatusEvent)
	row, err := baseRow(envelope)
	if err != nil {
		return row, err
	}
	row.OrderID = uuidPtr(event.OrderID)
	row.SellerOrderID = uuidPtr(event.SellerOrderID)
	row.SellerID = uuidPtr(event.SellerID)
	row.Status = stringPtr(string(event.To))
	if event.TrackingNumber != nil {
		row.Reference = stringPtr(*event.TrackingNumber)
	}
	return row, nil
}

func sellerOrderRefundedRow(envelope Envelope, payload any) (SettlementEventRow, error) {
	event := payload.(*payloads.SellerOrderRefundedEvent)
	row, err := baseRow(envelope)
	if err != nil {
		return row, err
	}
	row.OrderID = uuidPtr(event.OrderID)
	row.SellerOrderID = uuidPtr(event.SellerOrderID)
	row.SellerID = uuidPtr(event.SellerID)
	row.Status = stringPtr(string(enums.OrderStatusRefunded))
	row.Reference = stringPtr(event.Reason)
	row.Amount = numeric(event.RefundedAmount)
	row.Commission = numeric(event.CommissionAmount)
	return row, nil
}

func payoutRow(envelope Envelope, payload any) (SettlementEventRow, error) {
	event := payload.(*payloads.PayoutEvent)
	row, err := baseRow(envelope)
	if err != nil {
		return row, err
	}
	row.SellerID = uuidPtr(event.SellerID)
	row.Status = stringPtr(string(event.Status))
	row.Amount = numeric(event.Amount)
	row.Currency = stringPtr(event.Currency)
	switch {
	case event.TransferReference != nil:
		row.Reference = stringPtr(*event.TransferReference)
	case event.ErrorReference != nil:
		row.Reference = stringPtr(*event.ErrorReference)
	}
	return row, nil
}

func invoiceIssuedRow(envelope Envelope, payload any) (SettlementEventRow, error) {
	event := payload.(*payloads.InvoiceIssuedEvent)
	row, err := baseRow(envelope)
	if err != nil {
		return row, err
	}
	status := "invoice"
	if event.IsCreditNote {
		status = "credit_note"
	}
	row.SellerID = uuidPtr(event.SellerID)
	row.Status = stringPtr(status)
	row.Reference = stringPtr(event.InvoiceNumber)
	row.Amount = numeric(event.Total)
	return row, nil
}

func returnRequestedRow(envelope Envelope, payload any) (SettlementEventRow, error) {
	event := payload.(*payloads.ReturnRequestedEvent)
	row, err := baseRow(envelope)
	if err != nil {
		return row, err
	}
	row.SellerOrderID = uuidPtr(event.SellerOrderID)
	row.SellerID = uuidPtr(event.SellerID)
	row.BuyerID = uuidPtr(event.BuyerID)
	row.Status = stringPtr(string(enums.ReturnStatusRequested))
	row.Reference = uuidPtr(event.ReturnRequestID)
	return row, nil
}

func returnResolvedRow(envelope Envelope, payload any) (SettlementEventRow, error) {
	event := payload.(*payloads.ReturnResolvedEvent)
	row, err := baseRow(envelope)
	if err != nil {
		return row, err
	}
	row.SellerOrderID = uuidPtr(event.SellerOrderID)
	row.Status = stringPtr(string(event.Status))
	row.Reference = uuidPtr(event.ReturnRequestID)
	if event.RefundAmount != nil {
		row.Amount = numeric(*event.RefundAmount)
	}
	return row, nil
}

func paymentCallbackFailedRow(envelope Envelope, payload any) (SettlementEventRow, error) {
	event := payload.(*payloads.PaymentCallbackFailedEvent)
	row, err := baseRow(envelope)
	if err != nil {
		return row, err
	}
	row.BuyerID = uuidPtr(event.BuyerID)
	row.Status = stringPtr(event.ProviderStatus)
	row.Reference = stringPtr(event.PaymentReference)
	return row, nil
}
