package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder          OutboxAggregateType = "order"
	AggregateSellerOrder    OutboxAggregateType = "seller_order"
	AggregatePayoutSchedule OutboxAggregateType = "payout_schedule"
	AggregateInvoice        OutboxAggregateType = "commission_invoice"
	AggregateReturnRequest  OutboxAggregateType = "return_request"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateSellerOrder,
	AggregatePayoutSchedule,
	AggregateInvoice,
	AggregateReturnRequest,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOrderPlaced           OutboxEventType = "order_placed"
	EventOrderCancelled        OutboxEventType = "order_cancelled"
	EventSellerOrderStatus     OutboxEventType = "seller_order_status_changed"
	EventSellerOrderRefunded   OutboxEventType = "seller_order_refunded"
	EventPayoutScheduled       OutboxEventType = "payout_scheduled"
	EventPayoutPaid            OutboxEventType = "payout_paid"
	EventPayoutFailed          OutboxEventType = "payout_failed"
	EventInvoiceIssued         OutboxEventType = "invoice_issued"
	EventReturnRequested       OutboxEventType = "return_requested"
	EventReturnResolved        OutboxEventType = "return_resolved"
	EventPaymentCallbackFailed OutboxEventType = "payment_callback_failed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderPlaced,
	EventOrderCancelled,
	EventSellerOrderStatus,
	EventSellerOrderRefunded,
	EventPayoutScheduled,
	EventPayoutPaid,
	EventPayoutFailed,
	EventInvoiceIssued,
	EventReturnRequested,
	EventReturnResolved,
	EventPaymentCallbackFailed,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
