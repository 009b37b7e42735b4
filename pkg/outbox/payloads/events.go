// Package payloads defines the data section of settlement outbox events.
package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// OrderPlacedEvent is emitted once per order at checkout.
type OrderPlacedEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	BuyerID        uuid.UUID         `json:"buyer_id"`
	SellerOrderIDs []uuid.UUID       `json:"seller_order_ids"`
	Status         enums.OrderStatus `json:"status"`
	Total          decimal.Decimal   `json:"total"`
	Currency       string            `json:"currency"`
}

// OrderCancelledEvent is emitted when a whole order is cancelled.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	BuyerID     uuid.UUID `json:"buyer_id"`
	CancelledAt time.Time `json:"cancelled_at"`
	Reason      string    `json:"reason,omitempty"`
}

// SellerOrderStatusEvent reports a suborder transition and the resulting
// order rollup.
type SellerOrderStatusEvent struct {
	OrderID        uuid.UUID         `json:"order_id"`
	SellerOrderID  uuid.UUID         `json:"seller_order_id"`
	SellerID       uuid.UUID         `json:"seller_id"`
	From           enums.OrderStatus `json:"from"`
	To             enums.OrderStatus `json:"to"`
	OrderStatus    enums.OrderStatus `json:"order_status"`
	TrackingNumber *string           `json:"tracking_number,omitempty"`
}

// SellerOrderRefundedEvent reports a full or partial refund on a suborder.
type SellerOrderRefundedEvent struct {
	OrderID          uuid.UUID       `json:"order_id"`
	SellerOrderID    uuid.UUID       `json:"seller_order_id"`
	SellerID         uuid.UUID       `json:"seller_id"`
	RefundedAmount   decimal.Decimal `json:"refunded_amount"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	Reason           string          `json:"reason,omitempty"`
}

// PayoutEvent covers scheduled, paid and failed payouts.
type PayoutEvent struct {
	PayoutID          uuid.UUID          `json:"payout_id"`
	SellerID          uuid.UUID          `json:"seller_id"`
	Status            enums.PayoutStatus `json:"status"`
	Amount            decimal.Decimal    `json:"amount"`
	Currency          string             `json:"currency"`
	ScheduledFor      time.Time          `json:"scheduled_for"`
	EntryCount        int                `json:"entry_count"`
	TransferReference *string            `json:"transfer_reference,omitempty"`
	ErrorReference    *string            `json:"error_reference,omitempty"`
}

// InvoiceIssuedEvent is emitted when a monthly commission invoice is created.
type InvoiceIssuedEvent struct {
	InvoiceNumber string          `json:"invoice_number"`
	SellerID      uuid.UUID       `json:"seller_id"`
	PeriodStart   time.Time       `json:"period_start"`
	PeriodEnd     time.Time       `json:"period_end"`
	Total         decimal.Decimal `json:"total"`
	IsCreditNote  bool            `json:"is_credit_note"`
}

// ReturnRequestedEvent is emitted when a buyer opens a case.
type ReturnRequestedEvent struct {
	ReturnRequestID uuid.UUID        `json:"return_request_id"`
	SellerOrderID   uuid.UUID        `json:"seller_order_id"`
	BuyerID         uuid.UUID        `json:"buyer_id"`
	SellerID        uuid.UUID        `json:"seller_id"`
	Type            enums.ReturnType `json:"type"`
	ItemCount       int              `json:"item_count"`
}

// ReturnResolvedEvent is emitted when a case reaches completed or rejected.
type ReturnResolvedEvent struct {
	ReturnRequestID uuid.UUID          `json:"return_request_id"`
	SellerOrderID   uuid.UUID          `json:"seller_order_id"`
	Status          enums.ReturnStatus `json:"status"`
	RefundAmount    *decimal.Decimal   `json:"refund_amount,omitempty"`
}

// PaymentCallbackFailedEvent records a provider callback that reported failure.
type PaymentCallbackFailedEvent struct {
	PaymentReference string    `json:"payment_reference"`
	BuyerID          uuid.UUID `json:"buyer_id"`
	ProviderStatus   string    `json:"provider_status"`
}
