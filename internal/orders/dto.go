package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	"github.com/angelmondragon/packfinderz-settlement/pkg/types"
)

// StatusUpdateInput moves one suborder. SellerID, when set, must own the suborder.
type StatusUpdateInput struct {
	SellerOrderID  uuid.UUID         `json:"seller_order_id" validate:"required"`
	SellerID       *uuid.UUID        `json:"seller_id"`
	Status         enums.OrderStatus `json:"status" validate:"required"`
	TrackingNumber *string           `json:"tracking_number"`
	Carrier        *string           `json:"carrier"`
	TrackingURL    *string           `json:"tracking_url"`
	RefundAmount   *decimal.Decimal  `json:"refund_amount"`
	Reason         string            `json:"reason"`
}

// TransitionResult reports the outcome of a status change. A rejected
// transition is a result, not an error.
type TransitionResult struct {
	SellerOrderID uuid.UUID
	From          enums.OrderStatus
	To            enums.OrderStatus
	Applied       bool
	Unchanged     bool
	Rejected      bool
	Reason        string
	OrderStatus   enums.OrderStatus
}

// ItemStatusChange targets one order item.
type ItemStatusChange struct {
	ItemID uuid.UUID         `json:"item_id" validate:"required"`
	Status enums.OrderStatus `json:"status" validate:"required"`
}

// ItemStatusUpdateInput applies several item transitions on one suborder.
type ItemStatusUpdateInput struct {
	SellerOrderID  uuid.UUID          `json:"seller_order_id" validate:"required"`
	SellerID       *uuid.UUID         `json:"seller_id"`
	Updates        []ItemStatusChange `json:"updates" validate:"required,min=1,dive"`
	TrackingNumber *string            `json:"tracking_number"`
	Carrier        *string            `json:"carrier"`
	TrackingURL    *string            `json:"tracking_url"`
}

// RejectedItem explains why an item transition was refused.
type RejectedItem struct {
	ItemID uuid.UUID
	From   enums.OrderStatus
	To     enums.OrderStatus
	Reason string
}

// ItemUpdateResult summarises an item-level update.
type ItemUpdateResult struct {
	Applied           []uuid.UUID
	Rejected          []RejectedItem
	SellerOrderStatus enums.OrderStatus
	RefundedAmount    decimal.Decimal
	OrderStatus       enums.OrderStatus
}

// ShipmentInput is what a seller supplies when booking a shipment.
type ShipmentInput struct {
	SellerOrderID uuid.UUID       `json:"seller_order_id" validate:"required"`
	SellerID      *uuid.UUID      `json:"seller_id"`
	Method        string          `json:"method"`
	WeightKg      decimal.Decimal `json:"weight_kg" validate:"gte=0"`
}

// ShipmentRequest is sent to the shipping provider.
type ShipmentRequest struct {
	Reference string
	SellerID  uuid.UUID
	Method    string
	WeightKg  decimal.Decimal
	Recipient types.DeliverySnapshot
	Items     []ShipmentLine
}

// ShipmentLine is one parcel content line.
type ShipmentLine struct {
	SKU      string
	Name     string
	Quantity int
}

// ShipmentResponse is the provider's answer. Success false carries Error and
// the provider's retry hint.
type ShipmentResponse struct {
	Success        bool
	TrackingNumber string
	TrackingURL    string
	Carrier        string
	Label          []byte
	Error          string
	Retryable      bool
}

// ShipmentResult is returned to the caller once the suborder is shipped.
type ShipmentResult struct {
	TrackingNumber string
	TrackingURL    string
	Carrier        string
	Label          []byte
	Transition     TransitionResult
}
