package main

import (
	"strconv"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox/registry"
)

// Attributes every settlement message carries. Consumers read the first five;
// the routing ids let subscriptions filter by seller, order or payout.
const (
	attrEventID       = "event_id"
	attrEventType     = "event_type"
	attrAggregateType = "aggregate_type"
	attrAggregateID   = "aggregate_id"
	attrCreatedAt     = "created_at"
	attrSchemaVersion = "schema_version"
	attrOrderID       = "order_id"
	attrSellerOrderID = "seller_order_id"
	attrSellerID      = "seller_id"
	attrBuyerID       = "buyer_id"
	attrPayoutID      = "payout_id"
	attrCurrency      = "currency"
)

// orderingKey keeps the events of one aggregate in emit order on the topic.
func orderingKey(event models.OutboxEvent) string {
	return string(event.AggregateType) + "/" + event.AggregateID.String()
}

func buildMessage(event models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := routingAttributes(resolved.Payload)
	attrs[attrEventID] = resolved.Envelope.EventID
	attrs[attrEventType] = string(event.EventType)
	attrs[attrAggregateType] = string(event.AggregateType)
	attrs[attrAggregateID] = event.AggregateID.String()
	attrs[attrCreatedAt] = event.CreatedAt.UTC().Format(time.RFC3339Nano)
	if resolved.Envelope.Version > 0 {
		attrs[attrSchemaVersion] = strconv.Itoa(resolved.Envelope.Version)
	}
	return &gcppubsub.Message{
		Data:        event.Payload,
		Attributes:  attrs,
		OrderingKey: orderingKey(event),
	}
}

// routingAttributes lifts the parties of a settlement event out of its payload.
func routingAttributes(payload any) map[string]string {
	attrs := make(map[string]string)
	setID := func(key string, id uuid.UUID) {
		if id != uuid.Nil {
			attrs[key] = id.String()
		}
	}
	setText := func(key, value string) {
		if value != "" {
			attrs[key] = value
		}
	}

	switch p := payload.(type) {
	case *payloads.OrderPlacedEvent:
		setID(attrOrderID, p.OrderID)
		setID(attrBuyerID, p.BuyerID)
		setText(attrCurrency, p.Currency)
	case *payloads.OrderCancelledEvent:
		setID(attrOrderID, p.OrderID)
		setID(attrBuyerID, p.BuyerID)
	case *payloads.SellerOrderStatusEvent:
		setID(attrOrderID, p.OrderID)
		setID(attrSellerOrderID, p.SellerOrderID)
		setID(attrSellerID, p.SellerID)
	case *payloads.SellerOrderRefundedEvent:
		setID(attrOrderID, p.OrderID)
		setID(attrSellerOrderID, p.SellerOrderID)
		setID(attrSellerID, p.SellerID)
	case *payloads.PayoutEvent:
		setID(attrPayoutID, p.PayoutID)
		setID(attrSellerID, p.SellerID)
		setText(attrCurrency, p.Currency)
	case *payloads.InvoiceIssuedEvent:
		setID(attrSellerID, p.SellerID)
	case *payloads.ReturnRequestedEvent:
		setID(attrSellerOrderID, p.SellerOrderID)
		setID(attrSellerID, p.SellerID)
		setID(attrBuyerID, p.BuyerID)
	case *payloads.ReturnResolvedEvent:
		setID(attrSellerOrderID, p.SellerOrderID)
	case *payloads.PaymentCallbackFailedEvent:
		setID(attrBuyerID, p.BuyerID)
	}
	return attrs
}
