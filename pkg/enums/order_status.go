package enums

import "fmt"

// OrderStatus is shared by orders, seller suborders and order items.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRefunded  OrderStatus = "refunded"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusNew,
	OrderStatusPaid,
	OrderStatusPreparing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// fulfillment progress; cancelled/refunded sit outside the forward path.
var orderStatusRank = map[OrderStatus]int{
	OrderStatusNew:       0,
	OrderStatusPaid:      1,
	OrderStatusPreparing: 2,
	OrderStatusShipped:   3,
	OrderStatusDelivered: 4,
}

// String implements fmt.Stringer.
func (s OrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known OrderStatus.
func (s OrderStatus) IsValid() bool {
	for _, candidate := range validOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsActive is false for cancelled and refunded records.
func (s OrderStatus) IsActive() bool {
	_, ok := orderStatusRank[s]
	return ok
}

// IsTerminal reports whether no further transition is allowed.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusRefunded
}

// Rank orders active statuses along the fulfillment path. Inactive statuses return -1.
func (s OrderStatus) Rank() int {
	if rank, ok := orderStatusRank[s]; ok {
		return rank
	}
	return -1
}

// ReachedShipment reports whether goods left the seller.
func (s OrderStatus) ReachedShipment() bool {
	return s.Rank() >= orderStatusRank[OrderStatusShipped]
}

// ParseOrderStatus converts raw input into OrderStatus.
func ParseOrderStatus(value string) (OrderStatus, error) {
	for _, candidate := range validOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid order status %q", value)
}
