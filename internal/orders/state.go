package orders

import "github.com/angelmondragon/packfinderz-settlement/pkg/enums"

// transitions is shared by suborders and items. Terminal statuses have no entry.
var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusNew:       {enums.OrderStatusPaid, enums.OrderStatusPreparing, enums.OrderStatusCancelled},
	enums.OrderStatusPaid:      {enums.OrderStatusPreparing, enums.OrderStatusCancelled, enums.OrderStatusRefunded},
	enums.OrderStatusPreparing: {enums.OrderStatusShipped, enums.OrderStatusCancelled, enums.OrderStatusRefunded},
	enums.OrderStatusShipped:   {enums.OrderStatusDelivered, enums.OrderStatusRefunded},
}

// CanTransition reports whether to is reachable from from in one step.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedTransitions lists the statuses reachable from status.
func AllowedTransitions(status enums.OrderStatus) []enums.OrderStatus {
	next := transitions[status]
	out := make([]enums.OrderStatus, len(next))
	copy(out, next)
	return out
}

// Rollup derives the order status from its suborders: delivered only when every
// active suborder is delivered, shipped once any suborder shipped and none is
// behind preparing, otherwise the least advanced active status.
func Rollup(statuses []enums.OrderStatus) enums.OrderStatus {
	least, ok := leastAdvanced(statuses)
	if !ok {
		return inactiveOutcome(statuses)
	}
	if least == enums.OrderStatusDelivered {
		return enums.OrderStatusDelivered
	}
	shipped := false
	for _, status := range statuses {
		if status.IsActive() && status.ReachedShipment() {
			shipped = true
			break
		}
	}
	if shipped && least.Rank() >= enums.OrderStatusPreparing.Rank() {
		return enums.OrderStatusShipped
	}
	return least
}

// DeriveFromItems is the least advanced status among still-active items.
func DeriveFromItems(statuses []enums.OrderStatus) enums.OrderStatus {
	least, ok := leastAdvanced(statuses)
	if !ok {
		return inactiveOutcome(statuses)
	}
	return least
}

func leastAdvanced(statuses []enums.OrderStatus) (enums.OrderStatus, bool) {
	var least enums.OrderStatus
	found := false
	for _, status := range statuses {
		if !status.IsActive() {
			continue
		}
		if !found || status.Rank() < least.Rank() {
			least = status
			found = true
		}
	}
	return least, found
}

func inactiveOutcome(statuses []enums.OrderStatus) enums.OrderStatus {
	if len(statuses) == 0 {
		return enums.OrderStatusNew
	}
	for _, status := range statuses {
		if status == enums.OrderStatusRefunded {
			return enums.OrderStatusRefunded
		}
	}
	return enums.OrderStatusCancelled
}
