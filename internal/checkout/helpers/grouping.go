package helpers

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
)

// SellerIDs returns the distinct sellers of items in order of first appearance.
func SellerIDs(items []models.CartItem) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.SellerID]; ok {
			continue
		}
		seen[item.SellerID] = struct{}{}
		ids = append(ids, item.SellerID)
	}
	return ids
}

// GroupRulesBySeller indexes shipping rules by seller, keeping their order.
func GroupRulesBySeller(rules []models.ShippingRule) map[uuid.UUID][]models.ShippingRule {
	grouped := make(map[uuid.UUID][]models.ShippingRule)
	for _, rule := range rules {
		grouped[rule.SellerID] = append(grouped[rule.SellerID], rule)
	}
	return grouped
}

// GroupSelectionsBySeller indexes a buyer's shipping selections by seller.
func GroupSelectionsBySeller(selections []models.ShippingSelection) map[uuid.UUID]models.ShippingSelection {
	grouped := make(map[uuid.UUID]models.ShippingSelection, len(selections))
	for _, selection := range selections {
		grouped[selection.SellerID] = selection
	}
	return grouped
}
