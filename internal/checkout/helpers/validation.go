package helpers

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/types"
)

// AvailableRules keeps the active rules that can carry weightKg to address.
// A nil address skips the destination filters.
func AvailableRules(rules []models.ShippingRule, weightKg decimal.Decimal, address *models.DeliveryAddress) []models.ShippingRule {
	out := make([]models.ShippingRule, 0, len(rules))
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		if rule.MaxWeightKg != nil && weightKg.GreaterThan(*rule.MaxWeightKg) {
			continue
		}
		if address != nil && (!rule.AllowsCountry(address.Country) || !rule.AllowsRegion(address.Region)) {
			continue
		}
		out = append(out, rule)
	}
	return out
}

// MatchSelection finds the available rule the stored selection still points at.
func MatchSelection(available []models.ShippingRule, selection models.ShippingSelection) *models.ShippingRule {
	for i := range available {
		if selection.RuleID != nil && available[i].ID == *selection.RuleID {
			return &available[i]
		}
	}
	for i := range available {
		if strings.EqualFold(available[i].Method, selection.Method) {
			return &available[i]
		}
	}
	return nil
}

// DeliverySnapshot freezes address for the order.
func DeliverySnapshot(address models.DeliveryAddress) types.DeliverySnapshot {
	return types.DeliverySnapshot{
		FullName:   strings.TrimSpace(address.FullName),
		Line1:      strings.TrimSpace(address.Line1),
		Line2:      address.Line2,
		City:       strings.TrimSpace(address.City),
		PostalCode: strings.TrimSpace(address.PostalCode),
		Region:     strings.TrimSpace(address.Region),
		Country:    strings.ToUpper(strings.TrimSpace(address.Country)),
		Phone:      address.Phone,
	}
}
