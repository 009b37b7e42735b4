package helpers

import (
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
)

func dec(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func TestSellerIDsKeepsFirstAppearance(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	items := []models.CartItem{{SellerID: b}, {SellerID: a}, {SellerID: b}}
	got := SellerIDs(items)
	if len(got) != 2 || got[0] != b || got[1] != a {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestAvailableRulesFilters(t *testing.T) {
	address := &models.DeliveryAddress{Country: "es", Region: "Madrid"}
	rules := []models.ShippingRule{
		{Method: "inactive", Active: false},
		{Method: "light", Active: true, MaxWeightKg: dec("1")},
		{Method: "france", Active: true, AllowedCountries: []string{"FR"}},
		{Method: "islands", Active: true, AllowedRegions: []string{"Canarias"}},
		{Method: "standard", Active: true, AllowedCountries: []string{"ES", "PT"}},
	}

	got := AvailableRules(rules, decimal.RequireFromString("2.5"), address)
	if len(got) != 1 || got[0].Method != "standard" {
		t.Fatalf("expected only standard, got %+v", got)
	}

	got = AvailableRules(rules, decimal.RequireFromString("0.5"), nil)
	if len(got) != 4 {
		t.Fatalf("expected destination filters skipped without address, got %d rules", len(got))
	}
}

func TestMatchSelectionPrefersRuleID(t *testing.T) {
	first := models.ShippingRule{ID: uuid.New(), Method: "express"}
	second := models.ShippingRule{ID: uuid.New(), Method: "standard"}
	available := []models.ShippingRule{first, second}

	id := second.ID
	if got := MatchSelection(available, models.ShippingSelection{RuleID: &id, Method: "express"}); got == nil || got.ID != second.ID {
		t.Fatalf("expected rule id match, got %+v", got)
	}
	if got := MatchSelection(available, models.ShippingSelection{Method: "EXPRESS"}); got == nil || got.ID != first.ID {
		t.Fatalf("expected method match, got %+v", got)
	}
	if got := MatchSelection(available, models.ShippingSelection{Method: "pickup"}); got != nil {
		t.Fatalf("expected no match, got %+v", got)
	}
}

func TestDeliverySnapshotNormalizes(t *testing.T) {
	snap := DeliverySnapshot(models.DeliveryAddress{FullName: " Ana ", Line1: "Main 1", City: "Madrid", PostalCode: "28001", Country: " es "})
	if snap.Country != "ES" || snap.FullName != "Ana" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
