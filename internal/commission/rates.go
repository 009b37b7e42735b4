package commission

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-settlement/pkg/config"
)

// RateResolver applies the precedence seller override > category override > default.
type RateResolver struct {
	defaultRate   decimal.Decimal
	sellerRates   map[uuid.UUID]decimal.Decimal
	categoryRates map[string]decimal.Decimal
}

func NewRateResolver(defaultRate decimal.Decimal, sellerRates map[uuid.UUID]decimal.Decimal, categoryRates map[string]decimal.Decimal) *RateResolver {
	categories := make(map[string]decimal.Decimal, len(categoryRates))
	for category, rate := range categoryRates {
		categories[normalizeCategory(category)] = rate
	}
	sellers := make(map[uuid.UUID]decimal.Decimal, len(sellerRates))
	for id, rate := range sellerRates {
		sellers[id] = rate
	}
	return &RateResolver{defaultRate: defaultRate, sellerRates: sellers, categoryRates: categories}
}

// NewRateResolverFromConfig reads the marketplace commission settings.
func NewRateResolverFromConfig(cfg config.MarketplaceConfig) *RateResolver {
	return NewRateResolver(cfg.CommissionDefaultRate, cfg.SellerCommissionRates(), cfg.CommissionCategoryRates)
}

// SellerRate is the seller override or the default rate. Categories are not consulted.
func (r *RateResolver) SellerRate(sellerID uuid.UUID) decimal.Decimal {
	if rate, ok := r.sellerRates[sellerID]; ok {
		return rate
	}
	return r.defaultRate
}

// ItemRate resolves the rate for one line.
func (r *RateResolver) ItemRate(sellerID uuid.UUID, category string) decimal.Decimal {
	if rate, ok := r.sellerRates[sellerID]; ok {
		return rate
	}
	if rate, ok := r.categoryRates[normalizeCategory(category)]; ok {
		return rate
	}
	return r.defaultRate
}

func normalizeCategory(category string) string {
	return strings.ToLower(strings.TrimSpace(category))
}
