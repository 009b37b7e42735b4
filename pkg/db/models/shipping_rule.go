package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ShippingRule is a seller-defined shipping method with its pricing.
type ShippingRule struct {
	ID                    uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	SellerID              uuid.UUID        `gorm:"column:seller_id;type:uuid;not null;index"`
	Method                string           `gorm:"column:method;not null"`
	BasePrice             decimal.Decimal  `gorm:"column:base_price;type:numeric(12,2);not null"`
	PerKgPrice            *decimal.Decimal `gorm:"column:per_kg_price;type:numeric(12,2)"`
	FreeShippingThreshold *decimal.Decimal `gorm:"column:free_shipping_threshold;type:numeric(12,2)"`
	MaxWeightKg           *decimal.Decimal `gorm:"column:max_weight_kg;type:numeric(10,3)"`
	AllowedCountries      []string         `gorm:"column:allowed_countries;type:jsonb;serializer:json"`
	AllowedRegions        []string         `gorm:"column:allowed_regions;type:jsonb;serializer:json"`
	EstimatedDaysMin      int              `gorm:"column:estimated_days_min;not null;default:0"`
	EstimatedDaysMax      int              `gorm:"column:estimated_days_max;not null;default:0"`
	Active                bool             `gorm:"column:active;not null"`
	Position              int              `gorm:"column:position;not null;default:0"`
	CreatedAt             time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt             time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *ShippingRule) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// AllowsCountry reports whether the rule ships to country; an empty list ships anywhere.
func (r ShippingRule) AllowsCountry(country string) bool {
	return allowedIn(r.AllowedCountries, country)
}

// AllowsRegion reports whether the rule ships to region; an empty list ships anywhere.
func (r ShippingRule) AllowsRegion(region string) bool {
	return allowedIn(r.AllowedRegions, region)
}

func allowedIn(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, candidate := range list {
		if strings.EqualFold(strings.TrimSpace(candidate), strings.TrimSpace(value)) {
			return true
		}
	}
	return false
}
