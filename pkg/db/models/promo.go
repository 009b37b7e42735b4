package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// PromoCode is a discount code, optionally scoped to a single seller.
type PromoCode struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	Code            string             `gorm:"column:code;not null;uniqueIndex"`
	DiscountType    enums.DiscountType `gorm:"column:discount_type;not null"`
	Value           decimal.Decimal    `gorm:"column:value;type:numeric(12,2);not null"`
	SellerID        *uuid.UUID         `gorm:"column:seller_id;type:uuid"`
	StartsAt        *time.Time         `gorm:"column:starts_at"`
	EndsAt          *time.Time         `gorm:"column:ends_at"`
	MinimumSubtotal *decimal.Decimal   `gorm:"column:minimum_subtotal;type:numeric(12,2)"`
	Active          bool               `gorm:"column:active;not null"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PromoCode) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// PromoSelection holds the single code currently applied to a buyer's cart.
type PromoSelection struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID   uuid.UUID `gorm:"column:buyer_id;type:uuid;not null;uniqueIndex"`
	Code      string    `gorm:"column:code;not null"`
	AppliedAt time.Time `gorm:"column:applied_at;not null"`
}

func (p *PromoSelection) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
