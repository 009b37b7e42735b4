package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CartItem is one product line in a buyer's cart. Seller data is denormalized
// so the cart can be grouped without catalog lookups.
type CartItem struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID     uuid.UUID       `gorm:"column:buyer_id;type:uuid;not null;index"`
	ProductID   uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	SKU         string          `gorm:"column:sku;not null"`
	ProductName string          `gorm:"column:product_name;not null"`
	Category    string          `gorm:"column:category;not null;default:''"`
	SellerID    uuid.UUID       `gorm:"column:seller_id;type:uuid;not null"`
	SellerName  string          `gorm:"column:seller_name;not null"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Quantity    int             `gorm:"column:quantity;not null"`
	WeightKg    decimal.Decimal `gorm:"column:weight_kg;type:numeric(10,3);not null;default:0"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *CartItem) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// LineTotal is unit price times quantity.
func (c CartItem) LineTotal() decimal.Decimal {
	return c.UnitPrice.Mul(decimal.NewFromInt(int64(c.Quantity)))
}

// LineWeight is weight times quantity.
func (c CartItem) LineWeight() decimal.Decimal {
	return c.WeightKg.Mul(decimal.NewFromInt(int64(c.Quantity)))
}
