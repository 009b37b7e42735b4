package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// ShippingSelection records the shipping method a buyer picked for one seller.
type ShippingSelection struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID       uuid.UUID       `gorm:"column:buyer_id;type:uuid;not null;uniqueIndex:ux_shipping_selection_buyer_seller"`
	SellerID      uuid.UUID       `gorm:"column:seller_id;type:uuid;not null;uniqueIndex:ux_shipping_selection_buyer_seller"`
	RuleID        *uuid.UUID      `gorm:"column:rule_id;type:uuid"`
	Method        string          `gorm:"column:method;not null"`
	Cost          decimal.Decimal `gorm:"column:cost;type:numeric(12,2);not null;default:0"`
	EstimatedDays string          `gorm:"column:estimated_days;not null;default:''"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *ShippingSelection) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// PaymentSelection is the buyer's chosen payment method and its gateway state.
type PaymentSelection struct {
	ID                uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID           uuid.UUID           `gorm:"column:buyer_id;type:uuid;not null;uniqueIndex"`
	Method            enums.PaymentMethod `gorm:"column:method;not null"`
	Status            enums.PaymentStatus `gorm:"column:status;not null;default:'pending'"`
	ProviderReference *string             `gorm:"column:provider_reference;uniqueIndex"`
	CreatedAt         time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PaymentSelection) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// DeliveryAddress is a buyer-owned address; at most one is selected for checkout.
type DeliveryAddress struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID    uuid.UUID `gorm:"column:buyer_id;type:uuid;not null;index"`
	FullName   string    `gorm:"column:full_name;not null"`
	Line1      string    `gorm:"column:line1;not null"`
	Line2      *string   `gorm:"column:line2"`
	City       string    `gorm:"column:city;not null"`
	PostalCode string    `gorm:"column:postal_code;not null"`
	Region     string    `gorm:"column:region;not null;default:''"`
	Country    string    `gorm:"column:country;not null"`
	Phone      *string   `gorm:"column:phone"`
	Selected   bool      `gorm:"column:selected;not null;default:false"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *DeliveryAddress) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}
