package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// EscrowEntry holds the money of one suborder until it is released to the
// buyer or paid out to the seller. HeldAmount always equals
// CommissionAmount + SellerPayoutAmount.
type EscrowEntry struct {
	ID                 uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID            uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	SellerOrderID      uuid.UUID          `gorm:"column:seller_order_id;type:uuid;not null;uniqueIndex"`
	SellerID           uuid.UUID          `gorm:"column:seller_id;type:uuid;not null;index"`
	HeldAmount         decimal.Decimal    `gorm:"column:held_amount;type:numeric(14,6);not null"`
	CommissionAmount   decimal.Decimal    `gorm:"column:commission_amount;type:numeric(14,6);not null"`
	SellerPayoutAmount decimal.Decimal    `gorm:"column:seller_payout_amount;type:numeric(14,6);not null"`
	OriginalCommission decimal.Decimal    `gorm:"column:original_commission;type:numeric(14,6);not null"`
	Status             enums.EscrowStatus `gorm:"column:status;not null"`
	PayoutEligibleAt   time.Time          `gorm:"column:payout_eligible_at;not null;index"`
	ReleasedAt         *time.Time         `gorm:"column:released_at"`
	ReleaseReason      *string            `gorm:"column:release_reason"`
	CreatedAt          time.Time          `gorm:"column:created_at;not null"`
	UpdatedAt          time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (e *EscrowEntry) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}
