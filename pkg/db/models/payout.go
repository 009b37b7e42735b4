package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// PayoutSchedule batches escrow entries of one seller into a single transfer.
type PayoutSchedule struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	SellerID          uuid.UUID            `gorm:"column:seller_id;type:uuid;not null;index"`
	Status            enums.PayoutStatus   `gorm:"column:status;not null;index"`
	Currency          string               `gorm:"column:currency;not null"`
	TotalAmount       decimal.Decimal      `gorm:"column:total_amount;type:numeric(14,6);not null"`
	ScheduledFor      time.Time            `gorm:"column:scheduled_for;not null"`
	AttemptCount      int                  `gorm:"column:attempt_count;not null;default:0"`
	ErrorReference    *string              `gorm:"column:error_reference"`
	TransferReference *string              `gorm:"column:transfer_reference"`
	PaidAt            *time.Time           `gorm:"column:paid_at"`
	Items             []PayoutScheduleItem `gorm:"foreignKey:PayoutScheduleID"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *PayoutSchedule) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}

// PayoutScheduleItem links one escrow entry to the payout that releases it.
type PayoutScheduleItem struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	PayoutScheduleID uuid.UUID       `gorm:"column:payout_schedule_id;type:uuid;not null;index"`
	EscrowEntryID    uuid.UUID       `gorm:"column:escrow_entry_id;type:uuid;not null;uniqueIndex"`
	SellerOrderID    uuid.UUID       `gorm:"column:seller_order_id;type:uuid;not null"`
	Amount           decimal.Decimal `gorm:"column:amount;type:numeric(14,6);not null"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (p *PayoutScheduleItem) BeforeCreate(*gorm.DB) error {
	ensureID(&p.ID)
	return nil
}
