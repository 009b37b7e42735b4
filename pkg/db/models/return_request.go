package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// ReturnRequest is a buyer's return or complaint on a delivered suborder.
type ReturnRequest struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OrderID        uuid.UUID              `gorm:"column:order_id;type:uuid;not null"`
	SellerOrderID  uuid.UUID              `gorm:"column:seller_order_id;type:uuid;not null;index"`
	BuyerID        uuid.UUID              `gorm:"column:buyer_id;type:uuid;not null;index"`
	SellerID       uuid.UUID              `gorm:"column:seller_id;type:uuid;not null;index"`
	Type           enums.ReturnType       `gorm:"column:type;not null"`
	Status         enums.ReturnStatus     `gorm:"column:status;not null"`
	Reason         string                 `gorm:"column:reason;not null"`
	Description    string                 `gorm:"column:description;not null"`
	SellerNote     *string                `gorm:"column:seller_note"`
	Resolution     *string                `gorm:"column:resolution"`
	ProposedRefund *decimal.Decimal       `gorm:"column:proposed_refund;type:numeric(12,2)"`
	RefundAmount   *decimal.Decimal       `gorm:"column:refund_amount;type:numeric(12,2)"`
	BuyerUnread    int                    `gorm:"column:buyer_unread;not null;default:0"`
	SellerUnread   int                    `gorm:"column:seller_unread;not null;default:0"`
	ResolvedAt     *time.Time             `gorm:"column:resolved_at"`
	Items          []ReturnRequestItem    `gorm:"foreignKey:ReturnRequestID"`
	Messages       []ReturnRequestMessage `gorm:"foreignKey:ReturnRequestID"`
	CreatedAt      time.Time              `gorm:"column:created_at;not null"`
	UpdatedAt      time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *ReturnRequest) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// ReturnRequestItem marks an order item as contested by a case.
type ReturnRequestItem struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ReturnRequestID uuid.UUID `gorm:"column:return_request_id;type:uuid;not null;index"`
	OrderItemID     uuid.UUID `gorm:"column:order_item_id;type:uuid;not null;index"`
}

func (r *ReturnRequestItem) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}

// ReturnRequestMessage is one entry of the buyer/seller thread on a case.
type ReturnRequestMessage struct {
	ID              uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	ReturnRequestID uuid.UUID           `gorm:"column:return_request_id;type:uuid;not null;index"`
	Author          enums.MessageAuthor `gorm:"column:author;not null"`
	AuthorID        uuid.UUID           `gorm:"column:author_id;type:uuid;not null"`
	Body            string              `gorm:"column:body;not null"`
	CreatedAt       time.Time           `gorm:"column:created_at;not null"`
}

func (m *ReturnRequestMessage) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	return nil
}
