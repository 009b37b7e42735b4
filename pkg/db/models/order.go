package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	"github.com/angelmondragon/packfinderz-settlement/pkg/types"
)

// Order is the buyer-facing aggregate produced at checkout. Suborders, items
// and shipping selections reference it by id.
type Order struct {
	ID                 uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	BuyerID            uuid.UUID                `gorm:"column:buyer_id;type:uuid;not null;index"`
	PaymentMethod      enums.PaymentMethod      `gorm:"column:payment_method;not null"`
	PaymentReference   *string                  `gorm:"column:payment_reference;uniqueIndex"`
	Delivery           types.DeliverySnapshot   `gorm:"column:delivery;type:jsonb;serializer:json;not null"`
	Currency           string                   `gorm:"column:currency;not null"`
	ItemsSubtotal      decimal.Decimal          `gorm:"column:items_subtotal;type:numeric(12,2);not null"`
	ShippingTotal      decimal.Decimal          `gorm:"column:shipping_total;type:numeric(12,2);not null"`
	DiscountTotal      decimal.Decimal          `gorm:"column:discount_total;type:numeric(12,2);not null"`
	Total              decimal.Decimal          `gorm:"column:total;type:numeric(12,2);not null"`
	PromoCode          *string                  `gorm:"column:promo_code"`
	Status             enums.OrderStatus        `gorm:"column:status;not null"`
	SellerOrders       []SellerOrder            `gorm:"foreignKey:OrderID"`
	ShippingSelections []OrderShippingSelection `gorm:"foreignKey:OrderID"`
	CreatedAt          time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	ensureID(&o.ID)
	return nil
}

// SellerOrder is the per-seller slice of an order, tracked independently for
// fulfillment, commission and escrow.
type SellerOrder struct {
	ID                     uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID                uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	BuyerID                uuid.UUID         `gorm:"column:buyer_id;type:uuid;not null"`
	SellerID               uuid.UUID         `gorm:"column:seller_id;type:uuid;not null;index"`
	SellerName             string            `gorm:"column:seller_name;not null"`
	Subtotal               decimal.Decimal   `gorm:"column:subtotal;type:numeric(12,2);not null"`
	ShippingTotal          decimal.Decimal   `gorm:"column:shipping_total;type:numeric(12,2);not null"`
	DiscountTotal          decimal.Decimal   `gorm:"column:discount_total;type:numeric(12,2);not null"`
	Total                  decimal.Decimal   `gorm:"column:total;type:numeric(12,2);not null"`
	Status                 enums.OrderStatus `gorm:"column:status;not null"`
	TrackingNumber         *string           `gorm:"column:tracking_number;index"`
	Carrier                *string           `gorm:"column:carrier"`
	TrackingURL            *string           `gorm:"column:tracking_url"`
	ShippedAt              *time.Time        `gorm:"column:shipped_at"`
	DeliveredAt            *time.Time        `gorm:"column:delivered_at"`
	CommissionRate         decimal.Decimal   `gorm:"column:commission_rate;type:numeric(12,6);not null;default:0"`
	CommissionAmount       decimal.Decimal   `gorm:"column:commission_amount;type:numeric(14,6);not null;default:0"`
	CommissionCalculatedAt *time.Time        `gorm:"column:commission_calculated_at"`
	RefundedAmount         decimal.Decimal   `gorm:"column:refunded_amount;type:numeric(12,2);not null;default:0"`
	Items                  []OrderItem       `gorm:"foreignKey:SellerOrderID"`
	CreatedAt              time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (s *SellerOrder) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// NetAmount is the suborder total less refunds.
func (s SellerOrder) NetAmount() decimal.Decimal {
	net := s.Total.Sub(s.RefundedAmount)
	if net.IsNegative() {
		return decimal.Zero
	}
	return net
}

// OrderItem snapshots the product as it was bought. Its status moves
// independently so partial shipments and cancellations can be tracked.
type OrderItem struct {
	ID            uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       uuid.UUID         `gorm:"column:order_id;type:uuid;not null;index"`
	SellerOrderID uuid.UUID         `gorm:"column:seller_order_id;type:uuid;not null;index"`
	ProductID     uuid.UUID         `gorm:"column:product_id;type:uuid;not null"`
	SKU           string            `gorm:"column:sku;not null"`
	ProductName   string            `gorm:"column:product_name;not null"`
	Category      string            `gorm:"column:category;not null;default:''"`
	UnitPrice     decimal.Decimal   `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Quantity      int               `gorm:"column:quantity;not null"`
	LineTotal     decimal.Decimal   `gorm:"column:line_total;type:numeric(12,2);not null"`
	Status        enums.OrderStatus `gorm:"column:status;not null"`
	CreatedAt     time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

// OrderShippingSelection freezes the shipping method and cost per suborder.
type OrderShippingSelection struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	SellerOrderID uuid.UUID       `gorm:"column:seller_order_id;type:uuid;not null"`
	SellerID      uuid.UUID       `gorm:"column:seller_id;type:uuid;not null"`
	Method        string          `gorm:"column:method;not null"`
	Cost          decimal.Decimal `gorm:"column:cost;type:numeric(12,2);not null"`
	EstimatedDays string          `gorm:"column:estimated_days;not null;default:''"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (s *OrderShippingSelection) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}

// CommissionCorrection records a refund-driven change of a suborder's commission.
// Amount is the signed delta (negative when commission shrinks).
type CommissionCorrection struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID       uuid.UUID       `gorm:"column:order_id;type:uuid;not null"`
	SellerOrderID uuid.UUID       `gorm:"column:seller_order_id;type:uuid;not null;index"`
	SellerID      uuid.UUID       `gorm:"column:seller_id;type:uuid;not null;index"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(14,6);not null"`
	Reason        string          `gorm:"column:reason;not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;not null"`
}

func (c *CommissionCorrection) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}
