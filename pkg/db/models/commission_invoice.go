package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// CommissionInvoice bills one seller for a calendar month of commission. The
// numeric id feeds the human-readable number assigned after the first insert.
type CommissionInvoice struct {
	ID           int64                   `gorm:"column:id;primaryKey;autoIncrement"`
	SellerID     uuid.UUID               `gorm:"column:seller_id;type:uuid;not null;uniqueIndex:ux_commission_invoice_period"`
	PeriodStart  time.Time               `gorm:"column:period_start;not null;uniqueIndex:ux_commission_invoice_period"`
	PeriodEnd    time.Time               `gorm:"column:period_end;not null"`
	Number       *string                 `gorm:"column:number;uniqueIndex"`
	Currency     string                  `gorm:"column:currency;not null"`
	Subtotal     decimal.Decimal         `gorm:"column:subtotal;type:numeric(12,2);not null"`
	TaxRate      decimal.Decimal         `gorm:"column:tax_rate;type:numeric(6,4);not null"`
	TaxAmount    decimal.Decimal         `gorm:"column:tax_amount;type:numeric(12,2);not null"`
	Total        decimal.Decimal         `gorm:"column:total;type:numeric(12,2);not null"`
	IsCreditNote bool                    `gorm:"column:is_credit_note;not null"`
	IssuedAt     time.Time               `gorm:"column:issued_at;not null"`
	Lines        []CommissionInvoiceLine `gorm:"foreignKey:InvoiceID"`
	CreatedAt    time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

// CommissionInvoiceLine is one billed amount: positive commission or a negative
// refund correction.
type CommissionInvoiceLine struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	InvoiceID     int64           `gorm:"column:invoice_id;not null;index"`
	SellerOrderID uuid.UUID       `gorm:"column:seller_order_id;type:uuid;not null"`
	EscrowEntryID *uuid.UUID      `gorm:"column:escrow_entry_id;type:uuid"`
	CorrectionID  *uuid.UUID      `gorm:"column:correction_id;type:uuid"`
	Description   string          `gorm:"column:description;not null"`
	Amount        decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	IsCorrection  bool            `gorm:"column:is_correction;not null"`
}

func (l *CommissionInvoiceLine) BeforeCreate(*gorm.DB) error {
	ensureID(&l.ID)
	return nil
}
