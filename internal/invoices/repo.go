package invoices

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/internal/repo"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
)

// Repository persists commission invoices.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// FindByPeriod returns nil without error when the seller has no invoice for
// the period.
func (r *Repository) FindByPeriod(ctx context.Context, tx *gorm.DB, sellerID uuid.UUID, periodStart time.Time) (*models.CommissionInvoice, error) {
	var rows []models.CommissionInvoice
	err := r.Conn(ctx, tx).
		Preload("Lines").
		Where("seller_id = ? AND period_start = ?", sellerID, periodStart).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *Repository) Find(ctx context.Context, tx *gorm.DB, id int64) (*models.CommissionInvoice, error) {
	var invoice models.CommissionInvoice
	if err := r.Conn(ctx, tx).Preload("Lines").First(&invoice, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &invoice, nil
}

// Create inserts the invoice and its lines; the generated id is set on invoice.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, invoice *models.CommissionInvoice) error {
	return r.Conn(ctx, tx).Create(invoice).Error
}

func (r *Repository) SetNumber(ctx context.Context, tx *gorm.DB, id int64, number string) error {
	return r.Conn(ctx, tx).
		Model(&models.CommissionInvoice{}).
		Where("id = ?", id).
		Update("number", number).Error
}

// ActiveSellers returns sellers with escrow entries or commission corrections
// created in [from, to).
func (r *Repository) ActiveSellers(ctx context.Context, tx *gorm.DB, from, to time.Time) ([]uuid.UUID, error) {
	var escrowSellers []uuid.UUID
	if err := r.Conn(ctx, tx).
		Model(&models.EscrowEntry{}).
		Where("created_at >= ? AND created_at < ?", from, to).
		Distinct().
		Pluck("seller_id", &escrowSellers).Error; err != nil {
		return nil, err
	}
	var correctionSellers []uuid.UUID
	if err := r.Conn(ctx, tx).
		Model(&models.CommissionCorrection{}).
		Where("created_at >= ? AND created_at < ?", from, to).
		Distinct().
		Pluck("seller_id", &correctionSellers).Error; err != nil {
		return nil, err
	}
	seen := make(map[uuid.UUID]struct{}, len(escrowSellers)+len(correctionSellers))
	sellers := make([]uuid.UUID, 0, len(escrowSellers)+len(correctionSellers))
	for _, id := range append(escrowSellers, correctionSellers...) {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		sellers = append(sellers, id)
	}
	return sellers, nil
}
