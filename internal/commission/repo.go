package commission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/internal/repo"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
)

// Repository reads suborders and writes commission stamps and corrections.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) ListSellerOrders(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.SellerOrder, error) {
	var rows []models.SellerOrder
	err := r.Conn(ctx, tx).
		Preload("Items").
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) StampCommission(ctx context.Context, tx *gorm.DB, sellerOrderID uuid.UUID, rate, amount decimal.Decimal, at time.Time) error {
	return r.Conn(ctx, tx).
		Model(&models.SellerOrder{}).
		Where("id = ? AND commission_calculated_at IS NULL", sellerOrderID).
		Updates(map[string]any{
			"commission_rate":          rate,
			"commission_amount":        amount,
			"commission_calculated_at": at,
			"updated_at":               at,
		}).Error
}

func (r *Repository) UpdateAmount(ctx context.Context, tx *gorm.DB, sellerOrderID uuid.UUID, amount decimal.Decimal, at time.Time) error {
	return r.Conn(ctx, tx).
		Model(&models.SellerOrder{}).
		Where("id = ?", sellerOrderID).
		Updates(map[string]any{"commission_amount": amount, "updated_at": at}).Error
}

func (r *Repository) InsertCorrection(ctx context.Context, tx *gorm.DB, correction *models.CommissionCorrection) error {
	return r.Conn(ctx, tx).Create(correction).Error
}

// ListCorrections returns a seller's corrections created in [from, to).
func (r *Repository) ListCorrections(ctx context.Context, tx *gorm.DB, sellerID uuid.UUID, from, to time.Time) ([]models.CommissionCorrection, error) {
	var rows []models.CommissionCorrection
	err := r.Conn(ctx, tx).
		Where("seller_id = ? AND created_at >= ? AND created_at < ?", sellerID, from, to).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
