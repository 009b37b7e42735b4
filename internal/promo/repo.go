package promo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/packfinderz-settlement/internal/repo"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
)

// Repository persists promo codes and per-buyer selections.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{Base: repo.NewBase(tx)}
}

func (r *Repository) Create(ctx context.Context, promo *models.PromoCode) error {
	promo.Code = NormalizeCode(promo.Code)
	return r.DB(ctx).Create(promo).Error
}

// FindByCode returns nil without error when the code does not exist.
func (r *Repository) FindByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var rows []models.PromoCode
	if err := r.DB(ctx).Where("code = ?", NormalizeCode(code)).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// FindSelection returns nil without error when the buyer has no code applied.
func (r *Repository) FindSelection(ctx context.Context, buyerID uuid.UUID) (*models.PromoSelection, error) {
	var rows []models.PromoSelection
	if err := r.DB(ctx).Where("buyer_id = ?", buyerID).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *Repository) SaveSelection(ctx context.Context, buyerID uuid.UUID, code string, at time.Time) error {
	selection := &models.PromoSelection{BuyerID: buyerID, Code: NormalizeCode(code), AppliedAt: at}
	return r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "buyer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"code", "applied_at"}),
		}).
		Create(selection).Error
}

func (r *Repository) DeleteSelection(ctx context.Context, buyerID uuid.UUID) error {
	return r.DB(ctx).Where("buyer_id = ?", buyerID).Delete(&models.PromoSelection{}).Error
}

// NormalizeCode upper-cases and trims a user-entered code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
