package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/internal/repo"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// Repository persists payout schedules and their items.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Create inserts the schedule together with its items.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, schedule *models.PayoutSchedule) error {
	return r.Conn(ctx, tx).Create(schedule).Error
}

func (r *Repository) Find(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.PayoutSchedule, error) {
	var schedule models.PayoutSchedule
	err := r.Conn(ctx, tx).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&schedule, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &schedule, nil
}

// Transition applies updates only while the schedule is still in from and
// reports whether a row changed.
func (r *Repository) Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, from enums.PayoutStatus, updates map[string]any) (bool, error) {
	res := r.Conn(ctx, tx).
		Model(&models.PayoutSchedule{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return res.RowsAffected > 0, res.Error
}

// SetTotal stores a recomputed total on the schedule.
func (r *Repository) SetTotal(ctx context.Context, tx *gorm.DB, id uuid.UUID, total decimal.Decimal) error {
	return r.Conn(ctx, tx).
		Model(&models.PayoutSchedule{}).
		Where("id = ?", id).
		Update("total_amount", total).Error
}

func (r *Repository) SetItemAmount(ctx context.Context, tx *gorm.DB, itemID uuid.UUID, amount decimal.Decimal) error {
	return r.Conn(ctx, tx).
		Model(&models.PayoutScheduleItem{}).
		Where("id = ?", itemID).
		Update("amount", amount).Error
}

// DeleteItems unlinks items so their escrow entries can be scheduled again.
func (r *Repository) DeleteItems(ctx context.Context, tx *gorm.DB, itemIDs []uuid.UUID) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return r.Conn(ctx, tx).
		Where("id IN ?", itemIDs).
		Delete(&models.PayoutScheduleItem{}).Error
}

// ListDue returns scheduled payouts whose scheduled-for is before cutoff.
func (r *Repository) ListDue(ctx context.Context, tx *gorm.DB, cutoff time.Time) ([]models.PayoutSchedule, error) {
	var rows []models.PayoutSchedule
	err := r.Conn(ctx, tx).
		Where("status = ? AND scheduled_for < ?", enums.PayoutStatusScheduled, cutoff).
		Order("scheduled_for ASC").
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) ListBySeller(ctx context.Context, tx *gorm.DB, sellerID uuid.UUID) ([]models.PayoutSchedule, error) {
	var rows []models.PayoutSchedule
	err := r.Conn(ctx, tx).
		Preload("Items").
		Where("seller_id = ?", sellerID).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}
