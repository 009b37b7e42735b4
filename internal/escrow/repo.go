package escrow

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

// Repository persists escrow entries.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) ExistsForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error) {
	var count int64
	err := r.Conn(ctx, tx).
		Model(&models.EscrowEntry{}).
		Where("order_id = ?", orderID).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) InsertMany(ctx context.Context, tx *gorm.DB, entries []models.EscrowEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return r.Conn(ctx, tx).Create(&entries).Error
}

func (r *Repository) ListForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.EscrowEntry, error) {
	var rows []models.EscrowEntry
	err := r.Conn(ctx, tx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) ListByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]models.EscrowEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []models.EscrowEntry
	err := r.Conn(ctx, tx).Where("id IN ?", ids).Find(&rows).Error
	return rows, err
}

// FindBySellerOrder returns nil without error when no entry exists.
func (r *Repository) FindBySellerOrder(ctx context.Context, tx *gorm.DB, sellerOrderID uuid.UUID) (*models.EscrowEntry, error) {
	var rows []models.EscrowEntry
	if err := r.Conn(ctx, tx).Where("seller_order_id = ?", sellerOrderID).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ReleaseHeld moves held entries matching column = id to status. Entries
// already released are untouched.
func (r *Repository) ReleaseHeld(ctx context.Context, tx *gorm.DB, column string, ids []uuid.UUID, status enums.EscrowStatus, reason *string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	updates := map[string]any{
		"status":      status,
		"released_at": at,
		"updated_at":  at,
	}
	if reason != nil {
		updates["release_reason"] = *reason
	}
	res := r.Conn(ctx, tx).
		Model(&models.EscrowEntry{}).
		Where(column+" IN ? AND status = ?", ids, enums.EscrowStatusHeld).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *Repository) UpdateAmounts(ctx context.Context, tx *gorm.DB, id uuid.UUID, held, commission, payout decimal.Decimal, at time.Time) error {
	return r.Conn(ctx, tx).
		Model(&models.EscrowEntry{}).
		Where("id = ? AND status = ?", id, enums.EscrowStatusHeld).
		Updates(map[string]any{
			"held_amount":          held,
			"commission_amount":    commission,
			"seller_payout_amount": payout,
			"updated_at":           at,
		}).Error
}

// ListPayable returns held entries eligible at now that no payout schedule references yet.
func (r *Repository) ListPayable(ctx context.Context, tx *gorm.DB, now time.Time) ([]models.EscrowEntry, error) {
	var rows []models.EscrowEntry
	err := r.Conn(ctx, tx).
		Where("status = ? AND payout_eligible_at <= ?", enums.EscrowStatusHeld, now).
		Where("NOT EXISTS (SELECT 1 FROM payout_schedule_items psi WHERE psi.escrow_entry_id = escrow_entries.id)").
		Order("seller_id ASC").
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// ListCreatedBetween returns a seller's entries created in [from, to).
func (r *Repository) ListCreatedBetween(ctx context.Context, tx *gorm.DB, sellerID uuid.UUID, from, to time.Time) ([]models.EscrowEntry, error) {
	var rows []models.EscrowEntry
	err := r.Conn(ctx, tx).
		Where("seller_id = ? AND created_at >= ? AND created_at < ?", sellerID, from, to).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
