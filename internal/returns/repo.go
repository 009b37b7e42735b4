package returns

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/internal/repo"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// Repository persists return/complaint cases, their items and messages.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

func (r *Repository) Create(ctx context.Context, tx *gorm.DB, request *models.ReturnRequest) error {
	return r.Conn(ctx, tx).Create(request).Error
}

func (r *Repository) Find(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.ReturnRequest, error) {
	var request models.ReturnRequest
	err := r.Conn(ctx, tx).
		Preload("Items").
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		First(&request, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// FindForSeller only matches cases owned by sellerID.
func (r *Repository) FindForSeller(ctx context.Context, tx *gorm.DB, id, sellerID uuid.UUID) (*models.ReturnRequest, error) {
	var request models.ReturnRequest
	err := r.Conn(ctx, tx).
		Preload("Items").
		First(&request, "id = ? AND seller_id = ?", id, sellerID).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// FindForBuyer only matches cases opened by buyerID.
func (r *Repository) FindForBuyer(ctx context.Context, tx *gorm.DB, id, buyerID uuid.UUID) (*models.ReturnRequest, error) {
	var request models.ReturnRequest
	err := r.Conn(ctx, tx).
		Preload("Items").
		First(&request, "id = ? AND buyer_id = ?", id, buyerID).Error
	if err != nil {
		return nil, err
	}
	return &request, nil
}

// OpenItemIDs returns the order items of a suborder referenced by open cases.
func (r *Repository) OpenItemIDs(ctx context.Context, tx *gorm.DB, sellerOrderID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.Conn(ctx, tx).
		Model(&models.ReturnRequestItem{}).
		Joins("JOIN return_requests rr ON rr.id = return_request_items.return_request_id").
		Where("rr.seller_order_id = ? AND rr.status IN ?", sellerOrderID, enums.OpenReturnStatuses).
		Pluck("return_request_items.order_item_id", &ids).Error
	return ids, err
}

func (r *Repository) Update(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	return r.Conn(ctx, tx).
		Model(&models.ReturnRequest{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *Repository) InsertMessage(ctx context.Context, tx *gorm.DB, message *models.ReturnRequestMessage) error {
	return r.Conn(ctx, tx).Create(message).Error
}

func (r *Repository) ListForSellerOrder(ctx context.Context, tx *gorm.DB, sellerOrderID uuid.UUID) ([]models.ReturnRequest, error) {
	var rows []models.ReturnRequest
	err := r.Conn(ctx, tx).
		Preload("Items").
		Where("seller_order_id = ?", sellerOrderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}
