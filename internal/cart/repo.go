package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// Repository exposes persistence operations for cart staging data.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// ListItems returns the buyer's cart lines in insertion order.
func (r *Repository) ListItems(ctx context.Context, buyerID uuid.UUID) ([]models.CartItem, error) {
	var rows []models.CartItem
	err := r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) FindItemByProduct(ctx context.Context, buyerID, productID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND product_id = ?", buyerID, productID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) GetItem(ctx context.Context, buyerID, itemID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		Where("id = ? AND buyer_id = ?", itemID, buyerID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) CreateItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *Repository) UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	return r.db.WithContext(ctx).
		Model(&models.CartItem{}).
		Where("id = ?", itemID).
		Updates(map[string]any{"quantity": quantity, "updated_at": time.Now().UTC()}).Error
}

func (r *Repository) DeleteItem(ctx context.Context, buyerID, itemID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("id = ? AND buyer_id = ?", itemID, buyerID).
		Delete(&models.CartItem{})
	return res.RowsAffected, res.Error
}

func (r *Repository) DeleteItems(ctx context.Context, buyerID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Delete(&models.CartItem{}).Error
}

// ListRulesForSellers returns every rule of the sellers, active or not, in
// display order.
func (r *Repository) ListRulesForSellers(ctx context.Context, sellerIDs []uuid.UUID) ([]models.ShippingRule, error) {
	if len(sellerIDs) == 0 {
		return nil, nil
	}
	var rows []models.ShippingRule
	err := r.db.WithContext(ctx).
		Where("seller_id IN ?", sellerIDs).
		Order("position ASC").
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) ListShippingSelections(ctx context.Context, buyerID uuid.UUID) ([]models.ShippingSelection, error) {
	var rows []models.ShippingSelection
	err := r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Find(&rows).Error
	return rows, err
}

// UpsertShippingSelection keeps one selection per buyer and seller.
func (r *Repository) UpsertShippingSelection(ctx context.Context, selection *models.ShippingSelection) error {
	selection.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "buyer_id"}, {Name: "seller_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"rule_id", "method", "cost", "estimated_days", "updated_at"}),
		}).
		Create(selection).Error
}

func (r *Repository) DeleteShippingSelections(ctx context.Context, buyerID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Delete(&models.ShippingSelection{}).Error
}

func (r *Repository) GetPaymentSelection(ctx context.Context, buyerID uuid.UUID) (*models.PaymentSelection, error) {
	var selection models.PaymentSelection
	err := r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		First(&selection).Error
	if err != nil {
		return nil, err
	}
	return &selection, nil
}

func (r *Repository) FindPaymentSelectionByReference(ctx context.Context, reference string) (*models.PaymentSelection, error) {
	var selection models.PaymentSelection
	err := r.db.WithContext(ctx).
		Where("provider_reference = ?", reference).
		First(&selection).Error
	if err != nil {
		return nil, err
	}
	return &selection, nil
}

// UpsertPaymentSelection keeps one selection per buyer.
func (r *Repository) UpsertPaymentSelection(ctx context.Context, selection *models.PaymentSelection) error {
	selection.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "buyer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"method", "status", "provider_reference", "updated_at"}),
		}).
		Create(selection).Error
}

func (r *Repository) UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status enums.PaymentStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentSelection{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error
}

func (r *Repository) DeletePaymentSelection(ctx context.Context, buyerID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("buyer_id = ?", buyerID).
		Delete(&models.PaymentSelection{}).Error
}

func (r *Repository) CreateAddress(ctx context.Context, address *models.DeliveryAddress) error {
	return r.db.WithContext(ctx).Create(address).Error
}

func (r *Repository) GetAddress(ctx context.Context, buyerID, addressID uuid.UUID) (*models.DeliveryAddress, error) {
	var address models.DeliveryAddress
	err := r.db.WithContext(ctx).
		Where("id = ? AND buyer_id = ?", addressID, buyerID).
		First(&address).Error
	if err != nil {
		return nil, err
	}
	return &address, nil
}

func (r *Repository) SelectedAddress(ctx context.Context, buyerID uuid.UUID) (*models.DeliveryAddress, error) {
	var address models.DeliveryAddress
	err := r.db.WithContext(ctx).
		Where("buyer_id = ? AND selected = ?", buyerID, true).
		First(&address).Error
	if err != nil {
		return nil, err
	}
	return &address, nil
}

// SelectAddress unmarks every other address of the buyer before marking addressID.
func (r *Repository) SelectAddress(ctx context.Context, buyerID, addressID uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Model(&models.DeliveryAddress{}).
		Where("buyer_id = ? AND selected = ?", buyerID, true).
		Update("selected", false).Error; err != nil {
		return err
	}
	return db.Model(&models.DeliveryAddress{}).
		Where("id = ? AND buyer_id = ?", addressID, buyerID).
		Update("selected", true).Error
}
