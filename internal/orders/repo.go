package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

type repository struct {
	db *gorm.DB
}

// NewRepository returns a GORM-backed orders repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// CreateOrder inserts the order together with its suborders, items and
// shipping selections.
func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("SellerOrders", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC") }).
		Preload("SellerOrders.Items").
		Preload("ShippingSelections").
		First(&order, "id = ?", orderID).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderByPaymentReference(ctx context.Context, reference string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("payment_reference = ?", reference).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindSellerOrder(ctx context.Context, sellerOrderID uuid.UUID) (*models.SellerOrder, error) {
	var so models.SellerOrder
	err := r.db.WithContext(ctx).
		Preload("Items").
		First(&so, "id = ?", sellerOrderID).Error
	if err != nil {
		return nil, err
	}
	return &so, nil
}

func (r *repository) FindSellerOrderByTracking(ctx context.Context, trackingNumber string) (*models.SellerOrder, error) {
	var so models.SellerOrder
	err := r.db.WithContext(ctx).
		Where("tracking_number = ?", trackingNumber).
		First(&so).Error
	if err != nil {
		return nil, err
	}
	return &so, nil
}

func (r *repository) ListSellerOrders(ctx context.Context, orderID uuid.UUID) ([]models.SellerOrder, error) {
	var rows []models.SellerOrder
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) UpdateSellerOrder(ctx context.Context, sellerOrderID uuid.UUID, updates map[string]any) error {
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Model(&models.SellerOrder{}).
		Where("id = ?", sellerOrderID).
		Updates(updates).Error
}

func (r *repository) UpdateItemStatuses(ctx context.Context, itemIDs []uuid.UUID, status enums.OrderStatus) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id IN ?", itemIDs).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error
}

func (r *repository) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error
}
