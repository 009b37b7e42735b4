package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// Repository defines persistence operations for orders, suborders and items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindOrderByPaymentReference(ctx context.Context, reference string) (*models.Order, error)
	FindSellerOrder(ctx context.Context, sellerOrderID uuid.UUID) (*models.SellerOrder, error)
	FindSellerOrderByTracking(ctx context.Context, trackingNumber string) (*models.SellerOrder, error)
	ListSellerOrders(ctx context.Context, orderID uuid.UUID) ([]models.SellerOrder, error)
	UpdateSellerOrder(ctx context.Context, sellerOrderID uuid.UUID, updates map[string]any) error
	UpdateItemStatuses(ctx context.Context, itemIDs []uuid.UUID, status enums.OrderStatus) error
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) error
}
