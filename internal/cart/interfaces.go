package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
)

// CartRepository defines the persistence surface for carts and checkout
// selections.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository

	ListItems(ctx context.Context, buyerID uuid.UUID) ([]models.CartItem, error)
	FindItemByProduct(ctx context.Context, buyerID, productID uuid.UUID) (*models.CartItem, error)
	GetItem(ctx context.Context, buyerID, itemID uuid.UUID) (*models.CartItem, error)
	CreateItem(ctx context.Context, item *models.CartItem) error
	UpdateItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error
	DeleteItem(ctx context.Context, buyerID, itemID uuid.UUID) (int64, error)
	DeleteItems(ctx context.Context, buyerID uuid.UUID) error

	ListRulesForSellers(ctx context.Context, sellerIDs []uuid.UUID) ([]models.ShippingRule, error)

	ListShippingSelections(ctx context.Context, buyerID uuid.UUID) ([]models.ShippingSelection, error)
	UpsertShippingSelection(ctx context.Context, selection *models.ShippingSelection) error
	DeleteShippingSelections(ctx context.Context, buyerID uuid.UUID) error

	GetPaymentSelection(ctx context.Context, buyerID uuid.UUID) (*models.PaymentSelection, error)
	FindPaymentSelectionByReference(ctx context.Context, reference string) (*models.PaymentSelection, error)
	UpsertPaymentSelection(ctx context.Context, selection *models.PaymentSelection) error
	UpdatePaymentStatus(ctx context.Context, id uuid.UUID, status enums.PaymentStatus) error
	DeletePaymentSelection(ctx context.Context, buyerID uuid.UUID) error

	CreateAddress(ctx context.Context, address *models.DeliveryAddress) error
	GetAddress(ctx context.Context, buyerID, addressID uuid.UUID) (*models.DeliveryAddress, error)
	SelectedAddress(ctx context.Context, buyerID uuid.UUID) (*models.DeliveryAddress, error)
	SelectAddress(ctx context.Context, buyerID, addressID uuid.UUID) error
}
