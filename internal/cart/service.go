package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/validation"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// promoReapplier re-checks the buyer's selected promo code against freshly
// priced totals and returns the totals with the discount applied (or cleared).
type promoReapplier interface {
	Reapply(ctx context.Context, tx *gorm.DB, buyerID uuid.UUID, totals Totals) (Totals, error)
}

// Service exposes cart mutation and pricing.
type Service interface {
	AddItem(ctx context.Context, buyerID uuid.UUID, input AddItemInput) (*models.CartItem, error)
	UpdateQuantity(ctx context.Context, buyerID, itemID uuid.UUID, quantity int) (*models.CartItem, error)
	RemoveItem(ctx context.Context, buyerID, itemID uuid.UUID) error
	ListItems(ctx context.Context, buyerID uuid.UUID) ([]models.CartItem, error)
	AddAddress(ctx context.Context, buyerID uuid.UUID, input AddressInput) (*models.DeliveryAddress, error)
	SelectAddress(ctx context.Context, buyerID, addressID uuid.UUID) error
	SelectShipping(ctx context.Context, buyerID, sellerID uuid.UUID, method string) (*models.ShippingSelection, error)
	SelectPayment(ctx context.Context, buyerID uuid.UUID, input SelectPaymentInput) (*models.PaymentSelection, error)
	Totals(ctx context.Context, buyerID uuid.UUID) (Totals, error)
}

// Options carries the marketplace delivery restrictions.
type Options struct {
	AllowedCountries []string
	AllowedRegions   []string
}

type service struct {
	repo    CartRepository
	tx      txRunner
	builder *TotalsBuilder
	promos  promoReapplier
	opts    Options
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo CartRepository, tx txRunner, builder *TotalsBuilder, promos promoReapplier, opts Options) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if builder == nil {
		return nil, fmt.Errorf("totals builder required")
	}
	if promos == nil {
		return nil, fmt.Errorf("promo reapplier required")
	}
	return &service{repo: repo, tx: tx, builder: builder, promos: promos, opts: opts}, nil
}

// AddItemInput describes a product line as offered by a seller.
type AddItemInput struct {
	ProductID   uuid.UUID       `json:"product_id" validate:"required"`
	SKU         string          `json:"sku" validate:"required"`
	ProductName string          `json:"product_name" validate:"required"`
	Category    string          `json:"category"`
	SellerID    uuid.UUID       `json:"seller_id" validate:"required"`
	SellerName  string          `json:"seller_name" validate:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Quantity    int             `json:"quantity" validate:"gt=0"`
	WeightKg    decimal.Decimal `json:"weight_kg" validate:"gte=0"`
}

// AddressInput is a new delivery address.
type AddressInput struct {
	FullName   string  `json:"full_name" validate:"required"`
	Line1      string  `json:"line1" validate:"required"`
	Line2      *string `json:"line2"`
	City       string  `json:"city" validate:"required"`
	PostalCode string  `json:"postal_code" validate:"required"`
	Region     string  `json:"region"`
	Country    string  `json:"country" validate:"required,len=2"`
	Phone      *string `json:"phone"`
}

// SelectPaymentInput chooses the payment method for the next order.
type SelectPaymentInput struct {
	Method            enums.PaymentMethod `json:"method" validate:"required"`
	ProviderReference *string             `json:"provider_reference"`
}

// AddItem merges quantity into an existing line for the same product.
func (s *service) AddItem(ctx context.Context, buyerID uuid.UUID, input AddItemInput) (*models.CartItem, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	if err := validation.Struct(input); err != nil {
		return nil, err
	}

	var result *models.CartItem
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.FindItemByProduct(ctx, buyerID, input.ProductID)
		switch {
		case err == nil:
			quantity := existing.Quantity + input.Quantity
			if err := repo.UpdateItemQuantity(ctx, existing.ID, quantity); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
			}
			existing.Quantity = quantity
			result = existing
			return nil
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load cart item")
		}

		item := &models.CartItem{
			BuyerID:     buyerID,
			ProductID:   input.ProductID,
			SKU:         strings.TrimSpace(input.SKU),
			ProductName: strings.TrimSpace(input.ProductName),
			Category:    strings.TrimSpace(input.Category),
			SellerID:    input.SellerID,
			SellerName:  strings.TrimSpace(input.SellerName),
			UnitPrice:   input.UnitPrice,
			Quantity:    input.Quantity,
			WeightKg:    input.WeightKg,
		}
		if err := repo.CreateItem(ctx, item); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create cart item")
		}
		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) UpdateQuantity(ctx context.Context, buyerID, itemID uuid.UUID, quantity int) (*models.CartItem, error) {
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
			WithDetails(map[string]any{"quantity": quantity})
	}
	item, err := s.repo.GetItem(ctx, buyerID, itemID)
	if err != nil {
		return nil, lookupError(err, "cart item")
	}
	if err := s.repo.UpdateItemQuantity(ctx, item.ID, quantity); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update cart item")
	}
	item.Quantity = quantity
	return item, nil
}

func (s *service) RemoveItem(ctx context.Context, buyerID, itemID uuid.UUID) error {
	rows, err := s.repo.DeleteItem(ctx, buyerID, itemID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete cart item")
	}
	if rows == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
	}
	return nil
}

func (s *service) ListItems(ctx context.Context, buyerID uuid.UUID) ([]models.CartItem, error) {
	items, err := s.repo.ListItems(ctx, buyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list cart items")
	}
	return items, nil
}

func (s *service) AddAddress(ctx context.Context, buyerID uuid.UUID, input AddressInput) (*models.DeliveryAddress, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	address := &models.DeliveryAddress{
		BuyerID:    buyerID,
		FullName:   strings.TrimSpace(input.FullName),
		Line1:      strings.TrimSpace(input.Line1),
		Line2:      input.Line2,
		City:       strings.TrimSpace(input.City),
		PostalCode: strings.TrimSpace(input.PostalCode),
		Region:     strings.TrimSpace(input.Region),
		Country:    strings.ToUpper(strings.TrimSpace(input.Country)),
		Phone:      input.Phone,
	}
	if err := s.repo.CreateAddress(ctx, address); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create address")
	}
	return address, nil
}

// SelectAddress keeps at most one selected address per buyer.
func (s *service) SelectAddress(ctx context.Context, buyerID, addressID uuid.UUID) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		address, err := repo.GetAddress(ctx, buyerID, addressID)
		if err != nil {
			return lookupError(err, "address")
		}
		if !DeliverySupported(address.Country, address.Region, s.opts) {
			return pkgerrors.New(pkgerrors.CodeValidation, "delivery address not supported").
				WithDetails(map[string]any{"country": address.Country, "region": address.Region})
		}
		if err := repo.SelectAddress(ctx, buyerID, addressID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "select address")
		}
		return nil
	})
}

// SelectShipping records the buyer's shipping method for one seller in the cart.
func (s *service) SelectShipping(ctx context.Context, buyerID, sellerID uuid.UUID, method string) (*models.ShippingSelection, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping method is required")
	}

	var selection *models.ShippingSelection
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		totals, err := s.builder.Build(ctx, tx, buyerID)
		if err != nil {
			return err
		}
		seller := totals.Seller(sellerID)
		if seller == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "seller has no items in cart")
		}
		rules, err := s.repo.WithTx(tx).ListRulesForSellers(ctx, []uuid.UUID{sellerID})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shipping rules")
		}
		var rule *models.ShippingRule
		for i := range rules {
			if rules[i].Active && rules[i].Method == method {
				rule = &rules[i]
				break
			}
		}
		if rule == nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "shipping method not offered by seller").
				WithDetails(map[string]any{"seller_id": sellerID.String(), "method": method})
		}
		ruleID := rule.ID
		selection = &models.ShippingSelection{
			BuyerID:       buyerID,
			SellerID:      sellerID,
			RuleID:        &ruleID,
			Method:        rule.Method,
			Cost:          ShippingCost(rule, seller.Subtotal, seller.WeightKg),
			EstimatedDays: EstimatedDays(*rule),
		}
		if err := s.repo.WithTx(tx).UpsertShippingSelection(ctx, selection); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save shipping selection")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return selection, nil
}

func (s *service) SelectPayment(ctx context.Context, buyerID uuid.UUID, input SelectPaymentInput) (*models.PaymentSelection, error) {
	if buyerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer id is required")
	}
	if err := validation.Struct(input); err != nil {
		return nil, err
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method").
			WithDetails(map[string]any{"method": input.Method})
	}
	selection := &models.PaymentSelection{
		BuyerID:           buyerID,
		Method:            input.Method,
		Status:            enums.PaymentStatusPending,
		ProviderReference: input.ProviderReference,
	}
	if err := s.repo.UpsertPaymentSelection(ctx, selection); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save payment selection")
	}
	return selection, nil
}

// Totals prices the cart and re-checks the selected promo code on every call.
func (s *service) Totals(ctx context.Context, buyerID uuid.UUID) (Totals, error) {
	var totals Totals
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		base, err := s.builder.Build(ctx, tx, buyerID)
		if err != nil {
			return err
		}
		totals, err = s.promos.Reapply(ctx, tx, buyerID, base)
		return err
	})
	if err != nil {
		return Totals{}, err
	}
	return totals, nil
}

// DeliverySupported checks country and region against the marketplace allow-lists.
// An empty list allows everything.
func DeliverySupported(country, region string, opts Options) bool {
	return listAllows(opts.AllowedCountries, country) && listAllows(opts.AllowedRegions, region)
}

// EstimatedDays renders the rule's delivery estimate, e.g. "2-4".
func EstimatedDays(rule models.ShippingRule) string {
	if rule.EstimatedDaysMin == 0 && rule.EstimatedDaysMax == 0 {
		return ""
	}
	if rule.EstimatedDaysMax <= rule.EstimatedDaysMin {
		return fmt.Sprintf("%d", rule.EstimatedDaysMin)
	}
	return fmt.Sprintf("%d-%d", rule.EstimatedDaysMin, rule.EstimatedDaysMax)
}

func listAllows(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	value = strings.TrimSpace(value)
	for _, candidate := range list {
		if strings.EqualFold(strings.TrimSpace(candidate), value) {
			return true
		}
	}
	return false
}

func lookupError(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, what+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+what)
}
