package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/internal/cart"
	"github.com/angelmondragon/packfinderz-settlement/internal/checkout/helpers"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/money"
)

// Issue codes reported by Validate.
const (
	IssueCartEmpty           = "cart-empty"
	IssuePaymentRequired     = "payment-required"
	IssueAddressRequired     = "address-required"
	IssueAddressNotSupported = "address-not-supported"
	IssueShippingUnavailable = "shipping-unavailable"
	IssueShippingRequired    = "shipping-required"
	IssueOutOfStock          = "out-of-stock"
	IssueInsufficientStock   = "insufficient-stock"
	IssuePriceChanged        = "price-changed"
)

// InventorySnapshot is the live stock and price of one product.
type InventorySnapshot struct {
	ProductID uuid.UUID
	Stock     int
	Price     decimal.Decimal
}

// InventoryLookup reads live inventory. A nil snapshot with a nil error means
// the product is unknown to the catalog.
type InventoryLookup interface {
	Snapshot(ctx context.Context, productID uuid.UUID) (*InventorySnapshot, error)
}

// Issue is one violated checkout rule.
type Issue struct {
	Code           string           `json:"code"`
	SellerID       *uuid.UUID       `json:"seller_id,omitempty"`
	ProductID      *uuid.UUID       `json:"product_id,omitempty"`
	Message        string           `json:"message"`
	CurrentPrice   *decimal.Decimal `json:"current_price,omitempty"`
	AvailableStock *int             `json:"available_stock,omitempty"`
}

// ValidationResult is valid iff Issues is empty.
type ValidationResult struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// ValidateOptions tunes the payment check.
type ValidateOptions struct {
	RequirePaymentAuthorization bool
}

// Validator cross-checks a cart against inventory, delivery and selections.
type Validator struct {
	repo      cart.CartRepository
	inventory InventoryLookup
	opts      cart.Options
}

func NewValidator(repo cart.CartRepository, inventory InventoryLookup, opts cart.Options) (*Validator, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if inventory == nil {
		return nil, fmt.Errorf("inventory lookup required")
	}
	return &Validator{repo: repo, inventory: inventory, opts: opts}, nil
}

// Validate collects every issue instead of stopping at the first one, except
// for an empty cart. Stored shipping selections are re-priced in place.
func (v *Validator) Validate(ctx context.Context, tx *gorm.DB, buyerID uuid.UUID, opts ValidateOptions) (ValidationResult, error) {
	repo := v.repo.WithTx(tx)
	items, err := repo.ListItems(ctx, buyerID)
	if err != nil {
		return ValidationResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list cart items")
	}
	if len(items) == 0 {
		return result([]Issue{{Code: IssueCartEmpty, Message: "cart is empty"}}), nil
	}

	var issues []Issue

	payment, err := repo.GetPaymentSelection(ctx, buyerID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return ValidationResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment selection")
	}
	switch {
	case payment == nil:
		issues = append(issues, Issue{Code: IssuePaymentRequired, Message: "select a payment method"})
	case opts.RequirePaymentAuthorization && !payment.Status.IsSecured():
		issues = append(issues, Issue{Code: IssuePaymentRequired, Message: "payment is not authorized"})
	}

	address, err := repo.SelectedAddress(ctx, buyerID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return ValidationResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load delivery address")
	}
	switch {
	case address == nil:
		issues = append(issues, Issue{Code: IssueAddressRequired, Message: "select a delivery address"})
	case !cart.DeliverySupported(address.Country, address.Region, v.opts):
		issues = append(issues, Issue{Code: IssueAddressNotSupported, Message: "delivery is not available for the selected address"})
	}

	shippingIssues, err := v.normalizeShipping(ctx, repo, buyerID, items, address)
	if err != nil {
		return ValidationResult{}, err
	}
	issues = append(issues, shippingIssues...)

	for _, item := range items {
		itemIssues, err := v.checkItem(ctx, item)
		if err != nil {
			return ValidationResult{}, err
		}
		issues = append(issues, itemIssues...)
	}
	return result(issues), nil
}

func (v *Validator) normalizeShipping(ctx context.Context, repo cart.CartRepository, buyerID uuid.UUID, items []models.CartItem, address *models.DeliveryAddress) ([]Issue, error) {
	sellerIDs := helpers.SellerIDs(items)
	rules, err := repo.ListRulesForSellers(ctx, sellerIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shipping rules")
	}
	stored, err := repo.ListShippingSelections(ctx, buyerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shipping selections")
	}
	rulesBySeller := helpers.GroupRulesBySeller(rules)
	selections := helpers.GroupSelectionsBySeller(stored)

	subtotals := map[uuid.UUID]decimal.Decimal{}
	weights := map[uuid.UUID]decimal.Decimal{}
	for _, item := range items {
		subtotals[item.SellerID] = subtotals[item.SellerID].Add(item.LineTotal())
		weights[item.SellerID] = weights[item.SellerID].Add(item.LineWeight())
	}

	var issues []Issue
	missing := 0
	for _, sellerID := range sellerIDs {
		available := helpers.AvailableRules(rulesBySeller[sellerID], weights[sellerID], address)
		if len(available) == 0 {
			issues = append(issues, Issue{Code: IssueShippingUnavailable, SellerID: &sellerID, Message: "seller cannot ship this order to the selected address"})
			missing++
			continue
		}
		selection, ok := selections[sellerID]
		if !ok {
			issues = append(issues, Issue{Code: IssueShippingRequired, SellerID: &sellerID, Message: "select a shipping method"})
			missing++
			continue
		}
		rule := helpers.MatchSelection(available, selection)
		if rule == nil {
			issues = append(issues, Issue{Code: IssueShippingRequired, SellerID: &sellerID, Message: "selected shipping method is no longer available"})
			missing++
			continue
		}

		ruleID := rule.ID
		cost := cart.ShippingCost(rule, money.Round2(subtotals[sellerID]), weights[sellerID])
		days := cart.EstimatedDays(*rule)
		if selection.RuleID != nil && *selection.RuleID == ruleID && selection.Method == rule.Method && selection.Cost.Equal(cost) && selection.EstimatedDays == days {
			continue
		}
		normalized := &models.ShippingSelection{
			BuyerID:       buyerID,
			SellerID:      sellerID,
			RuleID:        &ruleID,
			Method:        rule.Method,
			Cost:          cost,
			EstimatedDays: days,
		}
		if err := repo.UpsertShippingSelection(ctx, normalized); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update shipping selection")
		}
	}
	if missing > 0 {
		issues = append(issues, Issue{
			Code:    IssueShippingRequired,
			Message: fmt.Sprintf("%d of %d sellers have no usable shipping selection", missing, len(sellerIDs)),
		})
	}
	return issues, nil
}

func (v *Validator) checkItem(ctx context.Context, item models.CartItem) ([]Issue, error) {
	productID := item.ProductID
	sellerID := item.SellerID
	snapshot, err := v.inventory.Snapshot(ctx, productID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory snapshot").
			WithDetails(map[string]any{"product_id": productID.String()})
	}
	if snapshot == nil || snapshot.Stock <= 0 {
		stock := 0
		return []Issue{{
			Code:           IssueOutOfStock,
			SellerID:       &sellerID,
			ProductID:      &productID,
			Message:        fmt.Sprintf("%s is out of stock", item.ProductName),
			AvailableStock: &stock,
		}}, nil
	}

	var issues []Issue
	if snapshot.Stock < item.Quantity {
		stock := snapshot.Stock
		issues = append(issues, Issue{
			Code:           IssueInsufficientStock,
			SellerID:       &sellerID,
			ProductID:      &productID,
			Message:        fmt.Sprintf("only %d of %s available", stock, item.ProductName),
			AvailableStock: &stock,
		})
	}
	if !snapshot.Price.Equal(item.UnitPrice) {
		price := snapshot.Price
		issues = append(issues, Issue{
			Code:         IssuePriceChanged,
			SellerID:     &sellerID,
			ProductID:    &productID,
			Message:      fmt.Sprintf("price of %s changed", item.ProductName),
			CurrentPrice: &price,
		})
	}
	return issues, nil
}

func result(issues []Issue) ValidationResult {
	if issues == nil {
		issues = []Issue{}
	}
	return ValidationResult{Valid: len(issues) == 0, Issues: issues}
}

// IssuesFrom extracts the issue list carried by a rejected placement.
func IssuesFrom(err error) []Issue {
	typed := pkgerrors.As(err)
	if typed == nil {
		return nil
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		return nil
	}
	issues, _ := details["issues"].([]Issue)
	return issues
}
