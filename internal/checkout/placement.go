package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/internal/cart"
	"github.com/angelmondragon/packfinderz-settlement/internal/checkout/helpers"
	"github.com/angelmondragon/packfinderz-settlement/internal/orders"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/metrics"
	"github.com/angelmondragon/packfinderz-settlement/pkg/money"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/packfinderz-settlement/pkg/validation"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type totalsBuilder interface {
	Build(ctx context.Context, tx *gorm.DB, buyerID uuid.UUID) (cart.Totals, error)
}

type promoSelections interface {
	Reapply(ctx context.Context, tx *gorm.DB, buyerID uuid.UUID, totals cart.Totals) (cart.Totals, error)
	ClearSelection(ctx context.Context, tx *gorm.DB, buyerID uuid.UUID) error
}

type commissionEngine interface {
	EnsureForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.SellerOrder, error)
}

type escrowLedger interface {
	CreateForOrder(ctx context.Context, tx *gorm.DB, order *models.Order, sellerOrders []models.SellerOrder) ([]models.EscrowEntry, error)
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// PlaceOrderInput identifies the cart to convert.
type PlaceOrderInput struct {
	BuyerID                     uuid.UUID `json:"buyer_id" validate:"required"`
	RequirePaymentAuthorization bool      `json:"require_payment_authorization"`
	PaymentReference            *string   `json:"payment_reference"`
	// ConfirmPayment marks the selection behind PaymentReference as paid in
	// the placement transaction, so a rejected placement leaves it untouched.
	ConfirmPayment bool `json:"-"`
}

// Deps groups the collaborators of the checkout service.
type Deps struct {
	Tx         txRunner
	CartRepo   cart.CartRepository
	Orders     orders.Repository
	Totals     totalsBuilder
	Promos     promoSelections
	Commission commissionEngine
	Escrow     escrowLedger
	Outbox     outboxPublisher
	Validator  *Validator
	Metrics    *metrics.SettlementMetrics
	Logger     *logger.Logger
	Currency   string
}

// Service validates carts and turns them into orders.
type Service struct {
	tx         txRunner
	cartRepo   cart.CartRepository
	orders     orders.Repository
	totals     totalsBuilder
	promos     promoSelections
	commission commissionEngine
	escrow     escrowLedger
	outbox     outboxPublisher
	validator  *Validator
	metrics    *metrics.SettlementMetrics
	logg       *logger.Logger
	currency   string
	now        func() time.Time
}

func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Tx == nil:
		return nil, fmt.Errorf("tx runner required")
	case deps.CartRepo == nil:
		return nil, fmt.Errorf("cart repository required")
	case deps.Orders == nil:
		return nil, fmt.Errorf("orders repository required")
	case deps.Totals == nil:
		return nil, fmt.Errorf("totals builder required")
	case deps.Promos == nil:
		return nil, fmt.Errorf("promo selections required")
	case deps.Commission == nil:
		return nil, fmt.Errorf("commission engine required")
	case deps.Escrow == nil:
		return nil, fmt.Errorf("escrow ledger required")
	case deps.Outbox == nil:
		return nil, fmt.Errorf("outbox publisher required")
	case deps.Validator == nil:
		return nil, fmt.Errorf("validator required")
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger required")
	}
	currency := deps.Currency
	if currency == "" {
		currency = "EUR"
	}
	return &Service{
		tx:         deps.Tx,
		cartRepo:   deps.CartRepo,
		orders:     deps.Orders,
		totals:     deps.Totals,
		promos:     deps.Promos,
		commission: deps.Commission,
		escrow:     deps.Escrow,
		outbox:     deps.Outbox,
		validator:  deps.Validator,
		metrics:    deps.Metrics,
		logg:       deps.Logger,
		currency:   currency,
		now:        time.Now,
	}, nil
}

// Validate runs checkout validation in its own transaction.
func (s *Service) Validate(ctx context.Context, buyerID uuid.UUID, opts ValidateOptions) (ValidationResult, error) {
	if buyerID == uuid.Nil {
		return ValidationResult{}, pkgerrors.New(pkgerrors.CodeValidation, "buyer id required")
	}
	var out ValidationResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		out, err = s.validator.Validate(ctx, tx, buyerID, opts)
		return err
	})
	if err != nil {
		return ValidationResult{}, err
	}
	return out, nil
}

// PlaceOrder revalidates the cart, persists the order graph with commission and
// escrow, queues order_placed and empties the cart, all in one transaction.
// A failed validation returns CodeValidation with the issues in its details.
func (s *Service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*models.Order, error) {
	if err := validation.Struct(input); err != nil {
		return nil, err
	}

	var placed *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if input.ConfirmPayment {
			if err := s.confirmPayment(ctx, tx, input); err != nil {
				return err
			}
		}
		check, err := s.validator.Validate(ctx, tx, input.BuyerID, ValidateOptions{RequirePaymentAuthorization: input.RequirePaymentAuthorization})
		if err != nil {
			return err
		}
		if !check.Valid {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart failed checkout validation").
				WithDetails(map[string]any{"issues": check.Issues})
		}

		cartRepo := s.cartRepo.WithTx(tx)
		base, err := s.totals.Build(ctx, tx, input.BuyerID)
		if err != nil {
			return err
		}
		totals, err := s.promos.Reapply(ctx, tx, input.BuyerID, base)
		if err != nil {
			return err
		}
		payment, err := cartRepo.GetPaymentSelection(ctx, input.BuyerID)
		if err != nil {
			return lookup(err, "payment selection")
		}
		address, err := cartRepo.SelectedAddress(ctx, input.BuyerID)
		if err != nil {
			return lookup(err, "delivery address")
		}
		selections, err := cartRepo.ListShippingSelections(ctx, input.BuyerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shipping selections")
		}

		order := s.buildOrder(input, totals, payment, *address, helpers.GroupSelectionsBySeller(selections))
		if err := s.orders.WithTx(tx).CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		sellerOrders, err := s.commission.EnsureForOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if _, err := s.escrow.CreateForOrder(ctx, tx, order, sellerOrders); err != nil {
			return err
		}
		if err := s.emitPlaced(ctx, tx, order); err != nil {
			return err
		}

		if err := cartRepo.DeleteItems(ctx, input.BuyerID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart items")
		}
		if err := cartRepo.DeleteShippingSelections(ctx, input.BuyerID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear shipping selections")
		}
		if err := cartRepo.DeletePaymentSelection(ctx, input.BuyerID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear payment selection")
		}
		if err := s.promos.ClearSelection(ctx, tx, input.BuyerID); err != nil {
			return err
		}

		placed, err = s.orders.WithTx(tx).FindOrder(ctx, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncOrdersPlaced()
	logCtx := s.logg.WithOrderID(ctx, placed.ID.String())
	logCtx = s.logg.WithBuyerID(logCtx, placed.BuyerID.String())
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"status":        placed.Status,
		"total":         placed.Total.String(),
		"seller_orders": len(placed.SellerOrders),
	})
	s.logg.Info(logCtx, "order placed")
	return placed, nil
}

func (s *Service) confirmPayment(ctx context.Context, tx *gorm.DB, input PlaceOrderInput) error {
	if input.PaymentReference == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment reference required to confirm payment")
	}
	repo := s.cartRepo.WithTx(tx)
	selection, err := repo.FindPaymentSelectionByReference(ctx, *input.PaymentReference)
	if err != nil {
		return lookup(err, "payment selection")
	}
	if selection.BuyerID != input.BuyerID {
		return pkgerrors.New(pkgerrors.CodeConflict, "payment reference belongs to another buyer")
	}
	if err := repo.UpdatePaymentStatus(ctx, selection.ID, enums.PaymentStatusPaid); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment paid")
	}
	return nil
}

// buildOrder snapshots the priced cart. Secured payments start the order as
// paid, anything else as new.
func (s *Service) buildOrder(input PlaceOrderInput, totals cart.Totals, payment *models.PaymentSelection, address models.DeliveryAddress, selections map[uuid.UUID]models.ShippingSelection) *models.Order {
	now := s.now().UTC()
	status := enums.OrderStatusNew
	if payment.Status.IsSecured() {
		status = enums.OrderStatusPaid
	}
	reference := input.PaymentReference
	if reference == nil {
		reference = payment.ProviderReference
	}

	order := &models.Order{
		ID:               uuid.New(),
		BuyerID:          input.BuyerID,
		PaymentMethod:    payment.Method,
		PaymentReference: reference,
		Delivery:         helpers.DeliverySnapshot(address),
		Currency:         s.currency,
		ItemsSubtotal:    totals.ItemsSubtotal,
		ShippingTotal:    totals.ShippingTotal,
		DiscountTotal:    totals.DiscountTotal,
		Total:            totals.Total,
		PromoCode:        totals.AppliedPromoCode,
		Status:           status,
		CreatedAt:        now,
	}
	for i, seller := range totals.Sellers {
		sellerOrderID := uuid.New()
		// keeps suborders in cart order when listed by created_at
		createdAt := now.Add(time.Duration(i) * time.Millisecond)
		so := models.SellerOrder{
			ID:            sellerOrderID,
			OrderID:       order.ID,
			BuyerID:       input.BuyerID,
			SellerID:      seller.SellerID,
			SellerName:    seller.SellerName,
			Subtotal:      seller.Subtotal,
			ShippingTotal: seller.Shipping,
			DiscountTotal: seller.Discount,
			Total:         seller.Total,
			Status:        status,
			CreatedAt:     createdAt,
		}
		for _, item := range seller.Items {
			so.Items = append(so.Items, models.OrderItem{
				OrderID:       order.ID,
				SellerOrderID: sellerOrderID,
				ProductID:     item.ProductID,
				SKU:           item.SKU,
				ProductName:   item.ProductName,
				Category:      item.Category,
				UnitPrice:     item.UnitPrice,
				Quantity:      item.Quantity,
				LineTotal:     money.Round2(item.LineTotal()),
				Status:        status,
				CreatedAt:     createdAt,
			})
		}
		order.SellerOrders = append(order.SellerOrders, so)

		shipping := models.OrderShippingSelection{
			OrderID:       order.ID,
			SellerOrderID: sellerOrderID,
			SellerID:      seller.SellerID,
			Cost:          seller.Shipping,
			CreatedAt:     createdAt,
		}
		if selection, ok := selections[seller.SellerID]; ok {
			shipping.Method = selection.Method
			shipping.EstimatedDays = selection.EstimatedDays
		}
		if seller.Rule != nil {
			shipping.Method = seller.Rule.Method
		}
		order.ShippingSelections = append(order.ShippingSelections, shipping)
	}
	return order
}

func (s *Service) emitPlaced(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	ids := make([]uuid.UUID, 0, len(order.SellerOrders))
	for _, so := range order.SellerOrders {
		ids = append(ids, so.ID)
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventOrderPlaced,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         &outbox.ActorRef{ID: order.BuyerID, Role: outbox.RoleBuyer},
		Data: payloads.OrderPlacedEvent{
			OrderID:        order.ID,
			BuyerID:        order.BuyerID,
			SellerOrderIDs: ids,
			Status:         order.Status,
			Total:          order.Total,
			Currency:       order.Currency,
		},
		OccurredAt: order.CreatedAt,
	}
	return s.outbox.Emit(ctx, tx, event)
}

func lookup(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeValidation, what+" required")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+what)
}
