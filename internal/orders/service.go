package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	baserepo "github.com/angelmondragon/packfinderz-settlement/internal/repo"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/packfinderz-settlement/pkg/validation"
)

// Release reasons written to the escrow ledger.
const (
	ReasonOrderCancelled       = "Order cancelled"
	ReasonSellerOrderCancelled = "Seller order cancelled"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type commissionEngine interface {
	RecalculateAfterRefund(ctx context.Context, tx *gorm.DB, sellerOrder *models.SellerOrder, reason string) (*models.CommissionCorrection, error)
	Void(ctx context.Context, tx *gorm.DB, sellerOrder *models.SellerOrder, reason string) (*models.CommissionCorrection, error)
}

type escrowLedger interface {
	ApplyRefund(ctx context.Context, tx *gorm.DB, sellerOrder models.SellerOrder) error
	ReleaseOrderToBuyer(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (int64, error)
	ReleaseSellerOrderToBuyer(ctx context.Context, tx *gorm.DB, sellerOrderID uuid.UUID, reason string) (int64, error)
}

// ShippingProvider books shipments with the carrier integration.
type ShippingProvider interface {
	CreateShipment(ctx context.Context, req ShipmentRequest) (*ShipmentResponse, error)
}

// Service drives the order, suborder and item state machine.
type Service interface {
	GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByTrackingNumber(ctx context.Context, trackingNumber string) (*models.SellerOrder, error)
	UpdateSellerOrderStatus(ctx context.Context, input StatusUpdateInput) (TransitionResult, error)
	UpdateItemStatuses(ctx context.Context, input ItemStatusUpdateInput) (ItemUpdateResult, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) error
	ApplyRefund(ctx context.Context, tx *gorm.DB, sellerOrderID uuid.UUID, amount decimal.Decimal, reason string) (*models.SellerOrder, error)
	CreateShipment(ctx context.Context, input ShipmentInput) (ShipmentResult, error)
}

type service struct {
	repo       Repository
	tx         txRunner
	commission commissionEngine
	escrow     escrowLedger
	outbox     outboxPublisher
	shipping   ShippingProvider
	logg       *logger.Logger
	now        func() time.Time
}

// Deps groups the collaborators of the order service. Shipping is only needed
// by CreateShipment.
type Deps struct {
	Repo       Repository
	Tx         txRunner
	Commission commissionEngine
	Escrow     escrowLedger
	Outbox     outboxPublisher
	Shipping   ShippingProvider
	Logger     *logger.Logger
}

// NewService builds the order service with the required dependencies.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Commission == nil {
		return nil, fmt.Errorf("commission engine required")
	}
	if deps.Escrow == nil {
		return nil, fmt.Errorf("escrow ledger required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:       deps.Repo,
		tx:         deps.Tx,
		commission: deps.Commission,
		escrow:     deps.Escrow,
		outbox:     deps.Outbox,
		shipping:   deps.Shipping,
		logg:       deps.Logger,
		now:        time.Now,
	}, nil
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, baserepo.LookupError(err, "order")
	}
	return order, nil
}

func (s *service) FindByTrackingNumber(ctx context.Context, trackingNumber string) (*models.SellerOrder, error) {
	trackingNumber = strings.TrimSpace(trackingNumber)
	if trackingNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tracking number is required")
	}
	so, err := s.repo.FindSellerOrderByTracking(ctx, trackingNumber)
	if err != nil {
		return nil, baserepo.LookupError(err, "seller order")
	}
	return so, nil
}

func (s *service) UpdateSellerOrderStatus(ctx context.Context, input StatusUpdateInput) (TransitionResult, error) {
	if err := validation.Struct(input); err != nil {
		return TransitionResult{}, err
	}
	if !input.Status.IsValid() {
		return TransitionResult{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status").
			WithDetails(map[string]any{"status": input.Status})
	}

	var result TransitionResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		result, err = s.transition(ctx, tx, input)
		return err
	})
	if err != nil {
		return TransitionResult{}, err
	}
	return result, nil
}

func (s *service) transition(ctx context.Context, tx *gorm.DB, input StatusUpdateInput) (TransitionResult, error) {
	repo := s.repo.WithTx(tx)
	so, err := loadOwned(ctx, repo, input.SellerOrderID, input.SellerID)
	if err != nil {
		return TransitionResult{}, err
	}

	result := TransitionResult{SellerOrderID: so.ID, From: so.Status, To: input.Status}
	if so.Status == input.Status {
		result.Unchanged = true
		return result, nil
	}
	if !CanTransition(so.Status, input.Status) {
		result.Rejected = true
		result.Reason = fmt.Sprintf("seller order cannot move from %s to %s", so.Status, input.Status)
		return result, nil
	}

	now := s.now().UTC()
	updates := map[string]any{"status": input.Status}
	switch input.Status {
	case enums.OrderStatusShipped:
		applyTracking(so, updates, input.TrackingNumber, input.Carrier, input.TrackingURL)
		if so.ShippedAt == nil {
			updates["shipped_at"] = now
			so.ShippedAt = &now
		}
	case enums.OrderStatusDelivered:
		if so.DeliveredAt == nil {
			updates["delivered_at"] = now
			so.DeliveredAt = &now
		}
	case enums.OrderStatusRefunded:
		amount := so.Total
		if input.RefundAmount != nil {
			amount = *input.RefundAmount
		}
		if amount.IsNegative() || amount.GreaterThan(so.Total) {
			return TransitionResult{}, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be between zero and the seller order total").
				WithDetails(map[string]any{"refund_amount": amount.String(), "total": so.Total.String()})
		}
		updates["refunded_amount"] = amount
		so.RefundedAmount = amount
	}
	if err := repo.UpdateSellerOrder(ctx, so.ID, updates); err != nil {
		return TransitionResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update seller order")
	}
	so.Status = input.Status

	following := make([]uuid.UUID, 0, len(so.Items))
	for i := range so.Items {
		if CanTransition(so.Items[i].Status, input.Status) {
			following = append(following, so.Items[i].ID)
			so.Items[i].Status = input.Status
		}
	}
	if err := repo.UpdateItemStatuses(ctx, following, input.Status); err != nil {
		return TransitionResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order items")
	}

	switch input.Status {
	case enums.OrderStatusRefunded:
		if err := s.settleRefund(ctx, tx, so, input.Reason); err != nil {
			return TransitionResult{}, err
		}
	case enums.OrderStatusCancelled:
		if _, err := s.commission.Void(ctx, tx, so, ReasonSellerOrderCancelled); err != nil {
			return TransitionResult{}, err
		}
		if _, err := s.escrow.ReleaseSellerOrderToBuyer(ctx, tx, so.ID, ReasonSellerOrderCancelled); err != nil {
			return TransitionResult{}, err
		}
	}

	orderStatus, err := s.rollup(ctx, repo, so.OrderID)
	if err != nil {
		return TransitionResult{}, err
	}
	result.Applied = true
	result.OrderStatus = orderStatus

	if err := s.emitStatusChange(ctx, tx, so, result.From, orderStatus); err != nil {
		return TransitionResult{}, err
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"seller_order_id": so.ID.String(),
		"from":            result.From,
		"to":              result.To,
		"order_status":    orderStatus,
	})
	s.logg.Info(logCtx, "seller order status changed")
	return result, nil
}

// UpdateItemStatuses applies item transitions one by one, then derives the
// suborder status from the least advanced active item and the refunded amount
// from cancelled and refunded items.
func (s *service) UpdateItemStatuses(ctx context.Context, input ItemStatusUpdateInput) (ItemUpdateResult, error) {
	if err := validation.Struct(input); err != nil {
		return ItemUpdateResult{}, err
	}

	var result ItemUpdateResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		so, err := loadOwned(ctx, repo, input.SellerOrderID, input.SellerID)
		if err != nil {
			return err
		}

		byID := make(map[uuid.UUID]*models.OrderItem, len(so.Items))
		for i := range so.Items {
			byID[so.Items[i].ID] = &so.Items[i]
		}
		byStatus := map[enums.OrderStatus][]uuid.UUID{}
		for _, change := range input.Updates {
			item, ok := byID[change.ItemID]
			if !ok {
				result.Rejected = append(result.Rejected, RejectedItem{ItemID: change.ItemID, To: change.Status, Reason: "item does not belong to seller order"})
				continue
			}
			if item.Status == change.Status {
				continue
			}
			if !change.Status.IsValid() || !CanTransition(item.Status, change.Status) {
				result.Rejected = append(result.Rejected, RejectedItem{
					ItemID: item.ID,
					From:   item.Status,
					To:     change.Status,
					Reason: fmt.Sprintf("item cannot move from %s to %s", item.Status, change.Status),
				})
				continue
			}
			item.Status = change.Status
			byStatus[change.Status] = append(byStatus[change.Status], item.ID)
			result.Applied = append(result.Applied, item.ID)
		}
		for status, ids := range byStatus {
			if err := repo.UpdateItemStatuses(ctx, ids, status); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order items")
			}
		}

		statuses := make([]enums.OrderStatus, 0, len(so.Items))
		refunded := decimal.Zero
		for _, item := range so.Items {
			statuses = append(statuses, item.Status)
			if item.Status == enums.OrderStatusCancelled || item.Status == enums.OrderStatusRefunded {
				refunded = refunded.Add(item.LineTotal)
			}
		}
		if refunded.GreaterThan(so.Total) {
			refunded = so.Total
		}
		derived := DeriveFromItems(statuses)
		previous := so.Status

		now := s.now().UTC()
		updates := map[string]any{}
		if derived != so.Status {
			updates["status"] = derived
			switch derived {
			case enums.OrderStatusShipped:
				applyTracking(so, updates, input.TrackingNumber, input.Carrier, input.TrackingURL)
				if so.ShippedAt == nil {
					updates["shipped_at"] = now
				}
			case enums.OrderStatusDelivered:
				if so.DeliveredAt == nil {
					updates["delivered_at"] = now
					so.DeliveredAt = &now
				}
			}
			so.Status = derived
		}
		refundChanged := !refunded.Equal(so.RefundedAmount)
		if refundChanged {
			updates["refunded_amount"] = refunded
			so.RefundedAmount = refunded
		}
		if len(updates) > 0 {
			if err := repo.UpdateSellerOrder(ctx, so.ID, updates); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update seller order")
			}
		}
		if refundChanged {
			if err := s.settleRefund(ctx, tx, so, "item cancellation"); err != nil {
				return err
			}
		}

		orderStatus, err := s.rollup(ctx, repo, so.OrderID)
		if err != nil {
			return err
		}
		if previous != so.Status {
			if err := s.emitStatusChange(ctx, tx, so, previous, orderStatus); err != nil {
				return err
			}
		}
		result.SellerOrderStatus = so.Status
		result.RefundedAmount = so.RefundedAmount
		result.OrderStatus = orderStatus
		return nil
	})
	if err != nil {
		return ItemUpdateResult{}, err
	}
	return result, nil
}

// CancelOrder cancels every suborder unless one of them already shipped, in
// which case nothing changes and the offending suborders are listed.
func (s *service) CancelOrder(ctx context.Context, orderID uuid.UUID, reason string) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindOrder(ctx, orderID)
		if err != nil {
			return baserepo.LookupError(err, "order")
		}
		if order.Status == enums.OrderStatusCancelled {
			return nil
		}

		var offending []map[string]any
		for _, so := range order.SellerOrders {
			if so.Status.ReachedShipment() {
				offending = append(offending, map[string]any{
					"seller_order_id": so.ID.String(),
					"status":          so.Status,
				})
			}
		}
		if len(offending) > 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order has shipped seller orders").
				WithDetails(map[string]any{"seller_orders": offending})
		}

		for i := range order.SellerOrders {
			so := &order.SellerOrders[i]
			err := repo.UpdateSellerOrder(ctx, so.ID, map[string]any{
				"status":          enums.OrderStatusCancelled,
				"refunded_amount": decimal.Zero,
				"tracking_number": nil,
				"carrier":         nil,
				"tracking_url":    nil,
			})
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel seller order")
			}
			ids := make([]uuid.UUID, 0, len(so.Items))
			for _, item := range so.Items {
				ids = append(ids, item.ID)
			}
			if err := repo.UpdateItemStatuses(ctx, ids, enums.OrderStatusCancelled); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order items")
			}
			so.Status = enums.OrderStatusCancelled
			so.RefundedAmount = decimal.Zero
			if _, err := s.commission.Void(ctx, tx, so, ReasonOrderCancelled); err != nil {
				return err
			}
		}
		if _, err := s.escrow.ReleaseOrderToBuyer(ctx, tx, order.ID, ReasonOrderCancelled); err != nil {
			return err
		}
		if err := repo.UpdateOrderStatus(ctx, order.ID, enums.OrderStatusCancelled); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}

		event := outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{ID: order.BuyerID, Role: outbox.RoleBuyer},
			Data: payloads.OrderCancelledEvent{
				OrderID:     order.ID,
				BuyerID:     order.BuyerID,
				CancelledAt: s.now().UTC(),
				Reason:      reason,
			},
		}
		return s.outbox.Emit(ctx, tx, event)
	})
}

// ApplyRefund adds amount to the suborder's refunded total inside the caller's
// transaction. The status is left alone.
func (s *service) ApplyRefund(ctx context.Context, tx *gorm.DB, sellerOrderID uuid.UUID, amount decimal.Decimal, reason string) (*models.SellerOrder, error) {
	if !amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund amount must be positive")
	}
	repo := s.repo.WithTx(tx)
	so, err := repo.FindSellerOrder(ctx, sellerOrderID)
	if err != nil {
		return nil, baserepo.LookupError(err, "seller order")
	}
	if amount.GreaterThan(so.NetAmount()) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund exceeds remaining seller order amount").
			WithDetails(map[string]any{"refund_amount": amount.String(), "remaining": so.NetAmount().String()})
	}
	so.RefundedAmount = so.RefundedAmount.Add(amount)
	if err := repo.UpdateSellerOrder(ctx, so.ID, map[string]any{"refunded_amount": so.RefundedAmount}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update refunded amount")
	}
	if err := s.settleRefund(ctx, tx, so, reason); err != nil {
		return nil, err
	}
	return so, nil
}

// CreateShipment books the parcel with the provider using the caller's context
// and moves the suborder to shipped once tracking is known.
func (s *service) CreateShipment(ctx context.Context, input ShipmentInput) (ShipmentResult, error) {
	if err := validation.Struct(input); err != nil {
		return ShipmentResult{}, err
	}
	if s.shipping == nil {
		return ShipmentResult{}, pkgerrors.New(pkgerrors.CodeDependency, "shipping provider not configured").WithRetryable(false)
	}
	so, err := loadOwned(ctx, s.repo, input.SellerOrderID, input.SellerID)
	if err != nil {
		return ShipmentResult{}, err
	}
	if !CanTransition(so.Status, enums.OrderStatusShipped) {
		return ShipmentResult{}, pkgerrors.New(pkgerrors.CodeStateConflict, "seller order is not ready to ship").
			WithDetails(map[string]any{"status": so.Status})
	}
	order, err := s.repo.FindOrder(ctx, so.OrderID)
	if err != nil {
		return ShipmentResult{}, baserepo.LookupError(err, "order")
	}

	req := ShipmentRequest{
		Reference: so.ID.String(),
		SellerID:  so.SellerID,
		Method:    input.Method,
		WeightKg:  input.WeightKg,
		Recipient: order.Delivery,
	}
	for _, item := range so.Items {
		if !item.Status.IsActive() {
			continue
		}
		req.Items = append(req.Items, ShipmentLine{SKU: item.SKU, Name: item.ProductName, Quantity: item.Quantity})
	}

	resp, err := s.shipping.CreateShipment(ctx, req)
	if err != nil {
		retryable := !errors.Is(err, context.Canceled)
		return ShipmentResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create shipment").
			WithRetryable(retryable).
			WithDetails(map[string]any{"retryable": retryable})
	}
	if resp == nil || !resp.Success {
		message, retryable := "shipping provider rejected shipment", false
		if resp != nil {
			retryable = resp.Retryable
			if resp.Error != "" {
				message = resp.Error
			}
		}
		return ShipmentResult{}, pkgerrors.New(pkgerrors.CodeDependency, message).
			WithRetryable(retryable).
			WithDetails(map[string]any{"retryable": retryable})
	}

	transition, err := s.UpdateSellerOrderStatus(ctx, StatusUpdateInput{
		SellerOrderID:  so.ID,
		Status:         enums.OrderStatusShipped,
		TrackingNumber: nonEmpty(resp.TrackingNumber),
		Carrier:        nonEmpty(resp.Carrier),
		TrackingURL:    nonEmpty(resp.TrackingURL),
	})
	if err != nil {
		return ShipmentResult{}, err
	}
	return ShipmentResult{
		TrackingNumber: resp.TrackingNumber,
		TrackingURL:    resp.TrackingURL,
		Carrier:        resp.Carrier,
		Label:          resp.Label,
		Transition:     transition,
	}, nil
}

// settleRefund keeps commission and escrow in line with the suborder's refunded amount.
func (s *service) settleRefund(ctx context.Context, tx *gorm.DB, so *models.SellerOrder, reason string) error {
	if _, err := s.commission.RecalculateAfterRefund(ctx, tx, so, reason); err != nil {
		return err
	}
	if err := s.escrow.ApplyRefund(ctx, tx, *so); err != nil {
		return err
	}
	event := outbox.DomainEvent{
		EventType:     enums.EventSellerOrderRefunded,
		AggregateType: enums.AggregateSellerOrder,
		AggregateID:   so.ID,
		Data: payloads.SellerOrderRefundedEvent{
			OrderID:          so.OrderID,
			SellerOrderID:    so.ID,
			SellerID:         so.SellerID,
			RefundedAmount:   so.RefundedAmount,
			CommissionAmount: so.CommissionAmount,
			Reason:           reason,
		},
	}
	return s.outbox.Emit(ctx, tx, event)
}

func (s *service) rollup(ctx context.Context, repo Repository, orderID uuid.UUID) (enums.OrderStatus, error) {
	sellerOrders, err := repo.ListSellerOrders(ctx, orderID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller orders")
	}
	statuses := make([]enums.OrderStatus, 0, len(sellerOrders))
	for _, so := range sellerOrders {
		statuses = append(statuses, so.Status)
	}
	status := Rollup(statuses)
	if err := repo.UpdateOrderStatus(ctx, orderID, status); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	return status, nil
}

func (s *service) emitStatusChange(ctx context.Context, tx *gorm.DB, so *models.SellerOrder, from, orderStatus enums.OrderStatus) error {
	event := outbox.DomainEvent{
		EventType:     enums.EventSellerOrderStatus,
		AggregateType: enums.AggregateSellerOrder,
		AggregateID:   so.ID,
		Actor:         &outbox.ActorRef{ID: so.SellerID, Role: outbox.RoleSeller},
		Data: payloads.SellerOrderStatusEvent{
			OrderID:        so.OrderID,
			SellerOrderID:  so.ID,
			SellerID:       so.SellerID,
			From:           from,
			To:             so.Status,
			OrderStatus:    orderStatus,
			TrackingNumber: so.TrackingNumber,
		},
	}
	return s.outbox.Emit(ctx, tx, event)
}

// loadOwned distinguishes a missing suborder from one owned by another seller.
func loadOwned(ctx context.Context, repo Repository, sellerOrderID uuid.UUID, sellerID *uuid.UUID) (*models.SellerOrder, error) {
	so, err := repo.FindSellerOrder(ctx, sellerOrderID)
	if err != nil {
		return nil, baserepo.LookupError(err, "seller order")
	}
	if sellerID != nil && *sellerID != so.SellerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "seller order belongs to another seller")
	}
	return so, nil
}

// applyTracking only overwrites tracking fields for which a value was supplied.
func applyTracking(so *models.SellerOrder, updates map[string]any, number, carrier, url *string) {
	if v := nonEmptyPtr(number); v != nil {
		updates["tracking_number"] = *v
		so.TrackingNumber = v
	}
	if v := nonEmptyPtr(carrier); v != nil {
		updates["carrier"] = *v
		so.Carrier = v
	}
	if v := nonEmptyPtr(url); v != nil {
		updates["tracking_url"] = *v
		so.TrackingURL = v
	}
}

func nonEmptyPtr(value *string) *string {
	if value == nil {
		return nil
	}
	return nonEmpty(*value)
}

func nonEmpty(value string) *string {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	return &value
}
