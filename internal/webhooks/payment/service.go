package paymentwebhook

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/internal/cart"
	"github.com/angelmondragon/packfinderz-settlement/internal/checkout"
	"github.com/angelmondragon/packfinderz-settlement/internal/orders"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/metrics"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox/payloads"
	"github.com/angelmondragon/packfinderz-settlement/pkg/validation"
)

// StatusSuccess is the provider status that confirms a payment.
const StatusSuccess = "success"

// Outcome classifies how a callback was handled.
type Outcome string

const (
	OutcomePlaced           Outcome = "placed"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomePaymentFailed    Outcome = "payment_failed"
	OutcomeRejected         Outcome = "rejected"
)

// Callback is the provider notification for one payment.
type Callback struct {
	ProviderReference string `json:"provider_reference" validate:"required"`
	Status            string `json:"status" validate:"required"`
}

// Result carries the order id when one exists and the checkout issues when
// placement was rejected.
type Result struct {
	Outcome Outcome          `json:"outcome"`
	OrderID *uuid.UUID       `json:"order_id,omitempty"`
	Issues  []checkout.Issue `json:"issues,omitempty"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type orderPlacer interface {
	PlaceOrder(ctx context.Context, input checkout.PlaceOrderInput) (*models.Order, error)
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

// ServiceParams groups the collaborators of the callback handler. Guard may be
// nil, in which case only the database lookup protects against duplicates.
type ServiceParams struct {
	TransactionRunner txRunner
	CartRepo          cart.CartRepository
	OrdersRepo        orders.Repository
	Placer            orderPlacer
	Commission        commissionEngine
	Escrow            escrowLedger
	Outbox            outboxPublisher
	Guard             *IdempotencyGuard
	Metrics           *metrics.SettlementMetrics
	Logger            *logger.Logger
}

type Service struct {
	txRunner   txRunner
	cartRepo   cart.CartRepository
	ordersRepo orders.Repository
	placer     orderPlacer
	commission commissionEngine
	escrow     escrowLedger
	outbox     outboxPublisher
	guard      *IdempotencyGuard
	metrics    *metrics.SettlementMetrics
	logg       *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.CartRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "cart repo required")
	}
	if params.OrdersRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders repo required")
	}
	if params.Placer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order placer required")
	}
	if params.Commission == nil || params.Escrow == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "commission and escrow required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		txRunner:   params.TransactionRunner,
		cartRepo:   params.CartRepo,
		ordersRepo: params.OrdersRepo,
		placer:     params.Placer,
		commission: params.Commission,
		escrow:     params.Escrow,
		outbox:     params.Outbox,
		guard:      params.Guard,
		metrics:    params.Metrics,
		logg:       params.Logger,
	}, nil
}

// HandleCallback is safe under at-least-once delivery: a reference that
// already produced an order reports AlreadyProcessed with that order's id.
func (s *Service) HandleCallback(ctx context.Context, callback Callback) (Result, error) {
	if err := validation.Struct(callback); err != nil {
		return Result{}, err
	}
	reference := strings.TrimSpace(callback.ProviderReference)
	status := strings.ToLower(strings.TrimSpace(callback.Status))
	ctx = s.logg.WithFields(ctx, map[string]any{"payment_reference": reference, "provider_status": status})

	guardKey := reference + ":" + status
	if s.guard != nil {
		duplicate, err := s.guard.CheckAndMark(ctx, guardKey)
		switch {
		case err != nil:
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "idempotency guard unavailable")
		case duplicate:
			result, err := s.alreadyProcessed(ctx, reference)
			if err != nil {
				return Result{}, err
			}
			return s.finish(ctx, result), nil
		}
	}

	result, err := s.handle(ctx, reference, status)
	if err != nil {
		if s.guard != nil {
			if delErr := s.guard.Delete(ctx, guardKey); delErr != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", delErr.Error()), "release idempotency key")
			}
		}
		s.logg.Error(ctx, "payment callback failed", err)
		return Result{}, err
	}
	return s.finish(ctx, result), nil
}

func (s *Service) handle(ctx context.Context, reference, status string) (Result, error) {
	existing, err := s.ordersRepo.FindOrderByPaymentReference(ctx, reference)
	switch {
	case err == nil:
		return s.settleExisting(ctx, existing)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup order by payment reference")
	}

	selection, err := s.cartRepo.FindPaymentSelectionByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{}, pkgerrors.New(pkgerrors.CodeNotFound, "payment selection not found").
				WithDetails(map[string]any{"payment_reference": reference})
		}
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup payment selection")
	}

	if status != StatusSuccess {
		err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.cartRepo.WithTx(tx).UpdatePaymentStatus(ctx, selection.ID, enums.PaymentStatusFailed); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark payment failed")
			}
			return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPaymentCallbackFailed,
				AggregateType: enums.AggregateOrder,
				AggregateID:   selection.ID,
				Actor:         &outbox.ActorRef{Role: outbox.RoleProvider},
				Data: payloads.PaymentCallbackFailedEvent{
					PaymentReference: reference,
					BuyerID:          selection.BuyerID,
					ProviderStatus:   status,
				},
			})
		})
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomePaymentFailed}, nil
	}

	order, err := s.placer.PlaceOrder(ctx, checkout.PlaceOrderInput{
		BuyerID:                     selection.BuyerID,
		RequirePaymentAuthorization: true,
		PaymentReference:            &reference,
		ConfirmPayment:              true,
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			if issues := checkout.IssuesFrom(err); issues != nil {
				return Result{Outcome: OutcomeRejected, Issues: issues}, nil
			}
		}
		return Result{}, err
	}
	id := order.ID
	return Result{Outcome: OutcomePlaced, OrderID: &id}, nil
}

func (s *Service) alreadyProcessed(ctx context.Context, reference string) (Result, error) {
	existing, err := s.ordersRepo.FindOrderByPaymentReference(ctx, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Result{Outcome: OutcomeAlreadyProcessed}, nil
		}
		return Result{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup order by payment reference")
	}
	return s.settleExisting(ctx, existing)
}

// settleExisting re-runs the idempotent commission and escrow steps for an
// order a previous delivery already created.
func (s *Service) settleExisting(ctx context.Context, order *models.Order) (Result, error) {
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		sellerOrders, err := s.commission.EnsureForOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		_, err = s.escrow.CreateForOrder(ctx, tx, order, sellerOrders)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("settle existing order: %w", err)
	}
	id := order.ID
	return Result{Outcome: OutcomeAlreadyProcessed, OrderID: &id}, nil
}

func (s *Service) finish(ctx context.Context, result Result) Result {
	s.metrics.IncPaymentCallback(string(result.Outcome))
	logCtx := s.logg.WithField(ctx, "outcome", result.Outcome)
	if result.OrderID != nil {
		logCtx = s.logg.WithOrderID(logCtx, result.OrderID.String())
	}
	s.logg.Info(logCtx, "payment callback handled")
	return result
}
