package shippingwebhook

import (
	"context"
	"strings"

	"github.com/angelmondragon/packfinderz-settlement/internal/orders"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/validation"
)

// providerStatuses maps carrier status codes onto suborder statuses.
var providerStatuses = map[string]enums.OrderStatus{
	"in_transit":       enums.OrderStatusShipped,
	"shipped":          enums.OrderStatusShipped,
	"out_for_delivery": enums.OrderStatusShipped,
	"delivered":        enums.OrderStatusDelivered,
	"cancelled":        enums.OrderStatusCancelled,
}

// Update is a status notification from a shipping provider.
type Update struct {
	ProviderCode   string  `json:"provider_code" validate:"required"`
	TrackingNumber string  `json:"tracking_number" validate:"required"`
	Status         string  `json:"status" validate:"required"`
	TrackingURL    *string `json:"tracking_url"`
	Carrier        *string `json:"carrier"`
}

type orderTransitions interface {
	FindByTrackingNumber(ctx context.Context, trackingNumber string) (*models.SellerOrder, error)
	UpdateSellerOrderStatus(ctx context.Context, input orders.StatusUpdateInput) (orders.TransitionResult, error)
}

type Service struct {
	orders orderTransitions
	logg   *logger.Logger
}

func NewService(orders orderTransitions, logg *logger.Logger) (*Service, error) {
	if orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{orders: orders, logg: logg}, nil
}

// MapStatus translates a provider status code; ok is false for unknown codes.
func MapStatus(code string) (enums.OrderStatus, bool) {
	status, ok := providerStatuses[strings.ToLower(strings.TrimSpace(code))]
	return status, ok
}

// HandleStatusUpdate applies the provider's status to the suborder carrying
// the tracking number. A repeated update is reported as unchanged.
func (s *Service) HandleStatusUpdate(ctx context.Context, update Update) (orders.TransitionResult, error) {
	if err := validation.Struct(update); err != nil {
		return orders.TransitionResult{}, err
	}
	status, ok := MapStatus(update.Status)
	if !ok {
		return orders.TransitionResult{}, pkgerrors.New(pkgerrors.CodeValidation, "unknown shipping status").
			WithDetails(map[string]any{"status": update.Status, "provider": update.ProviderCode})
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"provider":        update.ProviderCode,
		"tracking_number": update.TrackingNumber,
		"provider_status": update.Status,
	})
	so, err := s.orders.FindByTrackingNumber(ctx, update.TrackingNumber)
	if err != nil {
		return orders.TransitionResult{}, err
	}
	ctx = s.logg.WithOrderID(ctx, so.OrderID.String())

	tracking := strings.TrimSpace(update.TrackingNumber)
	input := orders.StatusUpdateInput{
		SellerOrderID: so.ID,
		Status:        status,
		Reason:        "shipping provider " + update.ProviderCode,
	}
	if status == enums.OrderStatusShipped {
		input.TrackingNumber = &tracking
		input.TrackingURL = update.TrackingURL
		input.Carrier = update.Carrier
	}
	result, err := s.orders.UpdateSellerOrderStatus(ctx, input)
	if err != nil {
		s.logg.Error(ctx, "shipping status update failed", err)
		return orders.TransitionResult{}, err
	}
	if result.Rejected {
		s.logg.Warn(s.logg.WithField(ctx, "reason", result.Reason), "shipping status update rejected")
		return result, nil
	}
	s.logg.Info(s.logg.WithField(ctx, "status", result.To), "shipping status update handled")
	return result, nil
}
