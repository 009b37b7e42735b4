package commission

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/money"
)

// Service stamps commission on suborders and keeps it in step with refunds.
type Service struct {
	repo  *Repository
	rates *RateResolver
	now   func() time.Time
}

func NewService(repo *Repository, rates *RateResolver) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("commission repository required")
	}
	if rates == nil {
		return nil, fmt.Errorf("rate resolver required")
	}
	return &Service{repo: repo, rates: rates, now: time.Now}, nil
}

// Rates exposes the resolver so cart pricing quotes the same seller rates.
func (s *Service) Rates() *RateResolver {
	return s.rates
}

// EnsureForOrder computes commission for every suborder of the order that has
// not been stamped yet and returns the suborders as stored afterwards.
// Already-stamped suborders keep their values.
func (s *Service) EnsureForOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.SellerOrder, error) {
	sellerOrders, err := s.repo.ListSellerOrders(ctx, tx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load seller orders")
	}
	now := s.now().UTC()
	for i := range sellerOrders {
		so := &sellerOrders[i]
		if so.CommissionCalculatedAt != nil {
			continue
		}
		result := Compute(s.rates, *so, so.Items)
		if err := s.repo.StampCommission(ctx, tx, so.ID, result.Rate, result.Amount, now); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stamp commission")
		}
		so.CommissionRate = result.Rate
		so.CommissionAmount = result.Amount
		stamped := now
		so.CommissionCalculatedAt = &stamped
	}
	return sellerOrders, nil
}

// RecalculateAfterRefund bills the already-applied rate against the net amount
// and records the delta as a correction. sellerOrder is updated in place.
// A nil correction means nothing changed.
func (s *Service) RecalculateAfterRefund(ctx context.Context, tx *gorm.DB, sellerOrder *models.SellerOrder, reason string) (*models.CommissionCorrection, error) {
	if sellerOrder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller order is required")
	}
	if sellerOrder.CommissionCalculatedAt == nil {
		return nil, nil
	}
	target := money.Round6(sellerOrder.CommissionRate.Mul(sellerOrder.NetAmount()))
	return s.adjust(ctx, tx, sellerOrder, target, reason)
}

// Void drops the suborder's commission to zero, e.g. when the order is cancelled.
func (s *Service) Void(ctx context.Context, tx *gorm.DB, sellerOrder *models.SellerOrder, reason string) (*models.CommissionCorrection, error) {
	if sellerOrder == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller order is required")
	}
	if sellerOrder.CommissionCalculatedAt == nil {
		return nil, nil
	}
	return s.adjust(ctx, tx, sellerOrder, decimal.Zero, reason)
}

func (s *Service) adjust(ctx context.Context, tx *gorm.DB, sellerOrder *models.SellerOrder, target decimal.Decimal, reason string) (*models.CommissionCorrection, error) {
	delta := target.Sub(sellerOrder.CommissionAmount)
	if delta.IsZero() {
		return nil, nil
	}
	now := s.now().UTC()
	if err := s.repo.UpdateAmount(ctx, tx, sellerOrder.ID, target, now); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update commission")
	}
	correction := &models.CommissionCorrection{
		OrderID:       sellerOrder.OrderID,
		SellerOrderID: sellerOrder.ID,
		SellerID:      sellerOrder.SellerID,
		Amount:        delta,
		Reason:        reason,
		CreatedAt:     now,
	}
	if err := s.repo.InsertCorrection(ctx, tx, correction); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record commission correction")
	}
	sellerOrder.CommissionAmount = target
	return correction, nil
}

// CorrectionsBetween lists a seller's corrections created in [from, to).
func (s *Service) CorrectionsBetween(ctx context.Context, tx *gorm.DB, sellerID uuid.UUID, from, to time.Time) ([]models.CommissionCorrection, error) {
	rows, err := s.repo.ListCorrections(ctx, tx, sellerID, from.UTC(), to.UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list commission corrections")
	}
	return rows, nil
}
