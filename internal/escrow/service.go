package escrow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/metrics"
)

// ReasonRefunded is stamped on entries emptied by refunds.
const ReasonRefunded = "Refunded"

// Service is the escrow ledger. Every method joins the caller's transaction.
type Service struct {
	repo    *Repository
	delay   time.Duration
	metrics *metrics.SettlementMetrics
	now     func() time.Time
}

func NewService(repo *Repository, payoutDelay time.Duration, m *metrics.SettlementMetrics) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("escrow repository required")
	}
	if payoutDelay < 0 {
		return nil, fmt.Errorf("payout delay must be non-negative")
	}
	return &Service{repo: repo, delay: payoutDelay, metrics: m, now: time.Now}, nil
}

// CreateForOrder opens one held entry per suborder. It is a no-op when the
// order already has entries.
func (s *Service) CreateForOrder(ctx context.Context, tx *gorm.DB, order *models.Order, sellerOrders []models.SellerOrder) ([]models.EscrowEntry, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	exists, err := s.repo.ExistsForOrder(ctx, tx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check escrow entries")
	}
	if exists {
		return nil, nil
	}

	now := s.now().UTC()
	placedAt := order.CreatedAt.UTC()
	if placedAt.IsZero() {
		placedAt = now
	}
	entries := make([]models.EscrowEntry, 0, len(sellerOrders))
	for _, so := range sellerOrders {
		held := so.Total
		entries = append(entries, models.EscrowEntry{
			OrderID:            order.ID,
			SellerOrderID:      so.ID,
			SellerID:           so.SellerID,
			HeldAmount:         held,
			CommissionAmount:   so.CommissionAmount,
			SellerPayoutAmount: held.Sub(so.CommissionAmount),
			OriginalCommission: so.CommissionAmount,
			Status:             enums.EscrowStatusHeld,
			PayoutEligibleAt:   placedAt.Add(s.delay),
			CreatedAt:          now,
		})
	}
	if err := s.repo.InsertMany(ctx, tx, entries); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create escrow entries")
	}
	return entries, nil
}

// ReleaseOrderToBuyer returns every held entry of the order to the buyer.
func (s *Service) ReleaseOrderToBuyer(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, reason string) (int64, error) {
	return s.releaseToBuyer(ctx, tx, "order_id", orderID, reason)
}

// ReleaseSellerOrderToBuyer returns a single suborder's held entry to the buyer.
func (s *Service) ReleaseSellerOrderToBuyer(ctx context.Context, tx *gorm.DB, sellerOrderID uuid.UUID, reason string) (int64, error) {
	return s.releaseToBuyer(ctx, tx, "seller_order_id", sellerOrderID, reason)
}

func (s *Service) releaseToBuyer(ctx context.Context, tx *gorm.DB, column string, id uuid.UUID, reason string) (int64, error) {
	rows, err := s.repo.ReleaseHeld(ctx, tx, column, []uuid.UUID{id}, enums.EscrowStatusReleasedToBuyer, &reason, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release escrow to buyer")
	}
	s.metrics.AddEscrowReleases("buyer", rows)
	return rows, nil
}

// ApplyRefund shrinks a held entry to the suborder's net amount and current
// commission. A fully refunded suborder releases its entry to the buyer.
func (s *Service) ApplyRefund(ctx context.Context, tx *gorm.DB, sellerOrder models.SellerOrder) error {
	entry, err := s.repo.FindBySellerOrder(ctx, tx, sellerOrder.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow entry")
	}
	if entry == nil || entry.Status != enums.EscrowStatusHeld {
		return nil
	}

	held := sellerOrder.NetAmount()
	commission := sellerOrder.CommissionAmount
	if commission.GreaterThan(held) {
		commission = held
	}
	now := s.now().UTC()
	if err := s.repo.UpdateAmounts(ctx, tx, entry.ID, held, commission, held.Sub(commission), now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update escrow entry")
	}
	if held.IsZero() {
		_, err := s.ReleaseSellerOrderToBuyer(ctx, tx, sellerOrder.ID, ReasonRefunded)
		return err
	}
	return nil
}

// MarkReleasedToSeller is reserved for the payout "mark paid" step.
func (s *Service) MarkReleasedToSeller(ctx context.Context, tx *gorm.DB, entryIDs []uuid.UUID, at time.Time) (int64, error) {
	rows, err := s.repo.ReleaseHeld(ctx, tx, "id", entryIDs, enums.EscrowStatusReleasedToSeller, nil, at.UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release escrow to seller")
	}
	s.metrics.AddEscrowReleases("seller", rows)
	return rows, nil
}

// Entries loads the given entries as they stand inside tx.
func (s *Service) Entries(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]models.EscrowEntry, error) {
	entries, err := s.repo.ListByIDs(ctx, tx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load escrow entries")
	}
	return entries, nil
}

// Payable lists entries the payout scheduler may batch at now.
func (s *Service) Payable(ctx context.Context, now time.Time) ([]models.EscrowEntry, error) {
	entries, err := s.repo.ListPayable(ctx, nil, now.UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payable escrow")
	}
	return entries, nil
}

// CreatedBetween lists a seller's entries created in [from, to).
func (s *Service) CreatedBetween(ctx context.Context, tx *gorm.DB, sellerID uuid.UUID, from, to time.Time) ([]models.EscrowEntry, error) {
	entries, err := s.repo.ListCreatedBetween(ctx, tx, sellerID, from.UTC(), to.UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list escrow entries")
	}
	return entries, nil
}
