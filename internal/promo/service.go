package promo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/internal/cart"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type totalsBuilder interface {
	Build(ctx context.Context, tx *gorm.DB, buyerID uuid.UUID) (cart.Totals, error)
	Calculator() *cart.Calculator
}

// ApplyResult reports whether a code was accepted. Rejections are results, not errors.
type ApplyResult struct {
	Applied bool
	Code    string
	Reason  string
	Totals  cart.Totals
}

// Service enforces one promo code per buyer and keeps it honest on every totals fetch.
type Service struct {
	repo    *Repository
	tx      txRunner
	builder totalsBuilder
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(repo *Repository, tx txRunner, builder totalsBuilder, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("promo repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if builder == nil {
		return nil, fmt.Errorf("totals builder required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Service{repo: repo, tx: tx, builder: builder, logg: logg, now: time.Now}, nil
}

// Apply validates code against the current cart and stores it as the buyer's selection.
// A different code already selected must be removed first.
func (s *Service) Apply(ctx context.Context, buyerID uuid.UUID, code string) (ApplyResult, error) {
	code = NormalizeCode(code)
	if buyerID == uuid.Nil || code == "" {
		return ApplyResult{}, pkgerrors.New(pkgerrors.CodeValidation, "buyer id and code are required")
	}

	var result ApplyResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		current, err := repo.FindSelection(ctx, buyerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promo selection")
		}

		totals, err := s.builder.Build(ctx, tx, buyerID)
		if err != nil {
			return err
		}
		result = ApplyResult{Code: code, Totals: totals}
		if current != nil && current.Code != code {
			result.Reason = cart.PromoReasonAlreadyApplied
			return nil
		}

		promo, err := repo.FindByCode(ctx, code)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promo code")
		}
		calc := s.builder.Calculator()
		eval := calc.EvaluatePromo(promo, totals, s.now().UTC())
		if !eval.Valid {
			result.Reason = eval.Reason
			return nil
		}
		if err := repo.SaveSelection(ctx, buyerID, code, s.now().UTC()); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save promo selection")
		}
		result.Applied = true
		result.Totals = calc.ApplyPromo(totals, eval)
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return result, nil
}

// Remove clears whatever code the buyer has selected.
func (s *Service) Remove(ctx context.Context, buyerID uuid.UUID) error {
	if err := s.repo.DeleteSelection(ctx, buyerID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete promo selection")
	}
	return nil
}

// Reapply re-validates the selected code against totals. An ineligible code is
// cleared and the reason is surfaced on the returned totals.
func (s *Service) Reapply(ctx context.Context, tx *gorm.DB, buyerID uuid.UUID, totals cart.Totals) (cart.Totals, error) {
	repo := s.repo.WithTx(tx)
	selection, err := repo.FindSelection(ctx, buyerID)
	if err != nil {
		return totals, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promo selection")
	}
	if selection == nil {
		return totals, nil
	}

	promo, err := repo.FindByCode(ctx, selection.Code)
	if err != nil {
		return totals, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load promo code")
	}
	calc := s.builder.Calculator()
	eval := calc.EvaluatePromo(promo, totals, s.now().UTC())
	if eval.Valid {
		return calc.ApplyPromo(totals, eval), nil
	}

	if err := repo.DeleteSelection(ctx, buyerID); err != nil {
		return totals, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear promo selection")
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"buyer_id": buyerID.String(),
		"code":     selection.Code,
		"reason":   eval.Reason,
	})
	s.logg.Info(logCtx, "promo selection cleared")
	reason := eval.Reason
	totals.PromoNotice = &reason
	return totals, nil
}

// ClearSelection drops the buyer's selection inside tx; used once an order is placed.
func (s *Service) ClearSelection(ctx context.Context, tx *gorm.DB, buyerID uuid.UUID) error {
	if err := s.repo.WithTx(tx).DeleteSelection(ctx, buyerID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear promo selection")
	}
	return nil
}
