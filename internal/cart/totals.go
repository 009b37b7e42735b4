package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
)

// TotalsBuilder loads a buyer's cart and prices it without any promo applied.
type TotalsBuilder struct {
	repo CartRepository
	calc *Calculator
}

func NewTotalsBuilder(repo CartRepository, calc *Calculator) *TotalsBuilder {
	return &TotalsBuilder{repo: repo, calc: calc}
}

// Calculator exposes the pricing rules used by the builder.
func (b *TotalsBuilder) Calculator() *Calculator {
	return b.calc
}

// Build prices the cart of buyerID using the stored shipping selections.
func (b *TotalsBuilder) Build(ctx context.Context, tx *gorm.DB, buyerID uuid.UUID) (Totals, error) {
	repo := b.repo
	if tx != nil {
		repo = repo.WithTx(tx)
	}
	items, err := repo.ListItems(ctx, buyerID)
	if err != nil {
		return Totals{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list cart items")
	}
	if len(items) == 0 {
		return b.calc.Calculate(nil, nil, nil), nil
	}

	sellerIDs := make([]uuid.UUID, 0, len(items))
	seen := map[uuid.UUID]struct{}{}
	for _, item := range items {
		if _, ok := seen[item.SellerID]; ok {
			continue
		}
		seen[item.SellerID] = struct{}{}
		sellerIDs = append(sellerIDs, item.SellerID)
	}

	rules, err := repo.ListRulesForSellers(ctx, sellerIDs)
	if err != nil {
		return Totals{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shipping rules")
	}
	selections, err := repo.ListShippingSelections(ctx, buyerID)
	if err != nil {
		return Totals{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list shipping selections")
	}
	methods := make(map[uuid.UUID]string, len(selections))
	for _, sel := range selections {
		methods[sel.SellerID] = sel.Method
	}
	return b.calc.Calculate(items, rules, methods), nil
}
