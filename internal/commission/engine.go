package commission

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/money"
)

// Result is the commission of one suborder.
type Result struct {
	Base   decimal.Decimal
	Rate   decimal.Decimal
	Amount decimal.Decimal
}

// Compute bills every item at its resolved rate and the residual (shipping less
// discount) at the seller rate. The stored rate is the effective blend.
func Compute(rates *RateResolver, sellerOrder models.SellerOrder, items []models.OrderItem) Result {
	sellerRate := rates.SellerRate(sellerOrder.SellerID)
	base := sellerOrder.Total

	amount := decimal.Zero
	itemsTotal := decimal.Zero
	for _, item := range items {
		rate := rates.ItemRate(sellerOrder.SellerID, item.Category)
		amount = amount.Add(item.LineTotal.Mul(rate))
		itemsTotal = itemsTotal.Add(item.LineTotal)
	}
	residual := base.Sub(itemsTotal)
	amount = amount.Add(residual.Mul(sellerRate))

	if base.IsZero() {
		return Result{Base: base, Rate: money.Round6(sellerRate), Amount: decimal.Zero}
	}
	amount = money.Round6(amount)
	return Result{
		Base:   base,
		Rate:   money.Round6(amount.DivRound(base, money.RatePlaces+4)),
		Amount: amount,
	}
}
