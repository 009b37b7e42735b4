package cart

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	"github.com/angelmondragon/packfinderz-settlement/pkg/money"
)

// Promo rejection reasons surfaced to the buyer.
const (
	PromoReasonNotFound       = "promo-not-found"
	PromoReasonInactive       = "promo-inactive"
	PromoReasonNotStarted     = "promo-not-started"
	PromoReasonExpired        = "promo-expired"
	PromoReasonNotEligible    = "promo-not-eligible"
	PromoReasonBelowMinimum   = "promo-below-minimum"
	PromoReasonAlreadyApplied = "promo-already-applied"
)

// SellerRates resolves the seller-level commission rate (override or default).
type SellerRates interface {
	SellerRate(sellerID uuid.UUID) decimal.Decimal
}

// Calculator prices a cart. It holds no state besides the rate source.
type Calculator struct {
	rates SellerRates
}

func NewCalculator(rates SellerRates) *Calculator {
	return &Calculator{rates: rates}
}

// SellerTotals is the per-seller slice of a cart.
type SellerTotals struct {
	SellerID       uuid.UUID
	SellerName     string
	Items          []models.CartItem
	Subtotal       decimal.Decimal
	WeightKg       decimal.Decimal
	Rule           *models.ShippingRule
	Shipping       decimal.Decimal
	Discount       decimal.Decimal
	Total          decimal.Decimal
	CommissionRate decimal.Decimal
	Commission     decimal.Decimal
	SellerPayout   decimal.Decimal
}

// Totals is the priced cart. Sellers keep the order of first appearance.
type Totals struct {
	Sellers           []SellerTotals
	ItemsSubtotal     decimal.Decimal
	ShippingTotal     decimal.Decimal
	DiscountTotal     decimal.Decimal
	Total             decimal.Decimal
	CommissionTotal   decimal.Decimal
	SellerPayoutTotal decimal.Decimal
	AppliedPromoCode  *string
	PromoNotice       *string
}

// Seller returns the slice for sellerID, or nil.
func (t *Totals) Seller(sellerID uuid.UUID) *SellerTotals {
	for i := range t.Sellers {
		if t.Sellers[i].SellerID == sellerID {
			return &t.Sellers[i]
		}
	}
	return nil
}

// PromoEvaluation is the outcome of checking a code against a priced cart.
type PromoEvaluation struct {
	Code     string
	Valid    bool
	Reason   string
	Discount decimal.Decimal
	SellerID *uuid.UUID
}

// Calculate groups items by seller and prices subtotal, shipping and commission.
// selections maps seller id to the chosen shipping method.
func (c *Calculator) Calculate(items []models.CartItem, rules []models.ShippingRule, selections map[uuid.UUID]string) Totals {
	order := []uuid.UUID{}
	bySeller := map[uuid.UUID]*SellerTotals{}
	for _, item := range items {
		group, ok := bySeller[item.SellerID]
		if !ok {
			group = &SellerTotals{
				SellerID:   item.SellerID,
				SellerName: item.SellerName,
				Subtotal:   decimal.Zero,
				WeightKg:   decimal.Zero,
			}
			bySeller[item.SellerID] = group
			order = append(order, item.SellerID)
		}
		group.Items = append(group.Items, item)
		group.Subtotal = group.Subtotal.Add(item.LineTotal())
		group.WeightKg = group.WeightKg.Add(item.LineWeight())
	}

	rulesBySeller := map[uuid.UUID][]models.ShippingRule{}
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		rulesBySeller[rule.SellerID] = append(rulesBySeller[rule.SellerID], rule)
	}

	totals := Totals{}
	for _, sellerID := range order {
		group := bySeller[sellerID]
		group.Subtotal = money.Round2(group.Subtotal)
		group.Rule = resolveRule(rulesBySeller[sellerID], selections[sellerID])
		group.Shipping = ShippingCost(group.Rule, group.Subtotal, group.WeightKg)
		group.Discount = decimal.Zero
		c.finishSeller(group)
		totals.Sellers = append(totals.Sellers, *group)
	}
	totals.sum()
	return totals
}

// ShippingCost is zero without a rule or once the free threshold is met,
// otherwise base plus weight times the per-kg price.
func ShippingCost(rule *models.ShippingRule, subtotal, weightKg decimal.Decimal) decimal.Decimal {
	if rule == nil {
		return decimal.Zero
	}
	if rule.FreeShippingThreshold != nil && subtotal.GreaterThanOrEqual(*rule.FreeShippingThreshold) {
		return decimal.Zero
	}
	cost := rule.BasePrice
	if rule.PerKgPrice != nil {
		cost = cost.Add(weightKg.Mul(*rule.PerKgPrice))
	}
	return money.Round2(cost)
}

func resolveRule(active []models.ShippingRule, method string) *models.ShippingRule {
	if len(active) == 0 {
		return nil
	}
	if method != "" {
		for i := range active {
			if active[i].Method == method {
				return &active[i]
			}
		}
	}
	return &active[0]
}

// EvaluatePromo checks promo against the priced cart at now.
func (c *Calculator) EvaluatePromo(promo *models.PromoCode, totals Totals, now time.Time) PromoEvaluation {
	if promo == nil {
		return PromoEvaluation{Reason: PromoReasonNotFound}
	}
	eval := PromoEvaluation{Code: promo.Code, SellerID: promo.SellerID, Discount: decimal.Zero}
	if !promo.Active {
		eval.Reason = PromoReasonInactive
		return eval
	}
	if promo.StartsAt != nil && now.Before(*promo.StartsAt) {
		eval.Reason = PromoReasonNotStarted
		return eval
	}
	if promo.EndsAt != nil && now.After(*promo.EndsAt) {
		eval.Reason = PromoReasonExpired
		return eval
	}

	eligible := totals.ItemsSubtotal
	shipping := totals.ShippingTotal
	if promo.SellerID != nil {
		seller := totals.Seller(*promo.SellerID)
		if seller == nil {
			eval.Reason = PromoReasonNotEligible
			return eval
		}
		eligible = seller.Subtotal
		shipping = seller.Shipping
	}
	if !eligible.IsPositive() {
		eval.Reason = PromoReasonNotEligible
		return eval
	}
	if promo.MinimumSubtotal != nil && eligible.LessThan(*promo.MinimumSubtotal) {
		eval.Reason = PromoReasonBelowMinimum
		return eval
	}

	var discount decimal.Decimal
	switch promo.DiscountType {
	case enums.DiscountTypePercentage:
		discount = money.RoundBank2(eligible.Mul(promo.Value).Div(money.Hundred))
	default:
		discount = promo.Value
	}
	eval.Discount = money.Min(money.NonNegative(discount), eligible.Add(shipping))
	eval.Valid = true
	return eval
}

// ApplyPromo returns a copy of totals with the evaluated discount allocated to
// sellers. A seller-scoped code lands on that seller; a global code is split
// pro-rata by seller subtotal plus shipping.
func (c *Calculator) ApplyPromo(totals Totals, eval PromoEvaluation) Totals {
	out := totals
	out.Sellers = make([]SellerTotals, len(totals.Sellers))
	copy(out.Sellers, totals.Sellers)
	if !eval.Valid {
		return out
	}

	if eval.SellerID != nil {
		for i := range out.Sellers {
			if out.Sellers[i].SellerID == *eval.SellerID {
				out.Sellers[i].Discount = eval.Discount
			} else {
				out.Sellers[i].Discount = decimal.Zero
			}
		}
	} else {
		weights := make([]decimal.Decimal, len(out.Sellers))
		for i, seller := range out.Sellers {
			weights[i] = seller.Subtotal.Add(seller.Shipping)
		}
		for i, share := range money.Allocate(eval.Discount, weights) {
			out.Sellers[i].Discount = share
		}
	}
	for i := range out.Sellers {
		c.finishSeller(&out.Sellers[i])
	}
	out.sum()
	code := eval.Code
	out.AppliedPromoCode = &code
	return out
}

func (c *Calculator) finishSeller(group *SellerTotals) {
	group.Total = group.Subtotal.Add(group.Shipping).Sub(group.Discount)
	group.CommissionRate = decimal.Zero
	if c.rates != nil {
		group.CommissionRate = c.rates.SellerRate(group.SellerID)
	}
	group.Commission = money.Round2(group.Total.Mul(group.CommissionRate))
	group.SellerPayout = group.Total.Sub(group.Commission)
}

func (t *Totals) sum() {
	t.ItemsSubtotal = decimal.Zero
	t.ShippingTotal = decimal.Zero
	t.DiscountTotal = decimal.Zero
	t.Total = decimal.Zero
	t.CommissionTotal = decimal.Zero
	t.SellerPayoutTotal = decimal.Zero
	for _, seller := range t.Sellers {
		t.ItemsSubtotal = t.ItemsSubtotal.Add(seller.Subtotal)
		t.ShippingTotal = t.ShippingTotal.Add(seller.Shipping)
		t.DiscountTotal = t.DiscountTotal.Add(seller.Discount)
		t.Total = t.Total.Add(seller.Total)
		t.CommissionTotal = t.CommissionTotal.Add(seller.Commission)
		t.SellerPayoutTotal = t.SellerPayoutTotal.Add(seller.SellerPayout)
	}
}
