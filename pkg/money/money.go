// Package money holds the rounding and allocation rules shared by pricing,
// commission and invoicing.
package money

import "github.com/shopspring/decimal"

const (
	// CurrencyPlaces is the precision of customer-facing amounts.
	CurrencyPlaces = 2
	// RatePlaces is the precision of commission rates and commission amounts.
	RatePlaces = 6
)

var (
	Zero    = decimal.Zero
	Hundred = decimal.NewFromInt(100)
)

// Round2 rounds half away from zero to cents.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(CurrencyPlaces)
}

// RoundBank2 rounds half to even to cents.
func RoundBank2(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(CurrencyPlaces)
}

// Round6 rounds half away from zero to six places.
func Round6(d decimal.Decimal) decimal.Decimal {
	return d.Round(RatePlaces)
}

// Sum adds the provided amounts.
func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// Min returns the smaller amount.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// NonNegative clamps negative amounts to zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// Allocate splits total across weights proportionally, rounding each share to
// cents. The last non-zero weight absorbs the rounding remainder so the shares
// always sum to total.
func Allocate(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	shares := make([]decimal.Decimal, len(weights))
	for i := range shares {
		shares[i] = decimal.Zero
	}
	weightSum := Sum(weights...)
	if len(weights) == 0 || total.IsZero() {
		return shares
	}
	last := -1
	for i, w := range weights {
		if w.IsPositive() {
			last = i
		}
	}
	if !weightSum.IsPositive() || last < 0 {
		shares[len(shares)-1] = total
		return shares
	}
	allocated := decimal.Zero
	for i, w := range weights {
		if i == last {
			break
		}
		if !w.IsPositive() {
			continue
		}
		share := Round2(total.Mul(w).Div(weightSum))
		shares[i] = share
		allocated = allocated.Add(share)
	}
	shares[last] = total.Sub(allocated)
	return shares
}
