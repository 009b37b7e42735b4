package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestRoundingModes(t *testing.T) {
	cases := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"away from zero up", Round2(d("2.345")), "2.35"},
		{"away from zero negative", Round2(d("-2.345")), "-2.35"},
		{"bank half to even down", RoundBank2(d("2.345")), "2.34"},
		{"bank half to even up", RoundBank2(d("2.355")), "2.36"},
		{"six places", Round6(d("0.0123455")), "0.012346"},
	}
	for _, tc := range cases {
		if !tc.got.Equal(d(tc.want)) {
			t.Fatalf("%s: expected %s, got %s", tc.name, tc.want, tc.got)
		}
	}
}

func TestAllocateKeepsTotal(t *testing.T) {
	shares := Allocate(d("10.00"), []decimal.Decimal{d("1"), d("1"), d("1")})
	if !Sum(shares...).Equal(d("10.00")) {
		t.Fatalf("shares %v do not sum to total", shares)
	}
	if !shares[0].Equal(d("3.33")) || !shares[2].Equal(d("3.34")) {
		t.Fatalf("unexpected split %v", shares)
	}
}

func TestAllocateSkipsZeroWeights(t *testing.T) {
	shares := Allocate(d("5"), []decimal.Decimal{d("100"), d("0")})
	if !shares[0].Equal(d("5")) || !shares[1].IsZero() {
		t.Fatalf("unexpected split %v", shares)
	}
}

func TestAllocateZeroWeightsFallsBackToLast(t *testing.T) {
	shares := Allocate(d("5"), []decimal.Decimal{d("0"), d("0")})
	if !shares[0].IsZero() || !shares[1].Equal(d("5")) {
		t.Fatalf("unexpected split %v", shares)
	}
}
