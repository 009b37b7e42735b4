package promo

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/internal/cart"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
)

var fixedNow = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fixture struct {
	client *db.Client
	svc    *Service
	repo   *Repository
	buyer  uuid.UUID
	seller uuid.UUID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Open(t)
	cartRepo := cart.NewRepository(client.DB())
	builder := cart.NewTotalsBuilder(cartRepo, cart.NewCalculator(nil))
	repo := NewRepository(client.DB())
	svc, err := NewService(repo, client, builder, logger.New(logger.Options{ServiceName: "test", Output: io.Discard}))
	require.NoError(t, err)
	svc.now = func() time.Time { return fixedNow }

	f := fixture{client: client, svc: svc, repo: repo, buyer: uuid.New(), seller: uuid.New()}
	require.NoError(t, client.DB().Create(&models.CartItem{
		BuyerID: f.buyer, ProductID: uuid.New(), SKU: "A", ProductName: "A",
		SellerID: f.seller, SellerName: "S", UnitPrice: decimal.RequireFromString("80"), Quantity: 1,
	}).Error)
	return f
}

func (f fixture) promo(t *testing.T, code string, value string, active bool) *models.PromoCode {
	t.Helper()
	p := &models.PromoCode{
		Code:         code,
		DiscountType: enums.DiscountTypePercentage,
		Value:        decimal.RequireFromString(value),
		Active:       active,
	}
	require.NoError(t, f.repo.Create(context.Background(), p))
	return p
}

func TestApplyStoresSelectionAndDiscounts(t *testing.T) {
	f := newFixture(t)
	f.promo(t, "SPRING", "25", true)

	result, err := f.svc.Apply(context.Background(), f.buyer, " spring ")
	require.NoError(t, err)
	assert.True(t, result.Applied)
	assert.True(t, result.Totals.DiscountTotal.Equal(decimal.RequireFromString("20")))
	assert.True(t, result.Totals.Total.Equal(decimal.RequireFromString("60")))

	selection, err := f.repo.FindSelection(context.Background(), f.buyer)
	require.NoError(t, err)
	require.NotNil(t, selection)
	assert.Equal(t, "SPRING", selection.Code)
}

func TestApplyRejectsSecondCode(t *testing.T) {
	f := newFixture(t)
	f.promo(t, "ONE", "10", true)
	f.promo(t, "TWO", "20", true)
	ctx := context.Background()

	_, err := f.svc.Apply(ctx, f.buyer, "ONE")
	require.NoError(t, err)
	result, err := f.svc.Apply(ctx, f.buyer, "TWO")
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, cart.PromoReasonAlreadyApplied, result.Reason)

	require.NoError(t, f.svc.Remove(ctx, f.buyer))
	result, err = f.svc.Apply(ctx, f.buyer, "TWO")
	require.NoError(t, err)
	assert.True(t, result.Applied)
}

func TestApplyRejectsIneligibleCode(t *testing.T) {
	f := newFixture(t)
	f.promo(t, "OFF", "10", false)

	result, err := f.svc.Apply(context.Background(), f.buyer, "OFF")
	require.NoError(t, err)
	assert.False(t, result.Applied)
	assert.Equal(t, cart.PromoReasonInactive, result.Reason)

	missing, err := f.svc.Apply(context.Background(), f.buyer, "NOPE")
	require.NoError(t, err)
	assert.Equal(t, cart.PromoReasonNotFound, missing.Reason)

	selection, err := f.repo.FindSelection(context.Background(), f.buyer)
	require.NoError(t, err)
	assert.Nil(t, selection)
}

func TestReapplyClearsCodeThatBecameIneligible(t *testing.T) {
	f := newFixture(t)
	promo := f.promo(t, "FLASH", "10", true)
	ctx := context.Background()

	_, err := f.svc.Apply(ctx, f.buyer, "FLASH")
	require.NoError(t, err)
	require.NoError(t, f.client.DB().Model(promo).Update("active", false).Error)

	var totals cart.Totals
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		base := cart.NewCalculator(nil).Calculate(nil, nil, nil)
		var err error
		totals, err = f.svc.Reapply(ctx, tx, f.buyer, base)
		return err
	}))
	require.NotNil(t, totals.PromoNotice)
	assert.Equal(t, cart.PromoReasonInactive, *totals.PromoNotice)
	assert.Nil(t, totals.AppliedPromoCode)

	selection, err := f.repo.FindSelection(ctx, f.buyer)
	require.NoError(t, err)
	assert.Nil(t, selection)
}

func TestReapplyKeepsValidCode(t *testing.T) {
	f := newFixture(t)
	f.promo(t, "KEEP", "50", true)
	ctx := context.Background()
	_, err := f.svc.Apply(ctx, f.buyer, "KEEP")
	require.NoError(t, err)

	builder := cart.NewTotalsBuilder(cart.NewRepository(f.client.DB()), cart.NewCalculator(nil))
	require.NoError(t, f.client.WithTx(ctx, func(tx *gorm.DB) error {
		base, err := builder.Build(ctx, tx, f.buyer)
		if err != nil {
			return err
		}
		for i := 0; i < 2; i++ {
			totals, err := f.svc.Reapply(ctx, tx, f.buyer, base)
			if err != nil {
				return err
			}
			assert.True(t, totals.Total.Equal(decimal.RequireFromString("40")))
			require.NotNil(t, totals.AppliedPromoCode)
		}
		return nil
	}))
}
