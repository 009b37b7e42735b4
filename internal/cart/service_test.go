package cart

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
)

type passthroughPromos struct {
	calls int
}

func (p *passthroughPromos) Reapply(_ context.Context, _ *gorm.DB, _ uuid.UUID, totals Totals) (Totals, error) {
	p.calls++
	return totals, nil
}

func newTestService(t *testing.T) (Service, *db.Client, *passthroughPromos) {
	t.Helper()
	client := dbtest.Open(t)
	repo := NewRepository(client.DB())
	promos := &passthroughPromos{}
	svc, err := NewService(repo, client, NewTotalsBuilder(repo, NewCalculator(flatRates{rate: dec("0.1")})), promos, Options{AllowedCountries: []string{"DE", "AT"}})
	require.NoError(t, err)
	return svc, client, promos
}

func addInput(productID, sellerID uuid.UUID, qty int) AddItemInput {
	return AddItemInput{
		ProductID:   productID,
		SKU:         "SKU-1",
		ProductName: "Widget",
		SellerID:    sellerID,
		SellerName:  "Acme",
		UnitPrice:   dec("12.50"),
		Quantity:    qty,
		WeightKg:    dec("0.5"),
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	_, err := NewService(nil, nil, nil, nil, Options{})
	require.Error(t, err)
}

func TestAddItemMergesQuantity(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	buyer, product, seller := uuid.New(), uuid.New(), uuid.New()

	first, err := svc.AddItem(ctx, buyer, addInput(product, seller, 2))
	require.NoError(t, err)
	second, err := svc.AddItem(ctx, buyer, addInput(product, seller, 3))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 5, second.Quantity)

	items, err := svc.ListItems(ctx, buyer)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 5, items[0].Quantity)
}

func TestAddItemRejectsNonPositiveQuantity(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.AddItem(context.Background(), uuid.New(), addInput(uuid.New(), uuid.New(), 0))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestUpdateQuantityValidatesAndPersists(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	buyer := uuid.New()
	item, err := svc.AddItem(ctx, buyer, addInput(uuid.New(), uuid.New(), 1))
	require.NoError(t, err)

	_, err = svc.UpdateQuantity(ctx, buyer, item.ID, -1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.UpdateQuantity(ctx, uuid.New(), item.ID, 4)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	updated, err := svc.UpdateQuantity(ctx, buyer, item.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Quantity)
}

func TestRemoveItem(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	buyer := uuid.New()
	item, err := svc.AddItem(ctx, buyer, addInput(uuid.New(), uuid.New(), 1))
	require.NoError(t, err)

	require.NoError(t, svc.RemoveItem(ctx, buyer, item.ID))
	err = svc.RemoveItem(ctx, buyer, item.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSelectAddressKeepsSingleSelection(t *testing.T) {
	svc, client, _ := newTestService(t)
	ctx := context.Background()
	buyer := uuid.New()
	input := AddressInput{FullName: "Jo", Line1: "Main 1", City: "Berlin", PostalCode: "10115", Country: "de"}

	first, err := svc.AddAddress(ctx, buyer, input)
	require.NoError(t, err)
	assert.Equal(t, "DE", first.Country)
	second, err := svc.AddAddress(ctx, buyer, input)
	require.NoError(t, err)

	require.NoError(t, svc.SelectAddress(ctx, buyer, first.ID))
	require.NoError(t, svc.SelectAddress(ctx, buyer, second.ID))

	var selected []models.DeliveryAddress
	require.NoError(t, client.DB().Where("buyer_id = ? AND selected = ?", buyer, true).Find(&selected).Error)
	require.Len(t, selected, 1)
	assert.Equal(t, second.ID, selected[0].ID)
}

func TestSelectAddressRejectsUnsupportedCountry(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	buyer := uuid.New()
	address, err := svc.AddAddress(ctx, buyer, AddressInput{FullName: "Jo", Line1: "Rue 1", City: "Paris", PostalCode: "75001", Country: "FR"})
	require.NoError(t, err)

	err = svc.SelectAddress(ctx, buyer, address.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = svc.SelectAddress(ctx, uuid.New(), address.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestSelectShippingStoresComputedCost(t *testing.T) {
	svc, client, _ := newTestService(t)
	ctx := context.Background()
	buyer, seller := uuid.New(), uuid.New()
	_, err := svc.AddItem(ctx, buyer, addInput(uuid.New(), seller, 2))
	require.NoError(t, err)
	perKg := dec("2")
	require.NoError(t, client.DB().Create(&models.ShippingRule{
		SellerID: seller, Method: "standard", BasePrice: dec("4"), PerKgPrice: &perKg,
		EstimatedDaysMin: 2, EstimatedDaysMax: 4, Active: true,
	}).Error)

	selection, err := svc.SelectShipping(ctx, buyer, seller, "standard")
	require.NoError(t, err)
	assert.True(t, selection.Cost.Equal(dec("6")), "cost %s", selection.Cost)
	assert.Equal(t, "2-4", selection.EstimatedDays)

	_, err = svc.SelectShipping(ctx, buyer, seller, "standard")
	require.NoError(t, err)
	var count int64
	require.NoError(t, client.DB().Model(&models.ShippingSelection{}).Where("buyer_id = ?", buyer).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	_, err = svc.SelectShipping(ctx, buyer, seller, "teleport")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = svc.SelectShipping(ctx, buyer, uuid.New(), "standard")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestSelectPaymentUpserts(t *testing.T) {
	svc, client, _ := newTestService(t)
	ctx := context.Background()
	buyer := uuid.New()
	ref := "pay_123"

	_, err := svc.SelectPayment(ctx, buyer, SelectPaymentInput{Method: enums.PaymentMethodCard})
	require.NoError(t, err)
	_, err = svc.SelectPayment(ctx, buyer, SelectPaymentInput{Method: enums.PaymentMethodWallet, ProviderReference: &ref})
	require.NoError(t, err)

	var rows []models.PaymentSelection
	require.NoError(t, client.DB().Where("buyer_id = ?", buyer).Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.PaymentMethodWallet, rows[0].Method)
	assert.Equal(t, enums.PaymentStatusPending, rows[0].Status)

	_, err = svc.SelectPayment(ctx, buyer, SelectPaymentInput{Method: "cheque"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestTotalsRunsPromoHook(t *testing.T) {
	svc, _, promos := newTestService(t)
	ctx := context.Background()
	buyer := uuid.New()
	_, err := svc.AddItem(ctx, buyer, addInput(uuid.New(), uuid.New(), 4))
	require.NoError(t, err)

	totals, err := svc.Totals(ctx, buyer)
	require.NoError(t, err)
	assert.True(t, totals.Total.Equal(dec("50")))
	assert.True(t, totals.CommissionTotal.Equal(dec("5")))
	assert.Equal(t, 1, promos.calls)
}
