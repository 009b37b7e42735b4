package checkout

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/packfinderz-settlement/pkg/errors"
)

func TestValidateEmptyCartFailsFast(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Validate(context.Background(), f.buyer, ValidateOptions{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, []string{IssueCartEmpty}, issueCodes(res.Issues))
}

func TestValidateReadyCartIsValid(t *testing.T) {
	f := newFixture(t)
	f.readyCart(t, enums.PaymentStatusPending)

	res, err := f.svc.Validate(context.Background(), f.buyer, ValidateOptions{})
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Empty(t, res.Issues)
}

func TestValidatePriceChanged(t *testing.T) {
	f := newFixture(t)
	_, item := f.readyCart(t, enums.PaymentStatusPending)
	f.inventory.snapshots[item.ProductID].Price = d("12.00")

	res, err := f.svc.Validate(context.Background(), f.buyer, ValidateOptions{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	require.Len(t, res.Issues, 1)
	issue := res.Issues[0]
	assert.Equal(t, IssuePriceChanged, issue.Code)
	require.NotNil(t, issue.CurrentPrice)
	assert.True(t, issue.CurrentPrice.Equal(d("12.00")))
	require.NotNil(t, issue.ProductID)
	assert.Equal(t, item.ProductID, *issue.ProductID)
}

func TestValidateCollectsEveryIssue(t *testing.T) {
	f := newFixture(t)
	seller := uuid.New()
	f.addRule(t, seller, "standard", "5", nil)
	gone := f.addItem(t, seller, "10.00", 1, "0.5")
	short := f.addItem(t, seller, "8.00", 5, "0.5")
	delete(f.inventory.snapshots, gone.ProductID)
	f.inventory.snapshots[short.ProductID].Stock = 2
	f.inventory.snapshots[short.ProductID].Price = d("9.00")

	res, err := f.svc.Validate(context.Background(), f.buyer, ValidateOptions{})
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.ElementsMatch(t, []string{
		IssuePaymentRequired,
		IssueAddressRequired,
		IssueShippingRequired,
		IssueShippingRequired,
		IssueOutOfStock,
		IssueInsufficientStock,
		IssuePriceChanged,
	}, issueCodes(res.Issues))

	for _, issue := range res.Issues {
		if issue.Code == IssueInsufficientStock {
			require.NotNil(t, issue.AvailableStock)
			assert.Equal(t, 2, *issue.AvailableStock)
		}
	}
}

func TestValidateRequiresAuthorizedPayment(t *testing.T) {
	f := newFixture(t)
	f.readyCart(t, enums.PaymentStatusPending)

	res, err := f.svc.Validate(context.Background(), f.buyer, ValidateOptions{RequirePaymentAuthorization: true})
	require.NoError(t, err)
	assert.Equal(t, []string{IssuePaymentRequired}, issueCodes(res.Issues))
}

func TestValidateUnsupportedAddress(t *testing.T) {
	f := newFixture(t)
	seller := uuid.New()
	f.addItem(t, seller, "10.00", 1, "0.5")
	f.addRule(t, seller, "standard", "5", nil)
	f.selectShipping(t, seller, "standard")
	f.selectAddress(t, "FR")
	f.selectPayment(t, enums.PaymentStatusPending, "pay_fr")

	res, err := f.svc.Validate(context.Background(), f.buyer, ValidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{IssueAddressNotSupported}, issueCodes(res.Issues))
}

func TestValidateShippingUnavailableByWeight(t *testing.T) {
	f := newFixture(t)
	seller := uuid.New()
	f.addItem(t, seller, "10.00", 4, "0.5")
	f.addRule(t, seller, "light", "3", func(r *models.ShippingRule) {
		limit := d("1")
		r.MaxWeightKg = &limit
	})
	f.selectShipping(t, seller, "light")
	f.selectAddress(t, "ES")
	f.selectPayment(t, enums.PaymentStatusPending, "pay_heavy")

	res, err := f.svc.Validate(context.Background(), f.buyer, ValidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{IssueShippingUnavailable, IssueShippingRequired}, issueCodes(res.Issues))
	require.NotNil(t, res.Issues[0].SellerID)
	assert.Equal(t, seller, *res.Issues[0].SellerID)
	assert.Nil(t, res.Issues[1].SellerID)
}

func TestValidateStaleSelectionNeedsReselect(t *testing.T) {
	f := newFixture(t)
	seller := uuid.New()
	f.addItem(t, seller, "10.00", 1, "0.5")
	f.addRule(t, seller, "standard", "5", func(r *models.ShippingRule) { r.AllowedCountries = []string{"PT"} })
	f.addRule(t, seller, "express", "9", nil)
	f.selectShipping(t, seller, "standard")
	f.selectAddress(t, "ES")
	f.selectPayment(t, enums.PaymentStatusPending, "pay_stale")

	res, err := f.svc.Validate(context.Background(), f.buyer, ValidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{IssueShippingRequired, IssueShippingRequired}, issueCodes(res.Issues))
}

func TestValidateRepricesSelection(t *testing.T) {
	f := newFixture(t)
	seller, _ := f.readyCart(t, enums.PaymentStatusPending)

	_, err := f.svc.Validate(context.Background(), f.buyer, ValidateOptions{})
	require.NoError(t, err)

	var selection models.ShippingSelection
	require.NoError(t, f.client.DB().First(&selection, "buyer_id = ? AND seller_id = ?", f.buyer, seller).Error)
	assert.True(t, selection.Cost.Equal(d("5")))
	assert.Equal(t, "2-4", selection.EstimatedDays)
	assert.NotNil(t, selection.RuleID)
}

func TestValidateInventoryFailureIsDependencyError(t *testing.T) {
	f := newFixture(t)
	f.readyCart(t, enums.PaymentStatusPending)
	f.inventory.err = errors.New("catalog down")

	_, err := f.svc.Validate(context.Background(), f.buyer, ValidateOptions{})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}
