package checkout

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/packfinderz-settlement/internal/cart"
	"github.com/angelmondragon/packfinderz-settlement/internal/commission"
	"github.com/angelmondragon/packfinderz-settlement/internal/escrow"
	"github.com/angelmondragon/packfinderz-settlement/internal/orders"
	"github.com/angelmondragon/packfinderz-settlement/internal/promo"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/packfinderz-settlement/pkg/db/models"
	"github.com/angelmondragon/packfinderz-settlement/pkg/enums"
	"github.com/angelmondragon/packfinderz-settlement/pkg/logger"
	"github.com/angelmondragon/packfinderz-settlement/pkg/outbox"
)

var checkoutNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type fakeInventory struct {
	snapshots map[uuid.UUID]*InventorySnapshot
	err       error
}

func (f *fakeInventory) Snapshot(_ context.Context, productID uuid.UUID) (*InventorySnapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.snapshots[productID], nil
}

type fixture struct {
	client    *db.Client
	svc       *Service
	promos    *promo.Service
	inventory *fakeInventory
	buyer     uuid.UUID
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client := dbtest.Open(t)
	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})

	rates := commission.NewRateResolver(d("0.01"), nil, nil)
	cartRepo := cart.NewRepository(client.DB())
	builder := cart.NewTotalsBuilder(cartRepo, cart.NewCalculator(rates))
	promos, err := promo.NewService(promo.NewRepository(client.DB()), client, builder, logg)
	require.NoError(t, err)
	comm, err := commission.NewService(commission.NewRepository(client.DB()), rates)
	require.NoError(t, err)
	esc, err := escrow.NewService(escrow.NewRepository(client.DB()), 14*24*time.Hour, nil)
	require.NoError(t, err)

	inventory := &fakeInventory{snapshots: map[uuid.UUID]*InventorySnapshot{}}
	validator, err := NewValidator(cartRepo, inventory, cart.Options{AllowedCountries: []string{"ES", "PT"}})
	require.NoError(t, err)

	svc, err := NewService(Deps{
		Tx:         client,
		CartRepo:   cartRepo,
		Orders:     orders.NewRepository(client.DB()),
		Totals:     builder,
		Promos:     promos,
		Commission: comm,
		Escrow:     esc,
		Outbox:     outbox.NewService(outbox.NewRepository(client.DB()), logg),
		Validator:  validator,
		Logger:     logg,
		Currency:   "EUR",
	})
	require.NoError(t, err)
	svc.now = func() time.Time { return checkoutNow }

	return fixture{client: client, svc: svc, promos: promos, inventory: inventory, buyer: uuid.New()}
}

// addItem puts a product in the cart and registers a matching, well-stocked snapshot.
func (f fixture) addItem(t *testing.T, sellerID uuid.UUID, price string, qty int, weight string) models.CartItem {
	t.Helper()
	item := models.CartItem{
		BuyerID:     f.buyer,
		ProductID:   uuid.New(),
		SKU:         "SKU-" + price,
		ProductName: "Product " + price,
		SellerID:    sellerID,
		SellerName:  "Seller",
		UnitPrice:   d(price),
		Quantity:    qty,
		WeightKg:    d(weight),
	}
	require.NoError(t, f.client.DB().Create(&item).Error)
	f.inventory.snapshots[item.ProductID] = &InventorySnapshot{ProductID: item.ProductID, Stock: 100, Price: d(price)}
	return item
}

func (f fixture) addRule(t *testing.T, sellerID uuid.UUID, method, base string, mutate func(*models.ShippingRule)) models.ShippingRule {
	t.Helper()
	rule := models.ShippingRule{
		SellerID:         sellerID,
		Method:           method,
		BasePrice:        d(base),
		EstimatedDaysMin: 2,
		EstimatedDaysMax: 4,
		Active:           true,
	}
	if mutate != nil {
		mutate(&rule)
	}
	require.NoError(t, f.client.DB().Create(&rule).Error)
	return rule
}

func (f fixture) selectShipping(t *testing.T, sellerID uuid.UUID, method string) {
	t.Helper()
	require.NoError(t, f.client.DB().Create(&models.ShippingSelection{BuyerID: f.buyer, SellerID: sellerID, Method: method, Cost: decimal.Zero}).Error)
}

func (f fixture) selectAddress(t *testing.T, country string) {
	t.Helper()
	require.NoError(t, f.client.DB().Create(&models.DeliveryAddress{
		BuyerID: f.buyer, FullName: "Ana Buyer", Line1: "Gran Via 1", City: "Madrid", PostalCode: "28013",
		Region: "Madrid", Country: country, Selected: true,
	}).Error)
}

func (f fixture) selectPayment(t *testing.T, status enums.PaymentStatus, reference string) {
	t.Helper()
	ref := reference
	require.NoError(t, f.client.DB().Create(&models.PaymentSelection{
		BuyerID: f.buyer, Method: enums.PaymentMethodCard, Status: status, ProviderReference: &ref,
	}).Error)
}

// readyCart is one seller, 2 x 10.00 plus a 5.00 standard shipping rule,
// with every selection in place.
func (f fixture) readyCart(t *testing.T, payment enums.PaymentStatus) (uuid.UUID, models.CartItem) {
	t.Helper()
	seller := uuid.New()
	item := f.addItem(t, seller, "10.00", 2, "0.5")
	f.addRule(t, seller, "standard", "5", nil)
	f.selectShipping(t, seller, "standard")
	f.selectAddress(t, "ES")
	f.selectPayment(t, payment, "pay_"+f.buyer.String())
	return seller, item
}

func issueCodes(issues []Issue) []string {
	codes := make([]string, 0, len(issues))
	for _, issue := range issues {
		codes = append(codes, issue.Code)
	}
	return codes
}
