package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/harborline/marketfleet-backend/internal/cart"
	"github.com/harborline/marketfleet-backend/pkg/db/models"
	"github.com/harborline/marketfleet-backend/pkg/enums"
	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
	"github.com/harborline/marketfleet-backend/pkg/logger"
	"github.com/harborline/marketfleet-backend/pkg/types"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schemas := []string{`
CREATE TABLE products (
  id TEXT PRIMARY KEY,
  seller_store_id TEXT NOT NULL,
  name TEXT NOT NULL,
  price NUMERIC NOT NULL,
  image_url TEXT NOT NULL DEFAULT '',
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE inventory_items (
  product_id TEXT PRIMARY KEY,
  available_qty INTEGER NOT NULL DEFAULT 0,
  reserved_qty INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE cart_records (
  id TEXT PRIMARY KEY,
  buyer_store_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'active',
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE cart_items (
  id TEXT PRIMARY KEY,
  cart_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  qty INTEGER NOT NULL,
  unit_price NUMERIC NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE orders (
  id TEXT PRIMARY KEY,
  buyer_store_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending_payment',
  payment_status TEXT NOT NULL DEFAULT 'pending',
  subtotal NUMERIC NOT NULL,
  discount_amount NUMERIC NOT NULL DEFAULT 0,
  tax_amount NUMERIC NOT NULL,
  shipping_cost NUMERIC NOT NULL DEFAULT 0,
  total_amount NUMERIC NOT NULL,
  shipping_address TEXT,
  notes TEXT,
  stripe_session_id TEXT,
  stripe_payment_intent_id TEXT,
  tracking_number TEXT,
  carrier TEXT,
  cancel_reason TEXT,
  cancelled_by TEXT,
  processed_at DATETIME,
  shipped_at DATETIME,
  delivered_at DATETIME,
  cancelled_at DATETIME,
  refunded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE order_line_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  seller_store_id TEXT NOT NULL,
  name TEXT NOT NULL,
  image_url TEXT NOT NULL DEFAULT '',
  unit_price NUMERIC NOT NULL,
  qty INTEGER NOT NULL,
  line_total NUMERIC NOT NULL,
  created_at DATETIME
);`}
	for _, schema := range schemas {
		require.NoError(t, db.Exec(schema).Error)
	}
	return db
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error { return fn(tx) })
}

type fakeSettlements struct {
	completed []uuid.UUID
}

func (f *fakeSettlements) MarkCompletedByOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	f.completed = append(f.completed, orderID)
	return nil
}

type fakeNotifier struct {
	cancelled []uuid.UUID
}

func (f *fakeNotifier) OrderCancelled(ctx context.Context, buyerStoreID, orderID uuid.UUID, reason string) {
	f.cancelled = append(f.cancelled, orderID)
}

func newOrdersService(t *testing.T, db *gorm.DB) (Service, *fakeSettlements, *fakeNotifier) {
	t.Helper()
	settlements := &fakeSettlements{}
	notifier := &fakeNotifier{}
	logg := logger.New(logger.Options{ServiceName: "orders-test"})
	svc, err := NewService(
		NewRepository(db),
		gormTxRunner{db: db},
		cart.NewRepository(db),
		settlements,
		notifier,
		logg,
		dec(t, "0.10"),
	)
	require.NoError(t, err)
	return svc, settlements, notifier
}

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	require.NoError(t, err)
	return d
}

func seedProduct(t *testing.T, db *gorm.DB, seller uuid.UUID, name, price string, stock int) *models.Product {
	t.Helper()
	product := &models.Product{
		ID:            uuid.New(),
		SellerStoreID: seller,
		Name:          name,
		Price:         dec(t, price),
		ImageURL:      "https://img.example/" + name,
		Active:        true,
	}
	require.NoError(t, db.Create(product).Error)
	require.NoError(t, db.Create(&models.InventoryItem{ProductID: product.ID, AvailableQty: stock}).Error)
	return product
}

func seedCart(t *testing.T, db *gorm.DB, buyer uuid.UUID, items ...models.CartItem) *models.CartRecord {
	t.Helper()
	record := &models.CartRecord{ID: uuid.New(), BuyerStoreID: buyer, Status: enums.CartStatusActive}
	require.NoError(t, db.Create(record).Error)
	for i := range items {
		items[i].ID = uuid.New()
		items[i].CartID = record.ID
		require.NoError(t, db.Create(&items[i]).Error)
	}
	return record
}

func testAddress() types.Address {
	return types.Address{
		Line1:      "500 Harbor Way",
		City:       "Oakland",
		State:      "CA",
		PostalCode: "94607",
		Country:    "US",
	}
}

func TestCreateOrderHappyPath(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	svc, _, _ := newOrdersService(t, db)
	ctx := context.Background()

	buyer := uuid.New()
	seller := uuid.New()
	product := seedProduct(t, db, seller, "deck-cleat", "100.00", 5)
	record := seedCart(t, db, buyer, models.CartItem{ProductID: product.ID, Qty: 2, UnitPrice: dec(t, "100.00")})

	order, err := svc.CreateOrder(ctx, CreateOrderInput{
		BuyerStoreID:    buyer,
		ShippingAddress: testAddress(),
		ShippingCost:    decimal.Zero,
		DiscountAmount:  decimal.Zero,
	})
	require.NoError(t, err)

	require.True(t, order.Subtotal.Equal(dec(t, "200.00")), "subtotal %s", order.Subtotal)
	require.True(t, order.TaxAmount.Equal(dec(t, "20.00")), "tax %s", order.TaxAmount)
	require.True(t, order.TotalAmount.Equal(dec(t, "220.00")), "total %s", order.TotalAmount)
	require.Equal(t, enums.OrderStatusPendingPayment, order.Status)
	require.Len(t, order.Items, 1)
	require.Equal(t, seller, order.Items[0].SellerStoreID)
	require.Equal(t, "deck-cleat", order.Items[0].Name)

	var inv models.InventoryItem
	require.NoError(t, db.First(&inv, "product_id = ?", product.ID).Error)
	require.Equal(t, 3, inv.AvailableQty)
	require.Equal(t, 2, inv.ReservedQty)

	var converted models.CartRecord
	require.NoError(t, db.First(&converted, "id = ?", record.ID).Error)
	require.Equal(t, enums.CartStatusConverted, converted.Status)

	// The cart is emptied once its lines live on as order items.
	var remaining int64
	require.NoError(t, db.Model(&models.CartItem{}).Where("cart_id = ?", record.ID).Count(&remaining).Error)
	require.Zero(t, remaining)
}

func TestReleasePlanUsesCanonicalProductOrder(t *testing.T) {
	t.Parallel()

	products := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	// Line items arrive in arbitrary order, with one product split across
	// two lines.
	items := []models.OrderLineItem{
		{ProductID: products[2], Qty: 1},
		{ProductID: products[0], Qty: 2},
		{ProductID: products[1], Qty: 3},
		{ProductID: products[0], Qty: 4},
	}

	plan := releasePlan(items)
	require.Len(t, plan, 3)

	// Same ascending id order the reservation path locks in, so a cancel
	// can never deadlock against a concurrent reservation.
	for i := 1; i < len(plan); i++ {
		require.Less(t, plan[i-1].ProductID.String(), plan[i].ProductID.String())
	}

	qty := map[uuid.UUID]int{}
	for _, req := range plan {
		qty[req.ProductID] = req.Qty
	}
	require.Equal(t, 6, qty[products[0]])
	require.Equal(t, 3, qty[products[1]])
	require.Equal(t, 1, qty[products[2]])
}

func TestCreateOrderShortageRollsBackEverything(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	svc, _, _ := newOrdersService(t, db)
	ctx := context.Background()

	buyer := uuid.New()
	seller := uuid.New()
	plenty := seedProduct(t, db, seller, "rope-50m", "25.00", 10)
	scarce := seedProduct(t, db, seller, "anchor-10kg", "150.00", 1)
	record := seedCart(t, db, buyer,
		models.CartItem{ProductID: plenty.ID, Qty: 4, UnitPrice: dec(t, "25.00")},
		models.CartItem{ProductID: scarce.ID, Qty: 2, UnitPrice: dec(t, "150.00")},
	)

	_, err := svc.CreateOrder(ctx, CreateOrderInput{
		BuyerStoreID:    buyer,
		ShippingAddress: testAddress(),
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock), "got %v", err)

	// The successful reservation on the first product must be rolled back.
	var inv models.InventoryItem
	require.NoError(t, db.First(&inv, "product_id = ?", plenty.ID).Error)
	require.Equal(t, 10, inv.AvailableQty)
	require.Equal(t, 0, inv.ReservedQty)

	var count int64
	require.NoError(t, db.Model(&models.Order{}).Count(&count).Error)
	require.Zero(t, count)

	var current models.CartRecord
	require.NoError(t, db.First(&current, "id = ?", record.ID).Error)
	require.Equal(t, enums.CartStatusActive, current.Status)
}

func TestCreateOrderEmptyCart(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	svc, _, _ := newOrdersService(t, db)

	buyer := uuid.New()
	seedCart(t, db, buyer)

	_, err := svc.CreateOrder(context.Background(), CreateOrderInput{
		BuyerStoreID:    buyer,
		ShippingAddress: testAddress(),
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestCancelOrderReleasesStockAndNotifies(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	svc, _, notifier := newOrdersService(t, db)
	ctx := context.Background()

	buyer := uuid.New()
	seller := uuid.New()
	product := seedProduct(t, db, seller, "bilge-pump", "80.00", 5)
	seedCart(t, db, buyer, models.CartItem{ProductID: product.ID, Qty: 3, UnitPrice: dec(t, "80.00")})

	order, err := svc.CreateOrder(ctx, CreateOrderInput{BuyerStoreID: buyer, ShippingAddress: testAddress()})
	require.NoError(t, err)

	require.NoError(t, svc.CancelOrder(ctx, CancelOrderInput{
		OrderID:      order.ID,
		ActorStoreID: &buyer,
		Reason:       "changed my mind",
	}))

	var inv models.InventoryItem
	require.NoError(t, db.First(&inv, "product_id = ?", product.ID).Error)
	require.Equal(t, 5, inv.AvailableQty)
	require.Equal(t, 0, inv.ReservedQty)

	var cancelled models.Order
	require.NoError(t, db.First(&cancelled, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	require.Equal(t, "changed my mind", *cancelled.CancelReason)
	require.NotNil(t, cancelled.CancelledAt)
	require.Equal(t, []uuid.UUID{order.ID}, notifier.cancelled)

	// Cancelling again is a no-op, not an error.
	require.NoError(t, svc.CancelOrder(ctx, CancelOrderInput{OrderID: order.ID, ActorStoreID: &buyer, Reason: "again"}))
}

func TestCancelOrderWrongActor(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	svc, _, _ := newOrdersService(t, db)
	ctx := context.Background()

	buyer := uuid.New()
	stranger := uuid.New()
	product := seedProduct(t, db, uuid.New(), "fender", "30.00", 4)
	seedCart(t, db, buyer, models.CartItem{ProductID: product.ID, Qty: 1, UnitPrice: dec(t, "30.00")})

	order, err := svc.CreateOrder(ctx, CreateOrderInput{BuyerStoreID: buyer, ShippingAddress: testAddress()})
	require.NoError(t, err)

	err = svc.CancelOrder(ctx, CancelOrderInput{OrderID: order.ID, ActorStoreID: &stranger, Reason: "nope"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)
}

func TestConfirmPaymentIdempotent(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	svc, _, _ := newOrdersService(t, db)
	ctx := context.Background()

	buyer := uuid.New()
	product := seedProduct(t, db, uuid.New(), "chart-plotter", "500.00", 2)
	seedCart(t, db, buyer, models.CartItem{ProductID: product.ID, Qty: 1, UnitPrice: dec(t, "500.00")})
	order, err := svc.CreateOrder(ctx, CreateOrderInput{BuyerStoreID: buyer, ShippingAddress: testAddress()})
	require.NoError(t, err)

	var firstProcessed *time.Time
	err = db.Transaction(func(tx *gorm.DB) error {
		confirmed, already, cerr := svc.ConfirmPaymentTx(ctx, tx, order.ID, "pi_123")
		require.NoError(t, cerr)
		require.False(t, already)
		require.Equal(t, enums.OrderStatusPaymentConfirmed, confirmed.Status)
		firstProcessed = confirmed.ProcessedAt
		return nil
	})
	require.NoError(t, err)
	require.NotNil(t, firstProcessed)

	err = db.Transaction(func(tx *gorm.DB) error {
		confirmed, already, cerr := svc.ConfirmPaymentTx(ctx, tx, order.ID, "pi_123")
		require.NoError(t, cerr)
		require.True(t, already)
		require.NotNil(t, confirmed.ProcessedAt)
		require.True(t, confirmed.ProcessedAt.Equal(*firstProcessed), "processed_at must not move on redelivery")
		return nil
	})
	require.NoError(t, err)
}

func TestShippingAndDeliveryFlow(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	svc, settlements, _ := newOrdersService(t, db)
	ctx := context.Background()

	buyer := uuid.New()
	seller := uuid.New()
	product := seedProduct(t, db, seller, "vhf-radio", "220.00", 3)
	seedCart(t, db, buyer, models.CartItem{ProductID: product.ID, Qty: 1, UnitPrice: dec(t, "220.00")})
	order, err := svc.CreateOrder(ctx, CreateOrderInput{BuyerStoreID: buyer, ShippingAddress: testAddress()})
	require.NoError(t, err)

	// Shipping before payment confirmation is rejected.
	err = svc.UpdateShipping(ctx, ShippingUpdateInput{
		OrderID:        order.ID,
		SellerStoreID:  seller,
		TrackingNumber: "1Z999",
		Carrier:        "ups",
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		_, _, cerr := svc.ConfirmPaymentTx(ctx, tx, order.ID, "pi_ship")
		return cerr
	}))

	require.NoError(t, svc.UpdateShipping(ctx, ShippingUpdateInput{
		OrderID:        order.ID,
		SellerStoreID:  seller,
		TrackingNumber: "1Z999",
		Carrier:        "ups",
	}))

	err = svc.UpdateShipping(ctx, ShippingUpdateInput{
		OrderID:        order.ID,
		SellerStoreID:  uuid.New(),
		TrackingNumber: "1Z000",
		Carrier:        "ups",
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	require.NoError(t, svc.MarkDelivered(ctx, order.ID))
	require.Equal(t, []uuid.UUID{order.ID}, settlements.completed)

	var final models.Order
	require.NoError(t, db.First(&final, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusDelivered, final.Status)
	require.NotNil(t, final.DeliveredAt)
}
