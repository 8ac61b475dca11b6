package payments

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/harborline/marketfleet-backend/internal/cart"
	"github.com/harborline/marketfleet-backend/internal/orders"
	"github.com/harborline/marketfleet-backend/pkg/db/models"
	"github.com/harborline/marketfleet-backend/pkg/enums"
	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
	"github.com/harborline/marketfleet-backend/pkg/logger"
	stripegw "github.com/harborline/marketfleet-backend/pkg/stripe"
)

func setupPaymentsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:payments_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	schemas := []string{`
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
);`, `
CREATE TABLE payment_transactions (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  seller_store_id TEXT NOT NULL,
  gross_amount NUMERIC NOT NULL,
  platform_fee NUMERIC NOT NULL,
  net_amount NUMERIC NOT NULL,
  status TEXT NOT NULL DEFAULT 'processing',
  payed_out INTEGER NOT NULL DEFAULT 0,
  stripe_transfer_id TEXT,
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
CREATE TABLE inventory_items (
  product_id TEXT PRIMARY KEY,
  available_qty INTEGER NOT NULL DEFAULT 0,
  reserved_qty INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
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

type fakeGateway struct {
	session     *stripegw.CheckoutSession
	sessionErr  error
	intent      *stripe.PaymentIntent
	intentErr   error
	intentCalls int
	refund      *stripe.Refund
	refundErr   error
	refundCalls int
}

func (f *fakeGateway) CreateCheckoutSession(ctx context.Context, input stripegw.CheckoutSessionInput) (*stripegw.CheckoutSession, error) {
	if f.sessionErr != nil {
		return nil, f.sessionErr
	}
	return f.session, nil
}

func (f *fakeGateway) RetrieveSession(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not implemented in fake")
}

func (f *fakeGateway) RetrievePaymentIntent(ctx context.Context, intentID string) (*stripe.PaymentIntent, error) {
	f.intentCalls++
	if f.intentErr != nil {
		return nil, f.intentErr
	}
	if f.intent == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "no intent configured in fake")
	}
	return f.intent, nil
}

func (f *fakeGateway) CreateRefund(ctx context.Context, input stripegw.RefundInput) (*stripe.Refund, error) {
	f.refundCalls++
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	return f.refund, nil
}

func (f *fakeGateway) CreateTransfer(ctx context.Context, input stripegw.TransferInput) (*stripe.Transfer, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not implemented in fake")
}

func (f *fakeGateway) VerifyWebhook(payload []byte, sigHeader string) (stripe.Event, error) {
	return stripe.Event{}, pkgerrors.New(pkgerrors.CodeInternal, "not implemented in fake")
}

func (f *fakeGateway) SigningSecretConfigured() bool { return true }

type fakeRefundNotifier struct {
	succeeded []uuid.UUID
	failed    []uuid.UUID
}

func (f *fakeRefundNotifier) RefundSucceeded(ctx context.Context, buyerStoreID, orderID uuid.UUID) {
	f.succeeded = append(f.succeeded, orderID)
}

func (f *fakeRefundNotifier) RefundFailed(ctx context.Context, buyerStoreID, orderID uuid.UUID) {
	f.failed = append(f.failed, orderID)
}

func paidIntent(orderID uuid.UUID, intentID string) *stripe.PaymentIntent {
	return &stripe.PaymentIntent{
		ID:       intentID,
		Status:   stripe.PaymentIntentStatusSucceeded,
		Metadata: map[string]string{stripegw.MetadataOrderID: orderID.String()},
	}
}

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	require.NoError(t, err)
	return d
}

func newPaymentsService(t *testing.T, db *gorm.DB, gateway *fakeGateway) (Service, *fakeRefundNotifier) {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "payments-test"})
	ordersSvc, err := orders.NewService(
		orders.NewRepository(db),
		gormTxRunner{db: db},
		cart.NewRepository(db),
		NewSettlementMarker(),
		nil,
		logg,
		dec(t, "0.10"),
	)
	require.NoError(t, err)

	notifier := &fakeRefundNotifier{}
	svc, err := NewService(
		NewRepository(db),
		orders.NewRepository(db),
		ordersSvc,
		gateway,
		gormTxRunner{db: db},
		notifier,
		nil,
		logg,
		dec(t, "0.10"),
		"https://app.example/checkout/success",
		"https://app.example/checkout/cancel",
	)
	require.NoError(t, err)
	return svc, notifier
}

func seedOrder(t *testing.T, db *gorm.DB, buyer uuid.UUID, status enums.OrderStatus, paymentStatus enums.PaymentStatus, items ...models.OrderLineItem) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:             uuid.New(),
		BuyerStoreID:   buyer,
		Status:         status,
		PaymentStatus:  paymentStatus,
		Subtotal:       dec(t, "150.00"),
		DiscountAmount: decimal.Zero,
		TaxAmount:      dec(t, "15.00"),
		ShippingCost:   decimal.Zero,
		TotalAmount:    dec(t, "165.00"),
	}
	require.NoError(t, db.Create(order).Error)
	for i := range items {
		items[i].ID = uuid.New()
		items[i].OrderID = order.ID
		require.NoError(t, db.Create(&items[i]).Error)
		order.Items = append(order.Items, items[i])
	}
	return order
}

func lineItem(t *testing.T, seller uuid.UUID, name, unitPrice string, qty int) models.OrderLineItem {
	t.Helper()
	price := dec(t, unitPrice)
	return models.OrderLineItem{
		ProductID:     uuid.New(),
		SellerStoreID: seller,
		Name:          name,
		UnitPrice:     price,
		Qty:           qty,
		LineTotal:     price.Mul(decimal.NewFromInt(int64(qty))),
	}
}

func TestConfirmPaymentFansOutPerSeller(t *testing.T) {
	t.Parallel()

	db := setupPaymentsTestDB(t)
	gateway := &fakeGateway{}
	svc, _ := newPaymentsService(t, db, gateway)
	ctx := context.Background()

	sellerA := uuid.New()
	sellerB := uuid.New()
	order := seedOrder(t, db, uuid.New(), enums.OrderStatusPendingPayment, enums.PaymentStatusPending,
		lineItem(t, sellerA, "winch", "50.00", 2),
		lineItem(t, sellerB, "cleat", "50.00", 1),
	)
	gateway.intent = paidIntent(order.ID, "pi_fan_out")

	require.NoError(t, svc.ConfirmPayment(ctx, order.ID, "pi_fan_out"))

	var transactions []models.PaymentTransaction
	require.NoError(t, db.Order("created_at ASC").Find(&transactions, "order_id = ?", order.ID).Error)
	require.Len(t, transactions, 2)

	bySeller := map[uuid.UUID]models.PaymentTransaction{}
	for _, txn := range transactions {
		bySeller[txn.SellerStoreID] = txn
		require.Equal(t, enums.TransactionStatusProcessing, txn.Status)
		require.False(t, txn.PayedOut)
	}
	require.True(t, bySeller[sellerA].GrossAmount.Equal(dec(t, "100.00")))
	require.True(t, bySeller[sellerA].PlatformFee.Equal(dec(t, "10.00")))
	require.True(t, bySeller[sellerA].NetAmount.Equal(dec(t, "90.00")))
	require.True(t, bySeller[sellerB].GrossAmount.Equal(dec(t, "50.00")))
	require.True(t, bySeller[sellerB].NetAmount.Equal(dec(t, "45.00")))

	// A redelivered confirmation must not duplicate the fan-out.
	require.NoError(t, svc.ConfirmPayment(ctx, order.ID, "pi_fan_out"))
	var count int64
	require.NoError(t, db.Model(&models.PaymentTransaction{}).Where("order_id = ?", order.ID).Count(&count).Error)
	require.EqualValues(t, 2, count)
}

func TestConfirmPaymentRequiresSucceededIntent(t *testing.T) {
	t.Parallel()

	db := setupPaymentsTestDB(t)
	gateway := &fakeGateway{}
	svc, _ := newPaymentsService(t, db, gateway)
	ctx := context.Background()

	order := seedOrder(t, db, uuid.New(), enums.OrderStatusPendingPayment, enums.PaymentStatusPending,
		lineItem(t, uuid.New(), "tiller", "150.00", 1))

	requireStillPending := func() {
		t.Helper()
		var stored models.Order
		require.NoError(t, db.First(&stored, "id = ?", order.ID).Error)
		require.Equal(t, enums.OrderStatusPendingPayment, stored.Status)
		require.Equal(t, enums.PaymentStatusPending, stored.PaymentStatus)
		var count int64
		require.NoError(t, db.Model(&models.PaymentTransaction{}).Where("order_id = ?", order.ID).Count(&count).Error)
		require.Zero(t, count)
	}

	// A gateway failure must leave the order untouched, never confirm blind.
	gateway.intentErr = pkgerrors.New(pkgerrors.CodeProvider, "stripe unavailable")
	err := svc.ConfirmPayment(ctx, order.ID, "pi_gate")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeProvider), "got %v", err)
	requireStillPending()
	gateway.intentErr = nil

	// checkout.session.completed can arrive while the intent is still
	// settling; a not-yet-succeeded intent must not flip the order.
	gateway.intent = &stripe.PaymentIntent{
		ID:       "pi_gate",
		Status:   stripe.PaymentIntentStatusProcessing,
		Metadata: map[string]string{stripegw.MetadataOrderID: order.ID.String()},
	}
	err = svc.ConfirmPayment(ctx, order.ID, "pi_gate")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidPaymentData), "got %v", err)
	requireStillPending()

	// An intent without order metadata is not trusted.
	gateway.intent = &stripe.PaymentIntent{ID: "pi_gate", Status: stripe.PaymentIntentStatusSucceeded}
	err = svc.ConfirmPayment(ctx, order.ID, "pi_gate")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidPaymentData), "got %v", err)
	requireStillPending()

	// Neither is one that names a different order.
	gateway.intent = paidIntent(uuid.New(), "pi_gate")
	err = svc.ConfirmPayment(ctx, order.ID, "pi_gate")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidPaymentData), "got %v", err)
	requireStillPending()

	gateway.intent = paidIntent(order.ID, "pi_gate")
	require.NoError(t, svc.ConfirmPayment(ctx, order.ID, "pi_gate"))
	require.GreaterOrEqual(t, gateway.intentCalls, 4)
}

func TestRefundOutcomeRedeliveredNotifiesOnce(t *testing.T) {
	t.Parallel()

	db := setupPaymentsTestDB(t)
	gateway := &fakeGateway{}
	svc, notifier := newPaymentsService(t, db, gateway)
	ctx := context.Background()

	buyer := uuid.New()
	order := seedOrder(t, db, buyer, enums.OrderStatusPendingPayment, enums.PaymentStatusPending,
		lineItem(t, uuid.New(), "halyard", "150.00", 1))
	gateway.intent = paidIntent(order.ID, "pi_redelivered")
	require.NoError(t, svc.ConfirmPayment(ctx, order.ID, "pi_redelivered"))

	// charge.refunded and refund.updated carry distinct event ids, so the
	// same refund outcome reaches us twice; the buyer hears about it once.
	require.NoError(t, svc.ApplyRefundSucceeded(ctx, "pi_redelivered"))
	require.NoError(t, svc.ApplyRefundSucceeded(ctx, "pi_redelivered"))

	require.Equal(t, []uuid.UUID{order.ID}, notifier.succeeded)

	var stored models.Order
	require.NoError(t, db.First(&stored, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusRefunded, stored.Status)

	var transactions []models.PaymentTransaction
	require.NoError(t, db.Find(&transactions, "order_id = ?", order.ID).Error)
	for _, txn := range transactions {
		require.Equal(t, enums.TransactionStatusRefunded, txn.Status)
	}
}

func TestInitiatePayment(t *testing.T) {
	t.Parallel()

	db := setupPaymentsTestDB(t)
	gateway := &fakeGateway{session: &stripegw.CheckoutSession{ID: "cs_123", URL: "https://pay.example/cs_123"}}
	svc, _ := newPaymentsService(t, db, gateway)
	ctx := context.Background()

	buyer := uuid.New()
	order := seedOrder(t, db, buyer, enums.OrderStatusPendingPayment, enums.PaymentStatusPending,
		lineItem(t, uuid.New(), "compass", "150.00", 1))

	session, err := svc.InitiatePayment(ctx, InitiatePaymentInput{OrderID: order.ID, ActorStoreID: buyer})
	require.NoError(t, err)
	require.Equal(t, "cs_123", session.ID)

	var stored models.Order
	require.NoError(t, db.First(&stored, "id = ?", order.ID).Error)
	require.NotNil(t, stored.StripeSessionID)
	require.Equal(t, "cs_123", *stored.StripeSessionID)

	_, err = svc.InitiatePayment(ctx, InitiatePaymentInput{OrderID: order.ID, ActorStoreID: uuid.New()})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden), "got %v", err)

	paid := seedOrder(t, db, buyer, enums.OrderStatusPaymentConfirmed, enums.PaymentStatusPaid,
		lineItem(t, uuid.New(), "flare-kit", "40.00", 1))
	_, err = svc.InitiatePayment(ctx, InitiatePaymentInput{OrderID: paid.ID, ActorStoreID: buyer})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict), "got %v", err)
}

func TestRefundPaymentGatewayFailureLeavesStateUntouched(t *testing.T) {
	t.Parallel()

	db := setupPaymentsTestDB(t)
	gateway := &fakeGateway{refundErr: pkgerrors.New(pkgerrors.CodeProvider, "stripe unavailable")}
	svc, notifier := newPaymentsService(t, db, gateway)
	ctx := context.Background()

	buyer := uuid.New()
	order := seedOrder(t, db, buyer, enums.OrderStatusPendingPayment, enums.PaymentStatusPending,
		lineItem(t, uuid.New(), "gps", "150.00", 1))
	gateway.intent = paidIntent(order.ID, "pi_refund_fail")
	require.NoError(t, svc.ConfirmPayment(ctx, order.ID, "pi_refund_fail"))

	err := svc.RefundPayment(ctx, RefundPaymentInput{OrderID: order.ID, ActorStoreID: &buyer, Reason: "damaged"})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeProvider), "got %v", err)

	var stored models.Order
	require.NoError(t, db.First(&stored, "id = ?", order.ID).Error)
	require.Equal(t, enums.PaymentStatusPaid, stored.PaymentStatus)
	require.Equal(t, enums.OrderStatusPaymentConfirmed, stored.Status)

	var transactions []models.PaymentTransaction
	require.NoError(t, db.Find(&transactions, "order_id = ?", order.ID).Error)
	for _, txn := range transactions {
		require.Equal(t, enums.TransactionStatusProcessing, txn.Status)
	}
	require.Empty(t, notifier.succeeded)
	require.Empty(t, notifier.failed)
}

func TestRefundPaymentSynchronousSuccess(t *testing.T) {
	t.Parallel()

	db := setupPaymentsTestDB(t)
	gateway := &fakeGateway{refund: &stripe.Refund{ID: "re_1", Status: stripe.RefundStatusSucceeded}}
	svc, notifier := newPaymentsService(t, db, gateway)
	ctx := context.Background()

	buyer := uuid.New()
	order := seedOrder(t, db, buyer, enums.OrderStatusPendingPayment, enums.PaymentStatusPending,
		lineItem(t, uuid.New(), "anchor", "150.00", 1))
	gateway.intent = paidIntent(order.ID, "pi_refund_ok")
	require.NoError(t, svc.ConfirmPayment(ctx, order.ID, "pi_refund_ok"))

	require.NoError(t, svc.RefundPayment(ctx, RefundPaymentInput{OrderID: order.ID, ActorStoreID: &buyer, Reason: "returned"}))

	var stored models.Order
	require.NoError(t, db.First(&stored, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusRefunded, stored.Status)
	require.Equal(t, enums.PaymentStatusRefunded, stored.PaymentStatus)
	require.NotNil(t, stored.RefundedAt)

	var transactions []models.PaymentTransaction
	require.NoError(t, db.Find(&transactions, "order_id = ?", order.ID).Error)
	for _, txn := range transactions {
		require.Equal(t, enums.TransactionStatusRefunded, txn.Status)
	}
	require.Equal(t, []uuid.UUID{order.ID}, notifier.succeeded)

	// Stripe may redeliver the refund outcome; bookkeeping must hold still
	// and the buyer is not notified a second time.
	require.NoError(t, svc.ApplyRefundSucceeded(ctx, "pi_refund_ok"))
	require.Equal(t, []uuid.UUID{order.ID}, notifier.succeeded)
}

func TestRefundPaymentRequiresIntent(t *testing.T) {
	t.Parallel()

	db := setupPaymentsTestDB(t)
	svc, _ := newPaymentsService(t, db, &fakeGateway{})
	ctx := context.Background()

	buyer := uuid.New()
	order := seedOrder(t, db, buyer, enums.OrderStatusPaymentConfirmed, enums.PaymentStatusPaid,
		lineItem(t, uuid.New(), "rope", "150.00", 1))

	err := svc.RefundPayment(ctx, RefundPaymentInput{OrderID: order.ID, ActorStoreID: &buyer})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidPaymentData), "got %v", err)
}

func TestReleaseByTransferID(t *testing.T) {
	t.Parallel()

	db := setupPaymentsTestDB(t)
	svc, _ := newPaymentsService(t, db, &fakeGateway{})
	ctx := context.Background()

	transferID := "tr_release"
	completed := models.PaymentTransaction{
		ID:               uuid.New(),
		OrderID:          uuid.New(),
		SellerStoreID:    uuid.New(),
		GrossAmount:      dec(t, "100.00"),
		PlatformFee:      dec(t, "10.00"),
		NetAmount:        dec(t, "90.00"),
		Status:           enums.TransactionStatusCompleted,
		PayedOut:         true,
		StripeTransferID: &transferID,
	}
	processing := models.PaymentTransaction{
		ID:            uuid.New(),
		OrderID:       uuid.New(),
		SellerStoreID: uuid.New(),
		GrossAmount:   dec(t, "40.00"),
		PlatformFee:   dec(t, "4.00"),
		NetAmount:     dec(t, "36.00"),
		Status:        enums.TransactionStatusProcessing,
	}
	require.NoError(t, db.Create(&completed).Error)
	require.NoError(t, db.Create(&processing).Error)

	require.NoError(t, svc.ReleaseByTransferID(ctx, transferID))

	var released, untouched models.PaymentTransaction
	require.NoError(t, db.First(&released, "id = ?", completed.ID).Error)
	require.NoError(t, db.First(&untouched, "id = ?", processing.ID).Error)
	require.Equal(t, enums.TransactionStatusReleased, released.Status)
	require.Equal(t, enums.TransactionStatusProcessing, untouched.Status)

	// Unknown transfers ack without touching anything.
	require.NoError(t, svc.ReleaseByTransferID(ctx, "tr_unknown"))
}
