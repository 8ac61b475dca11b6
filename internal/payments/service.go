package payments

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/harborline/marketfleet-backend/internal/orders"
	"github.com/harborline/marketfleet-backend/pkg/db/models"
	"github.com/harborline/marketfleet-backend/pkg/enums"
	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
	"github.com/harborline/marketfleet-backend/pkg/logger"
	"github.com/harborline/marketfleet-backend/pkg/metrics"
	stripegw "github.com/harborline/marketfleet-backend/pkg/stripe"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// orderLifecycle is the slice of the order service the payment orchestrator
// composes into its transactions.
type orderLifecycle interface {
	ConfirmPaymentTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, paymentIntentID string) (*models.Order, bool, error)
	MarkRefundedTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error)
	MarkFailedRefundTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error)
}

// Notifier records buyer-facing refund notifications. Never aborts the caller.
type Notifier interface {
	RefundSucceeded(ctx context.Context, buyerStoreID, orderID uuid.UUID)
	RefundFailed(ctx context.Context, buyerStoreID, orderID uuid.UUID)
}

// InitiatePaymentInput opens a checkout session for an order.
type InitiatePaymentInput struct {
	OrderID      uuid.UUID
	ActorStoreID uuid.UUID
}

// RefundPaymentInput requests a full refund. ActorStoreID nil means a
// system-initiated refund.
type RefundPaymentInput struct {
	OrderID      uuid.UUID
	ActorStoreID *uuid.UUID
	Reason       string
}

// Service orchestrates payment initiation, confirmation and refunds.
type Service interface {
	InitiatePayment(ctx context.Context, input InitiatePaymentInput) (*stripegw.CheckoutSession, error)
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentIntentID string) error
	OrderIDForSession(ctx context.Context, sessionID string) (uuid.UUID, error)
	OrderIDForPaymentIntent(ctx context.Context, intentID string) (uuid.UUID, error)
	RefundPayment(ctx context.Context, input RefundPaymentInput) error
	ApplyRefundSucceeded(ctx context.Context, paymentIntentID string) error
	ApplyRefundFailed(ctx context.Context, paymentIntentID string) error
	ReleaseByTransferID(ctx context.Context, transferID string) error
}

type service struct {
	repo       Repository
	orders     orders.Repository
	lifecycle  orderLifecycle
	gateway    stripegw.Gateway
	tx         txRunner
	notifier   Notifier
	metrics    *metrics.PaymentMetrics
	logg       *logger.Logger
	feeRate    decimal.Decimal
	successURL string
	cancelURL  string
}

// NewService builds the payment orchestrator. notifier and metrics may be nil.
func NewService(
	repo Repository,
	ordersRepo orders.Repository,
	lifecycle orderLifecycle,
	gateway stripegw.Gateway,
	tx txRunner,
	notifier Notifier,
	paymentMetrics *metrics.PaymentMetrics,
	logg *logger.Logger,
	feeRate decimal.Decimal,
	successURL, cancelURL string,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if lifecycle == nil {
		return nil, fmt.Errorf("order lifecycle required")
	}
	if gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:       repo,
		orders:     ordersRepo,
		lifecycle:  lifecycle,
		gateway:    gateway,
		tx:         tx,
		notifier:   notifier,
		metrics:    paymentMetrics,
		logg:       logg,
		feeRate:    feeRate,
		successURL: successURL,
		cancelURL:  cancelURL,
	}, nil
}

func (s *service) InitiatePayment(ctx context.Context, input InitiatePaymentInput) (*stripegw.CheckoutSession, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if input.ActorStoreID != uuid.Nil && order.BuyerStoreID != input.ActorStoreID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to store")
	}
	if order.PaymentStatus == enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already paid")
	}
	if order.Status != enums.OrderStatusPendingPayment {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment can only be initiated while pending payment").
			WithDetails(map[string]any{"status": order.Status})
	}

	lines := make([]stripegw.CheckoutLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, stripegw.CheckoutLine{
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Qty:       item.Qty,
		})
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, stripegw.CheckoutSessionInput{
		OrderID:    order.ID,
		Lines:      lines,
		SuccessURL: s.successURL,
		CancelURL:  s.cancelURL,
	})
	if err != nil {
		s.metrics.IncPayment("initiate", "failure")
		return nil, err
	}

	if err := s.orders.Update(ctx, order.ID, map[string]any{"stripe_session_id": session.ID}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist checkout session id")
	}

	s.metrics.IncPayment("initiate", "success")
	return session, nil
}

// ConfirmPayment verifies the payment with the gateway before touching any
// local state: the intent must have succeeded and its metadata must name the
// order it claims to pay for. Only then is the order marked paid, with one
// settlement record fanned out per seller represented on it. Redelivered
// confirmations are absorbed without creating duplicate records.
func (s *service) ConfirmPayment(ctx context.Context, orderID uuid.UUID, paymentIntentID string) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if paymentIntentID == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidPaymentData, "payment intent id required")
	}

	intent, err := s.gateway.RetrievePaymentIntent(ctx, paymentIntentID)
	if err != nil {
		s.metrics.IncPayment("confirm", "failure")
		return err
	}
	if err := intentPaysOrder(intent, orderID); err != nil {
		s.metrics.IncPayment("confirm", "failure")
		return err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		order, alreadyPaid, err := s.lifecycle.ConfirmPaymentTx(ctx, tx, orderID, paymentIntentID)
		if err != nil {
			return err
		}
		if alreadyPaid {
			return nil
		}
		return s.repo.WithTx(tx).CreateAll(ctx, s.fanOut(order))
	})
	if err != nil {
		s.metrics.IncPayment("confirm", "failure")
		return err
	}
	s.metrics.IncPayment("confirm", "success")
	return nil
}

// intentPaysOrder is the confirmation gate: a checkout.session.completed
// delivery can arrive while the underlying intent is still settling (or never
// succeeds at all with async payment methods), so only a succeeded intent
// whose metadata names this order may flip it to paid.
func intentPaysOrder(intent *stripe.PaymentIntent, orderID uuid.UUID) error {
	if intent == nil {
		return pkgerrors.New(pkgerrors.CodeInvalidPaymentData, "payment intent not found")
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return pkgerrors.New(pkgerrors.CodeInvalidPaymentData, "payment intent has not succeeded").
			WithDetails(map[string]any{"intent_status": intent.Status})
	}
	raw, ok := intent.Metadata[stripegw.MetadataOrderID]
	if !ok || raw == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidPaymentData, "payment intent carries no order id")
	}
	metaOrderID, err := uuid.Parse(raw)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInvalidPaymentData, err, "parse order id on payment intent")
	}
	if metaOrderID != orderID {
		return pkgerrors.New(pkgerrors.CodeInvalidPaymentData, "payment intent belongs to a different order")
	}
	return nil
}

func (s *service) OrderIDForSession(ctx context.Context, sessionID string) (uuid.UUID, error) {
	if sessionID == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	order, err := s.orders.FindByStripeSessionID(ctx, sessionID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order for checkout session")
		}
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up order by session")
	}
	return order.ID, nil
}

func (s *service) OrderIDForPaymentIntent(ctx context.Context, intentID string) (uuid.UUID, error) {
	if intentID == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	order, err := s.orders.FindByStripePaymentIntentID(ctx, intentID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order for payment intent")
		}
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up order by payment intent")
	}
	return order.ID, nil
}

// RefundPayment issues the gateway refund before touching any local row, so
// a provider failure leaves order and transactions exactly as they were.
func (s *service) RefundPayment(ctx context.Context, input RefundPaymentInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	order, err := s.loadOrder(ctx, input.OrderID)
	if err != nil {
		return err
	}
	if input.ActorStoreID != nil && *input.ActorStoreID != order.BuyerStoreID {
		return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to store")
	}
	if order.PaymentStatus != enums.PaymentStatusPaid {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only paid orders can be refunded").
			WithDetails(map[string]any{"payment_status": order.PaymentStatus})
	}
	if order.StripePaymentIntentID == nil || *order.StripePaymentIntentID == "" {
		return pkgerrors.New(pkgerrors.CodeInvalidPaymentData, "order has no payment intent to refund")
	}

	refund, err := s.gateway.CreateRefund(ctx, stripegw.RefundInput{
		PaymentIntentID: *order.StripePaymentIntentID,
		Reason:          input.Reason,
	})
	if err != nil {
		s.metrics.IncPayment("refund", "failure")
		return err
	}

	if refund.Status == stripe.RefundStatusSucceeded {
		err = s.applyRefundOutcome(ctx, order, true)
	} else {
		// Refund accepted but still settling; webhook events finish the
		// bookkeeping.
		err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return wrapDep(s.repo.WithTx(tx).UpdateStatusByOrder(ctx, order.ID,
				settledStatuses, enums.TransactionStatusWaitingRefund), "mark transactions waiting refund")
		})
	}
	if err != nil {
		s.metrics.IncPayment("refund", "failure")
		return err
	}
	s.metrics.IncPayment("refund", "success")
	return nil
}

func (s *service) ApplyRefundSucceeded(ctx context.Context, paymentIntentID string) error {
	order, err := s.orderByIntent(ctx, paymentIntentID)
	if err != nil {
		return err
	}
	return s.applyRefundOutcome(ctx, order, true)
}

func (s *service) ApplyRefundFailed(ctx context.Context, paymentIntentID string) error {
	order, err := s.orderByIntent(ctx, paymentIntentID)
	if err != nil {
		return err
	}
	return s.applyRefundOutcome(ctx, order, false)
}

// ReleaseByTransferID moves completed settlement records to released when the
// provider confirms the transfer landed. Unknown transfer ids are a no-op.
func (s *service) ReleaseByTransferID(ctx context.Context, transferID string) error {
	if transferID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "transfer id required")
	}
	_, err := s.repo.UpdateStatusByTransfer(ctx, transferID,
		[]enums.TransactionStatus{enums.TransactionStatusCompleted}, enums.TransactionStatusReleased)
	return wrapDep(err, "release transactions by transfer")
}

var settledStatuses = []enums.TransactionStatus{
	enums.TransactionStatusProcessing,
	enums.TransactionStatusCompleted,
	enums.TransactionStatusReleased,
}

var refundableStatuses = []enums.TransactionStatus{
	enums.TransactionStatusProcessing,
	enums.TransactionStatusCompleted,
	enums.TransactionStatusReleased,
	enums.TransactionStatusWaitingRefund,
	enums.TransactionStatusFailedRefund,
}

// applyRefundOutcome lands a refund outcome exactly once. The same outcome
// reaches us through more than one event kind (charge.refunded and
// refund.updated carry distinct event ids, so the delivery guard passes
// both); when the order already holds the target state nothing is updated
// and the buyer is not notified again.
func (s *service) applyRefundOutcome(ctx context.Context, order *models.Order, succeeded bool) error {
	applied := false
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if succeeded {
			changed, err := s.lifecycle.MarkRefundedTx(ctx, tx, order.ID)
			if err != nil {
				return err
			}
			if !changed {
				return nil
			}
			applied = true
			return wrapDep(s.repo.WithTx(tx).UpdateStatusByOrder(ctx, order.ID,
				refundableStatuses, enums.TransactionStatusRefunded), "mark transactions refunded")
		}
		changed, err := s.lifecycle.MarkFailedRefundTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if !changed {
			return nil
		}
		applied = true
		return wrapDep(s.repo.WithTx(tx).UpdateStatusByOrder(ctx, order.ID,
			[]enums.TransactionStatus{
				enums.TransactionStatusProcessing,
				enums.TransactionStatusCompleted,
				enums.TransactionStatusReleased,
				enums.TransactionStatusWaitingRefund,
			},
			enums.TransactionStatusFailedRefund), "mark transactions failed refund")
	})
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}

	if s.notifier != nil {
		if succeeded {
			s.notifier.RefundSucceeded(ctx, order.BuyerStoreID, order.ID)
		} else {
			s.notifier.RefundFailed(ctx, order.BuyerStoreID, order.ID)
		}
	}
	return nil
}

// fanOut builds one settlement record per seller on the order. Sellers settle
// on their line totals; tax and shipping stay with the platform.
func (s *service) fanOut(order *models.Order) []models.PaymentTransaction {
	grossBySeller := map[uuid.UUID]decimal.Decimal{}
	sellerOrder := make([]uuid.UUID, 0, len(order.Items))
	for _, item := range order.Items {
		if _, seen := grossBySeller[item.SellerStoreID]; !seen {
			sellerOrder = append(sellerOrder, item.SellerStoreID)
		}
		grossBySeller[item.SellerStoreID] = grossBySeller[item.SellerStoreID].Add(item.LineTotal)
	}

	transactions := make([]models.PaymentTransaction, 0, len(sellerOrder))
	for _, seller := range sellerOrder {
		gross := grossBySeller[seller].Round(2)
		fee := gross.Mul(s.feeRate).Round(2)
		transactions = append(transactions, models.PaymentTransaction{
			ID:            uuid.New(),
			OrderID:       order.ID,
			SellerStoreID: seller,
			GrossAmount:   gross,
			PlatformFee:   fee,
			NetAmount:     gross.Sub(fee),
			Status:        enums.TransactionStatusProcessing,
		})
	}
	return transactions
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func (s *service) orderByIntent(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	if paymentIntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	order, err := s.orders.FindByStripePaymentIntentID(ctx, paymentIntentID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order for payment intent")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "look up order by payment intent")
	}
	return order, nil
}

func wrapDep(err error, message string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
