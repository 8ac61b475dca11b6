package orders

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/harborline/marketfleet-backend/internal/cart"
	"github.com/harborline/marketfleet-backend/internal/inventory"
	"github.com/harborline/marketfleet-backend/pkg/db/models"
	"github.com/harborline/marketfleet-backend/pkg/enums"
	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
	"github.com/harborline/marketfleet-backend/pkg/logger"
	"github.com/harborline/marketfleet-backend/pkg/pricing"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// cartSource is satisfied by cart.Repository.
type cartSource = cart.Repository

// SettlementMarker flips per-seller settlement records when the order reaches
// a lifecycle point that matters for payouts.
type SettlementMarker interface {
	MarkCompletedByOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error
}

// Notifier records buyer-facing notifications. Failures are logged and never
// abort the calling flow.
type Notifier interface {
	OrderCancelled(ctx context.Context, buyerStoreID, orderID uuid.UUID, reason string)
}

// Service defines the order lifecycle operations.
type Service interface {
	CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, orderID, actorStoreID uuid.UUID) (*models.Order, error)
	ListOrders(ctx context.Context, buyerStoreID uuid.UUID) ([]models.Order, error)
	CancelOrder(ctx context.Context, input CancelOrderInput) error
	UpdateShipping(ctx context.Context, input ShippingUpdateInput) error
	MarkDelivered(ctx context.Context, orderID uuid.UUID) error

	// Tx variants compose into a caller-owned transaction (payment
	// confirmation and refund bookkeeping).
	ConfirmPaymentTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, paymentIntentID string) (*models.Order, bool, error)
	// The returned bool reports whether the order actually changed state;
	// a redelivered outcome is a no-op and callers must not repeat side
	// effects for it.
	MarkRefundedTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error)
	MarkFailedRefundTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error)
}

type service struct {
	repo        Repository
	tx          txRunner
	carts       cartSource
	settlements SettlementMarker
	notifier    Notifier
	logg        *logger.Logger
	taxRate     decimal.Decimal
}

// NewService builds the order service with the required dependencies.
// notifier may be nil; everything else is mandatory.
func NewService(repo Repository, tx txRunner, carts cartSource, settlements SettlementMarker, notifier Notifier, logg *logger.Logger, taxRate decimal.Decimal) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if carts == nil {
		return nil, fmt.Errorf("cart source required")
	}
	if settlements == nil {
		return nil, fmt.Errorf("settlement marker required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:        repo,
		tx:          tx,
		carts:       carts,
		settlements: settlements,
		notifier:    notifier,
		logg:        logg,
		taxRate:     taxRate,
	}, nil
}

func (s *service) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.BuyerStoreID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer store id required")
	}
	if field := input.ShippingAddress.Validate(); field != "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("shipping address missing %s", field))
	}
	address := input.ShippingAddress.Normalized()

	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		carts := s.carts.WithTx(tx)

		record, err := carts.FindActiveByBuyerStore(ctx, input.BuyerStoreID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeValidation, "no active cart for buyer")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active cart")
		}
		if len(record.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}

		productIDs := make([]uuid.UUID, 0, len(record.Items))
		for _, item := range record.Items {
			productIDs = append(productIDs, item.ProductID)
		}
		products, err := repo.FindProductsByIDs(ctx, productIDs)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load products")
		}
		productByID := make(map[uuid.UUID]models.Product, len(products))
		for _, product := range products {
			productByID[product.ID] = product
		}
		for _, item := range record.Items {
			product, ok := productByID[item.ProductID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeValidation, "cart references unknown product").
					WithDetails(map[string]any{"product_id": item.ProductID})
			}
			if !product.Active {
				return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("product %q is no longer available", product.Name))
			}
		}

		requests := reservationRequests(record.Items)
		if err := inventory.ReserveAll(ctx, tx, requests); err != nil {
			return err
		}

		lines := make([]pricing.Line, 0, len(record.Items))
		for _, item := range record.Items {
			lines = append(lines, pricing.Line{UnitPrice: item.UnitPrice, Qty: item.Qty})
		}
		totals, err := pricing.OrderTotal(lines, input.ShippingCost, input.DiscountAmount, s.taxRate)
		if err != nil {
			return err
		}

		order := &models.Order{
			BuyerStoreID:    input.BuyerStoreID,
			Status:          enums.OrderStatusPendingPayment,
			PaymentStatus:   enums.PaymentStatusPending,
			Subtotal:        totals.Subtotal,
			DiscountAmount:  totals.Discount,
			TaxAmount:       totals.Tax,
			ShippingCost:    totals.Shipping,
			TotalAmount:     totals.Total,
			ShippingAddress: &address,
			Notes:           input.Notes,
		}
		for _, item := range record.Items {
			product := productByID[item.ProductID]
			order.Items = append(order.Items, models.OrderLineItem{
				ProductID:     item.ProductID,
				SellerStoreID: product.SellerStoreID,
				Name:          product.Name,
				ImageURL:      product.ImageURL,
				UnitPrice:     item.UnitPrice,
				Qty:           item.Qty,
				LineTotal:     item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Qty))).Round(2),
			})
		}

		if _, err := repo.Create(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		if err := carts.MarkConverted(ctx, record.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "convert cart")
		}
		// The lines live on as immutable order items; the cart is emptied.
		if err := carts.ClearItems(ctx, record.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear cart")
		}

		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) GetOrder(ctx context.Context, orderID, actorStoreID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if actorStoreID != uuid.Nil && order.BuyerStoreID != actorStoreID && !sellerOnOrder(order, actorStoreID) {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to store")
	}
	return order, nil
}

func (s *service) ListOrders(ctx context.Context, buyerStoreID uuid.UUID) ([]models.Order, error) {
	if buyerStoreID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "buyer store id required")
	}
	out, err := s.repo.ListByBuyerStore(ctx, buyerStoreID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return out, nil
}

func (s *service) CancelOrder(ctx context.Context, input CancelOrderInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	var buyerStoreID uuid.UUID
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if input.ActorStoreID != nil && *input.ActorStoreID != order.BuyerStoreID {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order does not belong to store")
		}
		if order.Status == enums.OrderStatusCancelled {
			return nil
		}
		if !cancellable(order.Status) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be cancelled in current state").
				WithDetails(map[string]any{"status": order.Status})
		}

		for _, req := range releasePlan(order.Items) {
			if err := inventory.Release(ctx, tx, req.ProductID, req.Qty); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		updates := map[string]any{
			"status":        enums.OrderStatusCancelled,
			"cancel_reason": input.Reason,
			"cancelled_at":  now,
		}
		if input.ActorStoreID != nil {
			updates["cancelled_by"] = *input.ActorStoreID
		}
		if err := repo.Update(ctx, order.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel order")
		}
		buyerStoreID = order.BuyerStoreID
		return nil
	})
	if err != nil {
		return err
	}

	ctx = s.logg.WithOrderID(ctx, input.OrderID.String())
	s.logg.Info(ctx, "order cancelled")
	if s.notifier != nil && buyerStoreID != uuid.Nil {
		s.notifier.OrderCancelled(ctx, buyerStoreID, input.OrderID, input.Reason)
	}
	return nil
}

func (s *service) UpdateShipping(ctx context.Context, input ShippingUpdateInput) error {
	if input.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if input.TrackingNumber == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "tracking number required")
	}
	if input.Carrier == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "carrier required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, input.OrderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if input.SellerStoreID != uuid.Nil && !sellerOnOrder(order, input.SellerStoreID) {
			return pkgerrors.New(pkgerrors.CodeForbidden, "order has no items for seller")
		}
		if !CanTransition(order.Status, enums.OrderStatusShipped) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be shipped in current state").
				WithDetails(map[string]any{"status": order.Status})
		}

		now := time.Now().UTC()
		return wrapDep(repo.Update(ctx, order.ID, map[string]any{
			"status":          enums.OrderStatusShipped,
			"tracking_number": input.TrackingNumber,
			"carrier":         input.Carrier,
			"shipped_at":      now,
		}), "update shipping")
	})
}

func (s *service) MarkDelivered(ctx context.Context, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, orderID)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.Status == enums.OrderStatusDelivered {
			return nil
		}
		if !CanTransition(order.Status, enums.OrderStatusDelivered) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order cannot be delivered in current state").
				WithDetails(map[string]any{"status": order.Status})
		}

		now := time.Now().UTC()
		if err := repo.Update(ctx, order.ID, map[string]any{
			"status":       enums.OrderStatusDelivered,
			"delivered_at": now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark delivered")
		}
		// Delivery is the settlement trigger; transactions become payout
		// eligible here.
		return s.settlements.MarkCompletedByOrder(ctx, tx, order.ID)
	})
}

func (s *service) ConfirmPaymentTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, paymentIntentID string) (*models.Order, bool, error) {
	if tx == nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for payment confirmation")
	}
	repo := s.repo.WithTx(tx)
	order, err := repo.FindByIDForUpdate(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, false, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}

	if order.PaymentStatus == enums.PaymentStatusPaid {
		return order, true, nil
	}
	if !CanTransition(order.Status, enums.OrderStatusPaymentConfirmed) {
		return nil, false, pkgerrors.New(pkgerrors.CodeStateConflict, "payment confirmation not allowed in current state").
			WithDetails(map[string]any{"status": order.Status})
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":         enums.OrderStatusPaymentConfirmed,
		"payment_status": enums.PaymentStatusPaid,
		"processed_at":   now,
	}
	if paymentIntentID != "" {
		updates["stripe_payment_intent_id"] = paymentIntentID
	}
	if err := repo.Update(ctx, order.ID, updates); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm payment")
	}

	order.Status = enums.OrderStatusPaymentConfirmed
	order.PaymentStatus = enums.PaymentStatusPaid
	order.ProcessedAt = &now
	if paymentIntentID != "" {
		order.StripePaymentIntentID = &paymentIntentID
	}
	return order, false, nil
}

func (s *service) MarkRefundedTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error) {
	return s.markRefundState(ctx, tx, orderID, enums.OrderStatusRefunded, enums.PaymentStatusRefunded)
}

func (s *service) MarkFailedRefundTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (bool, error) {
	return s.markRefundState(ctx, tx, orderID, enums.OrderStatusFailedRefund, enums.PaymentStatusFailedRefund)
}

// markRefundState returns false when the order is already in the target
// state, so redelivered refund outcomes stay side-effect free.
func (s *service) markRefundState(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, status enums.OrderStatus, paymentStatus enums.PaymentStatus) (bool, error) {
	if tx == nil {
		return false, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for refund bookkeeping")
	}
	repo := s.repo.WithTx(tx)
	order, err := repo.FindByIDForUpdate(ctx, orderID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return false, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	if order.Status == status {
		return false, nil
	}
	if !CanTransition(order.Status, status) {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict, "refund bookkeeping not allowed in current state").
			WithDetails(map[string]any{"status": order.Status})
	}

	updates := map[string]any{
		"status":         status,
		"payment_status": paymentStatus,
	}
	if status == enums.OrderStatusRefunded {
		updates["refunded_at"] = time.Now().UTC()
	}
	if err := repo.Update(ctx, order.ID, updates); err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update refund state")
	}
	return true, nil
}

func reservationRequests(items []models.CartItem) []inventory.ReservationRequest {
	byProduct := map[uuid.UUID]int{}
	order := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, seen := byProduct[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		byProduct[item.ProductID] += item.Qty
	}
	requests := make([]inventory.ReservationRequest, 0, len(order))
	for _, id := range order {
		requests = append(requests, inventory.ReservationRequest{ProductID: id, Qty: byProduct[id]})
	}
	return requests
}

// releasePlan aggregates line quantities per product in ascending product id
// order. Releases lock inventory rows one by one, so they must take the same
// canonical order the reservation path uses or a cancel can deadlock against
// a concurrent reservation.
func releasePlan(items []models.OrderLineItem) []inventory.ReservationRequest {
	byProduct := map[uuid.UUID]int{}
	for _, item := range items {
		byProduct[item.ProductID] += item.Qty
	}
	ids := make([]uuid.UUID, 0, len(byProduct))
	for id := range byProduct {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	requests := make([]inventory.ReservationRequest, 0, len(ids))
	for _, id := range ids {
		requests = append(requests, inventory.ReservationRequest{ProductID: id, Qty: byProduct[id]})
	}
	return requests
}

func sellerOnOrder(order *models.Order, storeID uuid.UUID) bool {
	for _, item := range order.Items {
		if item.SellerStoreID == storeID {
			return true
		}
	}
	return false
}

func wrapDep(err error, message string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
