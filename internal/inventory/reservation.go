package inventory

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/harborline/marketfleet-backend/pkg/db"
	"github.com/harborline/marketfleet-backend/pkg/db/models"
	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
)

// ReservationRequest asks for qty units of a product.
type ReservationRequest struct {
	ProductID uuid.UUID
	Qty       int
}

// ReservationResult reports the per-request outcome. Reason is set only when
// the reservation was declined.
type ReservationResult struct {
	ProductID uuid.UUID
	Qty       int
	Reserved  bool
	Reason    string
}

// CheckAvailability reports, without locking, whether each request could be
// satisfied right now. Callers must not treat a positive answer as a hold.
func CheckAvailability(ctx context.Context, q *gorm.DB, requests []ReservationRequest) ([]ReservationResult, error) {
	if err := validateRequests(requests); err != nil {
		return nil, err
	}

	items, err := loadItems(ctx, q, requests, false)
	if err != nil {
		return nil, err
	}

	results := make([]ReservationResult, 0, len(requests))
	remaining := availableByProduct(items)
	for _, req := range requests {
		avail, ok := remaining[req.ProductID]
		result := ReservationResult{ProductID: req.ProductID, Qty: req.Qty}
		switch {
		case !ok:
			result.Reason = "product has no inventory record"
		case avail < req.Qty:
			result.Reason = fmt.Sprintf("only %d of %d available", avail, req.Qty)
		default:
			result.Reserved = true
			remaining[req.ProductID] = avail - req.Qty
		}
		results = append(results, result)
	}
	return results, nil
}

// Reserve moves stock from available to reserved for each request, locking the
// touched rows in ascending product id order. Requests that cannot be
// satisfied are reported with a reason; the caller decides whether a partial
// outcome aborts the surrounding transaction.
func Reserve(ctx context.Context, tx *gorm.DB, requests []ReservationRequest) ([]ReservationResult, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory reservation")
	}
	if err := validateRequests(requests); err != nil {
		return nil, err
	}

	items, err := loadItems(ctx, tx, requests, true)
	if err != nil {
		return nil, err
	}
	remaining := availableByProduct(items)

	results := make([]ReservationResult, 0, len(requests))
	for _, req := range requests {
		avail, ok := remaining[req.ProductID]
		result := ReservationResult{ProductID: req.ProductID, Qty: req.Qty}
		switch {
		case !ok:
			result.Reason = "product has no inventory record"
		case avail < req.Qty:
			result.Reason = fmt.Sprintf("only %d of %d available", avail, req.Qty)
		default:
			res := tx.WithContext(ctx).Exec(`
				UPDATE inventory_items
				SET available_qty = available_qty - ?,
					reserved_qty = reserved_qty + ?,
					updated_at = CURRENT_TIMESTAMP
				WHERE product_id = ? AND available_qty >= ?
			`, req.Qty, req.Qty, req.ProductID, req.Qty)
			if res.Error != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reserve inventory")
			}
			if res.RowsAffected == 0 {
				result.Reason = "stock changed while reserving"
				break
			}
			result.Reserved = true
			remaining[req.ProductID] = avail - req.Qty
		}
		results = append(results, result)
	}
	return results, nil
}

// ReserveAll reserves every request or fails with the declined products in
// the error details. Callers run it inside a transaction and abort on error,
// which rolls back any partial reservations.
func ReserveAll(ctx context.Context, tx *gorm.DB, requests []ReservationRequest) error {
	results, err := Reserve(ctx, tx, requests)
	if err != nil {
		return err
	}

	type declined struct {
		ProductID uuid.UUID `json:"product_id"`
		Qty       int       `json:"qty"`
		Reason    string    `json:"reason"`
	}
	var failures []declined
	for _, result := range results {
		if !result.Reserved {
			failures = append(failures, declined{ProductID: result.ProductID, Qty: result.Qty, Reason: result.Reason})
		}
	}
	if len(failures) > 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for order").WithDetails(failures)
	}
	return nil
}

// Release returns reserved stock to the available pool. Used on order
// cancellation; refunds deliberately do not restock.
func Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required for inventory release")
	}

	res := tx.WithContext(ctx).Exec(`
		UPDATE inventory_items
		SET available_qty = available_qty + ?,
			reserved_qty = reserved_qty - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND reserved_qty >= ?
	`, qty, qty, productID, qty)
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "release inventory")
	}
	return nil
}

func validateRequests(requests []ReservationRequest) error {
	if len(requests) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one reservation request required")
	}
	for _, req := range requests {
		if req.ProductID == uuid.Nil {
			return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
		}
		if req.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "reservation qty must be positive")
		}
	}
	return nil
}

// loadItems fetches the touched inventory rows in ascending product id order.
// The fixed ordering keeps concurrent reservations from deadlocking each
// other when the rows are locked.
func loadItems(ctx context.Context, q *gorm.DB, requests []ReservationRequest, lock bool) ([]models.InventoryItem, error) {
	ids := make([]uuid.UUID, 0, len(requests))
	seen := map[uuid.UUID]bool{}
	for _, req := range requests {
		if !seen[req.ProductID] {
			seen[req.ProductID] = true
			ids = append(ids, req.ProductID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	query := q.WithContext(ctx).Where("product_id IN ?", ids).Order("product_id ASC")
	if lock {
		query = db.LockForUpdate(query)
	}

	var items []models.InventoryItem
	if err := query.Find(&items).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory items")
	}
	return items, nil
}

func availableByProduct(items []models.InventoryItem) map[uuid.UUID]int {
	out := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		out[item.ProductID] = item.AvailableQty
	}
	return out
}
