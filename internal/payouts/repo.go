package payouts

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/harborline/marketfleet-backend/pkg/db"
	"github.com/harborline/marketfleet-backend/pkg/db/models"
	"github.com/harborline/marketfleet-backend/pkg/enums"
)

// Repository is the persistence surface for seller payout batches.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListEligible(ctx context.Context, sellerStoreID uuid.UUID, period *Period) ([]models.PaymentTransaction, error)
	ListEligibleForUpdate(ctx context.Context, sellerStoreID uuid.UUID) ([]models.PaymentTransaction, error)
	CreatePayout(ctx context.Context, payout *models.Payout) error
	MarkTransactionsPaidOut(ctx context.Context, transactionIDs []uuid.UUID, transferID string) (int64, error)
	CompletePayout(ctx context.Context, payoutID uuid.UUID, transferID string) error
	FindPayout(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error)
	ListBySeller(ctx context.Context, sellerStoreID uuid.UUID) ([]models.Payout, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payouts repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

var eligibleStatuses = []enums.TransactionStatus{
	enums.TransactionStatusCompleted,
	enums.TransactionStatusReleased,
}

func (r *repository) eligibleQuery(ctx context.Context, sellerStoreID uuid.UUID) *gorm.DB {
	return r.db.WithContext(ctx).
		Where("seller_store_id = ? AND payed_out = ? AND status IN ?", sellerStoreID, false, eligibleStatuses).
		Order("id ASC")
}

// ListEligible returns the eligible settlements, optionally windowed by
// creation date for preview purposes. CreatePayout never windows.
func (r *repository) ListEligible(ctx context.Context, sellerStoreID uuid.UUID, period *Period) ([]models.PaymentTransaction, error) {
	q := r.eligibleQuery(ctx, sellerStoreID)
	if period != nil {
		if period.From != nil {
			q = q.Where("created_at >= ?", *period.From)
		}
		if period.To != nil {
			q = q.Where("created_at < ?", *period.To)
		}
	}
	var out []models.PaymentTransaction
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListEligibleForUpdate locks the eligible settlement rows for the duration
// of the caller's transaction. Fixed id ordering prevents deadlocks between
// concurrent payout runs.
func (r *repository) ListEligibleForUpdate(ctx context.Context, sellerStoreID uuid.UUID) ([]models.PaymentTransaction, error) {
	var out []models.PaymentTransaction
	q := db.LockForUpdate(r.eligibleQuery(ctx, sellerStoreID))
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) CreatePayout(ctx context.Context, payout *models.Payout) error {
	return r.db.WithContext(ctx).Create(payout).Error
}

// MarkTransactionsPaidOut flips the paid-out flag on the given settlements.
// The payed_out guard in the WHERE clause means a row claimed by a concurrent
// payout is simply not counted, which the caller must treat as a conflict.
func (r *repository) MarkTransactionsPaidOut(ctx context.Context, transactionIDs []uuid.UUID, transferID string) (int64, error) {
	if len(transactionIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id IN ? AND payed_out = ?", transactionIDs, false).
		Updates(map[string]any{
			"payed_out":          true,
			"stripe_transfer_id": transferID,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) CompletePayout(ctx context.Context, payoutID uuid.UUID, transferID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Payout{}).
		Where("id = ?", payoutID).
		Updates(map[string]any{
			"status":             enums.PayoutStatusCompleted,
			"stripe_transfer_id": transferID,
		}).Error
}

func (r *repository) FindPayout(ctx context.Context, payoutID uuid.UUID) (*models.Payout, error) {
	var payout models.Payout
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", payoutID).
		First(&payout).Error
	if err != nil {
		return nil, err
	}
	return &payout, nil
}

func (r *repository) ListBySeller(ctx context.Context, sellerStoreID uuid.UUID) ([]models.Payout, error) {
	var out []models.Payout
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("seller_store_id = ?", sellerStoreID).
		Order("created_at DESC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
