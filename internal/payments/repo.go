package payments

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/harborline/marketfleet-backend/pkg/db/models"
	"github.com/harborline/marketfleet-backend/pkg/enums"
	pkgerrors "github.com/harborline/marketfleet-backend/pkg/errors"
)

// Repository is the persistence surface for per-seller settlement records.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateAll(ctx context.Context, transactions []models.PaymentTransaction) error
	FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error)
	UpdateStatusByOrder(ctx context.Context, orderID uuid.UUID, from []enums.TransactionStatus, to enums.TransactionStatus) error
	UpdateStatusByTransfer(ctx context.Context, transferID string, from []enums.TransactionStatus, to enums.TransactionStatus) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a payments repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateAll(ctx context.Context, transactions []models.PaymentTransaction) error {
	if len(transactions) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&transactions).Error
}

func (r *repository) FindByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentTransaction, error) {
	var out []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) UpdateStatusByOrder(ctx context.Context, orderID uuid.UUID, from []enums.TransactionStatus, to enums.TransactionStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("order_id = ? AND status IN ?", orderID, from).
		Update("status", to).Error
}

func (r *repository) UpdateStatusByTransfer(ctx context.Context, transferID string, from []enums.TransactionStatus, to enums.TransactionStatus) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("stripe_transfer_id = ? AND status IN ?", transferID, from).
		Update("status", to)
	return res.RowsAffected, res.Error
}

// SettlementMarker flips an order's settlement records to completed when the
// order is delivered. Satisfies the order service's marker contract.
type SettlementMarker struct{}

// NewSettlementMarker exposes the default settlement marker implementation.
func NewSettlementMarker() SettlementMarker {
	return SettlementMarker{}
}

// MarkCompletedByOrder moves processing transactions to completed inside the
// caller's transaction.
func (SettlementMarker) MarkCompletedByOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	if tx == nil {
		return pkgerrors.New(pkgerrors.CodeDependency, "transaction required to complete settlements")
	}
	err := tx.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("order_id = ? AND status = ?", orderID, enums.TransactionStatusProcessing).
		Update("status", enums.TransactionStatusCompleted).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "complete settlements")
	}
	return nil
}
