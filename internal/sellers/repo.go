package sellers

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/harborline/marketfleet-backend/pkg/db/models"
)

// Repository is the read/write surface for seller connected accounts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByStoreID(ctx context.Context, storeID uuid.UUID) (*models.SellerAccount, error)
	Upsert(ctx context.Context, account *models.SellerAccount) error
	UpdateOnboarding(ctx context.Context, accountID string, chargesEnabled, payoutsEnabled bool) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a sellers repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByStoreID(ctx context.Context, storeID uuid.UUID) (*models.SellerAccount, error) {
	var account models.SellerAccount
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) Upsert(ctx context.Context, account *models.SellerAccount) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "store_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"stripe_account_id", "charges_enabled", "payouts_enabled", "updated_at"}),
		}).
		Create(account).Error
}

func (r *repository) UpdateOnboarding(ctx context.Context, accountID string, chargesEnabled, payoutsEnabled bool) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.SellerAccount{}).
		Where("stripe_account_id = ?", accountID).
		Updates(map[string]any{
			"charges_enabled": chargesEnabled,
			"payouts_enabled": payoutsEnabled,
		})
	return res.RowsAffected, res.Error
}
