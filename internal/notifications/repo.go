package notifications

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/harborline/marketfleet-backend/pkg/db/models"
)

// Repository persists buyer notifications.
type Repository interface {
	Create(ctx context.Context, notification *models.Notification) error
	ListByStore(ctx context.Context, storeID uuid.UUID, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, storeID, notificationID uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a notifications repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, notification *models.Notification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *repository) ListByStore(ctx context.Context, storeID uuid.UUID, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Notification
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) MarkRead(ctx context.Context, storeID, notificationID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Notification{}).
		Where("id = ? AND store_id = ? AND read_at IS NULL", notificationID, storeID).
		Update("read_at", gorm.Expr("CURRENT_TIMESTAMP"))
	return res.RowsAffected, res.Error
}
