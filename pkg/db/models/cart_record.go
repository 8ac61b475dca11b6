package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/harborline/marketfleet-backend/pkg/enums"
)

// CartRecord is the buyer's staged cart. One active record per buyer store;
// converted atomically when an order is created from it.
type CartRecord struct {
	ID           uuid.UUID        `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerStoreID uuid.UUID        `gorm:"column:buyer_store_id;type:uuid;not null;index"`
	Status       enums.CartStatus `gorm:"column:status;type:text;not null;default:'active'"`
	Items        []CartItem       `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}
