package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem is one row of the per-product stock ledger. AvailableQty is
// what new orders may still claim; ReservedQty is held by unshipped orders.
// Rows move quantity between the two columns, never invent it.
type InventoryItem struct {
	ProductID    uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	AvailableQty int       `gorm:"column:available_qty;not null;default:0"`
	ReservedQty  int       `gorm:"column:reserved_qty;not null;default:0"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
