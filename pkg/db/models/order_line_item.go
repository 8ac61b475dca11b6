package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderLineItem is the immutable snapshot of each item at order time.
// Product edits after checkout must not bleed into historical orders.
type OrderLineItem struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID       `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID     uuid.UUID       `gorm:"column:product_id;type:uuid;not null"`
	SellerStoreID uuid.UUID       `gorm:"column:seller_store_id;type:uuid;not null;index"`
	Name          string          `gorm:"column:name;not null"`
	ImageURL      string          `gorm:"column:image_url;not null;default:''"`
	UnitPrice     decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null"`
	Qty           int             `gorm:"column:qty;not null"`
	LineTotal     decimal.Decimal `gorm:"column:line_total;type:numeric(12,2);not null"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}
