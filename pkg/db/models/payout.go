package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/harborline/marketfleet-backend/pkg/enums"
)

// Payout batches not-yet-disbursed settlement records for one seller.
type Payout struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SellerStoreID uuid.UUID          `gorm:"column:seller_store_id;type:uuid;not null;index"`
	Amount        decimal.Decimal    `gorm:"column:amount;type:numeric(12,2);not null"`
	Status        enums.PayoutStatus `gorm:"column:status;type:text;not null;default:'processing'"`

	StripeTransferID *string `gorm:"column:stripe_transfer_id"`

	Items []PayoutItem `gorm:"foreignKey:PayoutID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
