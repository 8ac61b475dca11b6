package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/harborline/marketfleet-backend/pkg/enums"
)

// PaymentTransaction is the per-order-per-seller settlement record created
// when a payment is confirmed. PayedOut flips only after a transfer succeeds.
type PaymentTransaction struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	SellerStoreID uuid.UUID `gorm:"column:seller_store_id;type:uuid;not null;index"`

	GrossAmount decimal.Decimal `gorm:"column:gross_amount;type:numeric(12,2);not null"`
	PlatformFee decimal.Decimal `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	NetAmount   decimal.Decimal `gorm:"column:net_amount;type:numeric(12,2);not null"`

	Status   enums.TransactionStatus `gorm:"column:status;type:text;not null;default:'processing'"`
	PayedOut bool                    `gorm:"column:payed_out;not null;default:false;index"`

	StripeTransferID *string `gorm:"column:stripe_transfer_id"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
