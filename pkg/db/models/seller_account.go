package models

import (
	"time"

	"github.com/google/uuid"
)

// SellerAccount maps a seller store to its payment-provider connected
// account. Onboarding flags are synced from account.updated events.
type SellerAccount struct {
	StoreID         uuid.UUID `gorm:"column:store_id;type:uuid;primaryKey"`
	StripeAccountID string    `gorm:"column:stripe_account_id;not null;uniqueIndex"`
	ChargesEnabled  bool      `gorm:"column:charges_enabled;not null;default:false"`
	PayoutsEnabled  bool      `gorm:"column:payouts_enabled;not null;default:false"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
