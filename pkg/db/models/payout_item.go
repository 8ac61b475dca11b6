package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PayoutItem is the denormalized snapshot of one transaction inside a payout.
// The sum of TransferAmount across items always equals Payout.Amount.
type PayoutItem struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PayoutID       uuid.UUID       `gorm:"column:payout_id;type:uuid;not null;index"`
	TransactionID  uuid.UUID       `gorm:"column:transaction_id;type:uuid;not null;uniqueIndex"`
	OrderID        uuid.UUID       `gorm:"column:order_id;type:uuid;not null"`
	TransferAmount decimal.Decimal `gorm:"column:transfer_amount;type:numeric(12,2);not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
}
