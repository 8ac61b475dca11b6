package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/harborline/marketfleet-backend/pkg/enums"
	"github.com/harborline/marketfleet-backend/pkg/types"
)

// Order is the durable record produced from a cart. Mutated only through the
// order service; never hard-deleted.
type Order struct {
	ID           uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BuyerStoreID uuid.UUID         `gorm:"column:buyer_store_id;type:uuid;not null;index"`
	Status       enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending_payment'"`

	PaymentStatus enums.PaymentStatus `gorm:"column:payment_status;type:text;not null;default:'pending'"`

	Subtotal       decimal.Decimal `gorm:"column:subtotal;type:numeric(12,2);not null"`
	DiscountAmount decimal.Decimal `gorm:"column:discount_amount;type:numeric(12,2);not null"`
	TaxAmount      decimal.Decimal `gorm:"column:tax_amount;type:numeric(12,2);not null"`
	ShippingCost   decimal.Decimal `gorm:"column:shipping_cost;type:numeric(12,2);not null"`
	TotalAmount    decimal.Decimal `gorm:"column:total_amount;type:numeric(12,2);not null"`

	ShippingAddress *types.Address `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	Notes           *string        `gorm:"column:notes"`

	// Correlation back to the payment provider. Written when the checkout
	// session is created / the intent is confirmed, never inferred.
	StripeSessionID       *string `gorm:"column:stripe_session_id;uniqueIndex"`
	StripePaymentIntentID *string `gorm:"column:stripe_payment_intent_id;uniqueIndex"`

	TrackingNumber *string `gorm:"column:tracking_number"`
	Carrier        *string `gorm:"column:carrier"`

	CancelReason *string    `gorm:"column:cancel_reason"`
	CancelledBy  *uuid.UUID `gorm:"column:cancelled_by;type:uuid"`

	ProcessedAt *time.Time `gorm:"column:processed_at"`
	ShippedAt   *time.Time `gorm:"column:shipped_at"`
	DeliveredAt *time.Time `gorm:"column:delivered_at"`
	CancelledAt *time.Time `gorm:"column:cancelled_at"`
	RefundedAt  *time.Time `gorm:"column:refunded_at"`

	Items []OrderLineItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
