package orders

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/harborline/marketfleet-backend/pkg/types"
)

// CreateOrderInput converts the buyer's active cart into an order.
type CreateOrderInput struct {
	BuyerStoreID    uuid.UUID
	ShippingAddress types.Address
	ShippingCost    decimal.Decimal
	DiscountAmount  decimal.Decimal
	Notes           *string
}

// CancelOrderInput records who cancelled and why. ActorStoreID is nil for
// system-initiated cancellations (failed payments).
type CancelOrderInput struct {
	OrderID      uuid.UUID
	ActorStoreID *uuid.UUID
	Reason       string
}

// ShippingUpdateInput moves an order to shipped with carrier details.
type ShippingUpdateInput struct {
	OrderID        uuid.UUID
	SellerStoreID  uuid.UUID
	TrackingNumber string
	Carrier        string
}
