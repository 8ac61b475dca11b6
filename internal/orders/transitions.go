package orders

import "github.com/harborline/marketfleet-backend/pkg/enums"

// allowedTransitions is the single source of truth for the order state
// machine. Anything not listed is rejected with a state conflict.
var allowedTransitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPendingPayment: {
		enums.OrderStatusPaymentConfirmed,
		enums.OrderStatusCancelled,
	},
	enums.OrderStatusPaymentConfirmed: {
		enums.OrderStatusAwaitingShipment,
		enums.OrderStatusShipped,
		enums.OrderStatusCancelled,
		enums.OrderStatusRefunded,
		enums.OrderStatusFailedRefund,
	},
	enums.OrderStatusAwaitingShipment: {
		enums.OrderStatusShipped,
		enums.OrderStatusCancelled,
		enums.OrderStatusRefunded,
		enums.OrderStatusFailedRefund,
	},
	enums.OrderStatusShipped: {
		enums.OrderStatusDelivered,
		enums.OrderStatusRefunded,
		enums.OrderStatusFailedRefund,
	},
	enums.OrderStatusDelivered: {
		enums.OrderStatusRefunded,
		enums.OrderStatusFailedRefund,
	},
	enums.OrderStatusFailedRefund: {
		enums.OrderStatusRefunded,
	},
}

// CanTransition reports whether from -> to is a legal order status move.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// cancellable statuses still hold reserved (unshipped) stock.
func cancellable(status enums.OrderStatus) bool {
	switch status {
	case enums.OrderStatusPendingPayment, enums.OrderStatusPaymentConfirmed, enums.OrderStatusAwaitingShipment:
		return true
	default:
		return false
	}
}
