package enums

import "fmt"

// TransactionStatus tracks a per-seller settlement record.
type TransactionStatus string

const (
	TransactionStatusProcessing    TransactionStatus = "processing"
	TransactionStatusCompleted     TransactionStatus = "completed"
	TransactionStatusReleased      TransactionStatus = "released"
	TransactionStatusWaitingRefund TransactionStatus = "waiting_refund"
	TransactionStatusRefunded      TransactionStatus = "refunded"
	TransactionStatusFailedRefund  TransactionStatus = "failed_refund"
)

var validTransactionStatuses = []TransactionStatus{
	TransactionStatusProcessing,
	TransactionStatusCompleted,
	TransactionStatusReleased,
	TransactionStatusWaitingRefund,
	TransactionStatusRefunded,
	TransactionStatusFailedRefund,
}

// String implements fmt.Stringer.
func (t TransactionStatus) String() string {
	return string(t)
}

// IsValid reports whether the value is a known TransactionStatus.
func (t TransactionStatus) IsValid() bool {
	for _, candidate := range validTransactionStatuses {
		if candidate == t {
			return true
		}
	}
	return false
}

// PayoutEligible reports whether a transaction in this status can be
// included in a seller payout.
func (t TransactionStatus) PayoutEligible() bool {
	return t == TransactionStatusCompleted || t == TransactionStatusReleased
}

// ParseTransactionStatus converts raw input into a TransactionStatus.
func ParseTransactionStatus(value string) (TransactionStatus, error) {
	for _, candidate := range validTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid transaction status %q", value)
}
