package enums

import "fmt"

// NotificationKind identifies the template family for a buyer notification.
type NotificationKind string

const (
	NotificationKindOrderCancelled  NotificationKind = "order_cancelled"
	NotificationKindRefundSucceeded NotificationKind = "refund_succeeded"
	NotificationKindRefundFailed    NotificationKind = "refund_failed"
)

var validNotificationKinds = []NotificationKind{
	NotificationKindOrderCancelled,
	NotificationKindRefundSucceeded,
	NotificationKindRefundFailed,
}

// String implements fmt.Stringer.
func (n NotificationKind) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotificationKind.
func (n NotificationKind) IsValid() bool {
	for _, candidate := range validNotificationKinds {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseNotificationKind converts raw input into a NotificationKind.
func ParseNotificationKind(value string) (NotificationKind, error) {
	for _, candidate := range validNotificationKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification kind %q", value)
}
