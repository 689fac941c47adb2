package enums

// NotificationTemplate names the canned message sent for a billing event.
type NotificationTemplate string

const (
	NotificationSubscriptionCreated NotificationTemplate = "subscription_created"
	NotificationPaymentCompleted    NotificationTemplate = "payment_completed"
	NotificationPaymentFailed       NotificationTemplate = "payment_failed"
	NotificationRefundInitiated     NotificationTemplate = "refund_initiated"
	NotificationRefundCompleted     NotificationTemplate = "refund_completed"
	NotificationExpiryWarning       NotificationTemplate = "expiry_warning"
)

var validNotificationTemplates = []NotificationTemplate{
	NotificationSubscriptionCreated,
	NotificationPaymentCompleted,
	NotificationPaymentFailed,
	NotificationRefundInitiated,
	NotificationRefundCompleted,
	NotificationExpiryWarning,
}

// String implements fmt.Stringer.
func (n NotificationTemplate) String() string {
	return string(n)
}

// IsValid reports whether the value is a known NotificationTemplate.
func (n NotificationTemplate) IsValid() bool {
	for _, candidate := range validNotificationTemplates {
		if candidate == n {
			return true
		}
	}
	return false
}
