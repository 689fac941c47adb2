package enums

// WebhookEventType classifies inbound gateway webhook payloads.
type WebhookEventType string

const (
	WebhookEventPaymentCompleted WebhookEventType = "payment.completed"
	WebhookEventPaymentFailed    WebhookEventType = "payment.failed"
	WebhookEventRefundCompleted  WebhookEventType = "refund.completed"
	WebhookEventUnknown          WebhookEventType = "unknown"
)

var validWebhookEventTypes = []WebhookEventType{
	WebhookEventPaymentCompleted,
	WebhookEventPaymentFailed,
	WebhookEventRefundCompleted,
}

// String implements fmt.Stringer.
func (w WebhookEventType) String() string {
	return string(w)
}

// IsValid reports whether the value is a recognized event type. Unknown is
// a sentinel, not a valid inbound type.
func (w WebhookEventType) IsValid() bool {
	for _, candidate := range validWebhookEventTypes {
		if candidate == w {
			return true
		}
	}
	return false
}

// ParseWebhookEventType never fails: unrecognized input maps to Unknown so
// ingestion can persist the audit row and acknowledge regardless.
func ParseWebhookEventType(value string) WebhookEventType {
	for _, candidate := range validWebhookEventTypes {
		if string(candidate) == value {
			return candidate
		}
	}
	return WebhookEventUnknown
}
