package enums

// WebhookProcessingStatus records the processing outcome of a stored
// webhook event.
type WebhookProcessingStatus string

const (
	WebhookProcessingReceived  WebhookProcessingStatus = "received"
	WebhookProcessingProcessed WebhookProcessingStatus = "processed"
	WebhookProcessingSkipped   WebhookProcessingStatus = "skipped"
	WebhookProcessingNotFound  WebhookProcessingStatus = "not_found"
	WebhookProcessingErrored   WebhookProcessingStatus = "errored"
)

// String implements fmt.Stringer.
func (w WebhookProcessingStatus) String() string {
	return string(w)
}
