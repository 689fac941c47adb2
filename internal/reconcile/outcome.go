package reconcile

import "encoding/json"

// Kind tags the closed set of terminal outcomes a gateway event can carry.
type Kind string

const (
	KindCompleted Kind = "completed"
	KindFailed    Kind = "failed"
	KindRefunded  Kind = "refunded"
)

// Outcome is one terminal gateway result to apply to a payment, delivered
// by either the polling path or the webhook path.
type Outcome struct {
	Kind          Kind
	TransactionID string
	Reason        string
	Raw           json.RawMessage
}

// Completed builds a settled outcome.
func Completed(transactionID string, raw json.RawMessage) Outcome {
	return Outcome{Kind: KindCompleted, TransactionID: transactionID, Raw: raw}
}

// Failed builds a failure outcome.
func Failed(reason string, raw json.RawMessage) Outcome {
	return Outcome{Kind: KindFailed, Reason: reason, Raw: raw}
}

// Refunded builds a refund outcome.
func Refunded(raw json.RawMessage) Outcome {
	return Outcome{Kind: KindRefunded, Raw: raw}
}
