package khalti

import "github.com/shopspring/decimal"

// CustomerInfo identifies the paying customer on an initiation request.
type CustomerInfo struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// InitiateRequest starts a new payment at the gateway. Amount is in major
// units; the client converts to paisa on the wire.
type InitiateRequest struct {
	Amount            decimal.Decimal
	PurchaseOrderID   string
	PurchaseOrderName string
	ReturnURL         string
	WebsiteURL        string
	Customer          CustomerInfo
	CustomData        map[string]string
}

type initiateWireRequest struct {
	Amount            int64             `json:"amount"`
	PurchaseOrderID   string            `json:"purchase_order_id"`
	PurchaseOrderName string            `json:"purchase_order_name"`
	ReturnURL         string            `json:"return_url"`
	WebsiteURL        string            `json:"website_url"`
	CustomerInfo      CustomerInfo      `json:"customer_info"`
	CustomData        map[string]string `json:"custom_data,omitempty"`
}

// InitiateResponse carries the gateway-assigned payment index and redirect URL.
type InitiateResponse struct {
	Pidx       string `json:"pidx"`
	PaymentURL string `json:"payment_url"`
	ExpiresAt  string `json:"expires_at,omitempty"`
}

// LookupStatus values returned by the gateway for a payment.
const (
	LookupStatusCompleted    = "Completed"
	LookupStatusPending      = "Pending"
	LookupStatusInitiated    = "Initiated"
	LookupStatusRefunded     = "Refunded"
	LookupStatusExpired      = "Expired"
	LookupStatusUserCanceled = "User canceled"
)

type lookupWireResponse struct {
	Pidx          string `json:"pidx"`
	TotalAmount   int64  `json:"total_amount"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
	Fee           int64  `json:"fee"`
	Refunded      bool   `json:"refunded"`
}

// LookupResponse is the verification result with amounts in major units.
type LookupResponse struct {
	Pidx          string          `json:"pidx"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id"`
	Fee           decimal.Decimal `json:"fee"`
	Refunded      bool            `json:"refunded"`
}

// Completed reports whether the lookup observed a settled payment.
func (l *LookupResponse) Completed() bool {
	return l.Status == LookupStatusCompleted
}

// RefundRequest asks the gateway to return funds for a settled payment.
// A zero Amount requests a full refund.
type RefundRequest struct {
	Pidx   string
	Amount decimal.Decimal
	Reason string
}

type refundWireRequest struct {
	Pidx   string `json:"pidx"`
	Amount int64  `json:"amount,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// RefundResponse acknowledges a refund submission.
type RefundResponse struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}

// RefundStatusResponse reports the state of an in-flight refund.
type RefundStatusResponse struct {
	RefundID string `json:"refund_id"`
	Status   string `json:"status"`
}
