package payments

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/subpay-backend/pkg/db/models"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
)

// MaxRetries caps how many times a failed payment can be re-attempted.
const MaxRetries = 3

// MarkInitiated moves a pending payment to INITIATED once the gateway has
// assigned its pidx and redirect URL.
func MarkInitiated(p *models.Payment, pidx, paymentURL string, now time.Time) error {
	if p.Status != enums.PaymentStatusPending {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only a pending payment can be initiated").
			WithDetails(map[string]any{"status": p.Status.String()})
	}
	p.Status = enums.PaymentStatusInitiated
	p.Pidx = pidx
	p.PaymentURL = &paymentURL
	p.InitiatedAt = &now
	return nil
}

// MarkCompleted settles the payment. Reports whether the transition was
// applied; an already-completed payment is a no-op so duplicate delivery
// cannot re-stamp completed_at.
func MarkCompleted(p *models.Payment, transactionID string, raw json.RawMessage, now time.Time) (bool, error) {
	if p.Status == enums.PaymentStatusCompleted {
		return false, nil
	}
	if p.Status.IsTerminal() {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is already terminal").
			WithDetails(map[string]any{"status": p.Status.String()})
	}
	p.Status = enums.PaymentStatusCompleted
	p.CompletedAt = &now
	if transactionID != "" {
		p.TransactionID = &transactionID
	}
	if len(raw) > 0 {
		p.GatewayResponse = raw
	}
	return true, nil
}

// MarkFailed records the failure. Idempotent in the same sense as MarkCompleted.
func MarkFailed(p *models.Payment, reason string, raw json.RawMessage, now time.Time) (bool, error) {
	if p.Status == enums.PaymentStatusFailed {
		return false, nil
	}
	if p.Status.IsTerminal() {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is already terminal").
			WithDetails(map[string]any{"status": p.Status.String()})
	}
	p.Status = enums.PaymentStatusFailed
	p.FailedAt = &now
	if reason != "" {
		p.FailureReason = &reason
	}
	if len(raw) > 0 {
		p.GatewayResponse = raw
	}
	return true, nil
}

// CanRetry reports whether a failed payment still has retry budget.
func CanRetry(p *models.Payment) bool {
	return p.Status == enums.PaymentStatusFailed && p.RetryCount < MaxRetries
}

// Retry resets a failed payment to PENDING; the caller re-runs gateway
// initiation. retry_count only ever goes up.
func Retry(p *models.Payment) error {
	if !CanRetry(p) {
		return pkgerrors.New(pkgerrors.CodeValidation, "retry limit exceeded").
			WithDetails(map[string]any{"retry_count": p.RetryCount, "status": p.Status.String()})
	}
	p.RetryCount++
	p.Status = enums.PaymentStatusPending
	return nil
}

// ApplyRefund moves a completed payment to REFUNDED. A nil amount refunds
// the full original amount.
func ApplyRefund(p *models.Payment, amount *decimal.Decimal, reason string, now time.Time) error {
	if p.RefundAmount != nil || p.Status == enums.PaymentStatusRefunded {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already refunded")
	}
	if p.Status != enums.PaymentStatusCompleted {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only a completed payment can be refunded").
			WithDetails(map[string]any{"status": p.Status.String()})
	}

	refund := p.Amount
	if amount != nil {
		if amount.Sign() <= 0 || amount.GreaterThan(p.Amount) {
			return pkgerrors.New(pkgerrors.CodeValidation, "invalid refund amount").
				WithDetails(map[string]any{"amount": amount.String(), "paid": p.Amount.String()})
		}
		refund = *amount
	}

	p.Status = enums.PaymentStatusRefunded
	p.RefundAmount = &refund
	if reason != "" {
		p.RefundReason = &reason
	}
	p.RefundedAt = &now
	return nil
}
