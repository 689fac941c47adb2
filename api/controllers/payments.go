package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/subpay-backend/api/middleware"
	"github.com/angelmondragon/subpay-backend/api/responses"
	"github.com/angelmondragon/subpay-backend/api/validators"
	"github.com/angelmondragon/subpay-backend/internal/payments"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
	"github.com/angelmondragon/subpay-backend/pkg/logger"
)

type initiatePaymentRequest struct {
	SubscriptionID string `json:"subscriptionId" validate:"required,uuid"`
}

// InitiatePayment starts a gateway payment for the caller's subscription.
func InitiatePayment(svc *payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req initiatePaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		subID, err := uuid.Parse(req.SubscriptionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid subscription id"))
			return
		}

		payment, err := svc.Initiate(r.Context(), middleware.UserIDFromContext(r.Context()), subID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, payment)
	}
}

type verifyPaymentRequest struct {
	PaymentID string `json:"paymentId" validate:"required,uuid"`
}

// VerifyPayment polls the gateway for the payment's state and applies any
// terminal outcome.
func VerifyPayment(svc *payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req verifyPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		paymentID, err := uuid.Parse(req.PaymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id"))
			return
		}

		payment, err := svc.Verify(r.Context(), middleware.UserIDFromContext(r.Context()), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

// RetryPayment re-runs gateway initiation for a failed payment.
func RetryPayment(svc *payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payment, err := svc.Retry(r.Context(), middleware.UserIDFromContext(r.Context()), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

type refundPaymentRequest struct {
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

// RefundPayment submits a gateway refund. Admin only. An absent amount
// refunds in full.
func RefundPayment(svc *payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req refundPaymentRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		var amount *decimal.Decimal
		if req.Amount != "" {
			parsed, err := decimal.NewFromString(req.Amount)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund amount"))
				return
			}
			amount = &parsed
		}

		payment, err := svc.InitiateRefund(r.Context(), paymentID, amount, req.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

// GetPayment returns a payment owned by the caller.
func GetPayment(svc *payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		paymentID, err := paymentIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		payment, err := svc.Get(r.Context(), middleware.UserIDFromContext(r.Context()), paymentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, payment)
	}
}

// ListPayments returns the caller's payments, newest first.
func ListPayments(svc *payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := payments.ListParams{UserID: middleware.UserIDFromContext(r.Context())}

		if limitStr := strings.TrimSpace(r.URL.Query().Get("limit")); limitStr != "" {
			value, err := strconv.Atoi(limitStr)
			if err != nil || value <= 0 {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "limit must be a positive integer"))
				return
			}
			params.Limit = value
		}
		if cursor := strings.TrimSpace(r.URL.Query().Get("cursor")); cursor != "" {
			params.Cursor = cursor
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status := enums.PaymentStatus(raw)
			if !status.IsValid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment status"))
				return
			}
			params.Status = &status
		}

		page, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

func paymentIDParam(r *http.Request) (uuid.UUID, error) {
	paymentID, err := uuid.Parse(chi.URLParam(r, "paymentId"))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payment id")
	}
	return paymentID, nil
}
