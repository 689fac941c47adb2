package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/subpay-backend/api/middleware"
	"github.com/angelmondragon/subpay-backend/api/responses"
	"github.com/angelmondragon/subpay-backend/api/validators"
	"github.com/angelmondragon/subpay-backend/internal/subscriptions"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
	"github.com/angelmondragon/subpay-backend/pkg/logger"
)

type createSubscriptionRequest struct {
	PlanID    string `json:"planId" validate:"required,uuid"`
	WithTrial bool   `json:"withTrial"`
	AutoRenew bool   `json:"autoRenew"`
}

// CreateSubscription opens a subscription for the caller, optionally on trial.
func CreateSubscription(svc *subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSubscriptionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		planID, err := uuid.Parse(req.PlanID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan id"))
			return
		}

		sub, err := svc.Create(r.Context(), subscriptions.CreateParams{
			UserID:    middleware.UserIDFromContext(r.Context()),
			PlanID:    planID,
			WithTrial: req.WithTrial,
			AutoRenew: req.AutoRenew,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, sub)
	}
}

// CurrentSubscription returns the caller's active or trialing subscription.
func CurrentSubscription(svc *subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub, err := svc.Current(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

// ListSubscriptions returns the caller's subscription history.
func ListSubscriptions(svc *subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subs, err := svc.List(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, subs)
	}
}

// StartSubscriptionTrial opens the trial window on the caller's subscription.
func StartSubscriptionTrial(svc *subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subID, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.StartTrial(r.Context(), middleware.UserIDFromContext(r.Context()), subID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

type cancelSubscriptionRequest struct {
	Immediate bool `json:"immediate"`
}

// CancelSubscription stops the caller's subscription, hard or at period end.
func CancelSubscription(svc *subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subID, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req cancelSubscriptionRequest
		if r.ContentLength > 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		sub, err := svc.Cancel(r.Context(), middleware.UserIDFromContext(r.Context()), subID, req.Immediate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

type extendTrialRequest struct {
	Days int `json:"days" validate:"required,min=1"`
}

// ExtendSubscriptionTrial pushes a trial window out. Admin only.
func ExtendSubscriptionTrial(svc *subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subID, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req extendTrialRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.ExtendTrial(r.Context(), subID, req.Days)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

// RenewSubscription shifts the caller's window forward by one plan duration.
func RenewSubscription(svc *subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subID, err := subscriptionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		sub, err := svc.Renew(r.Context(), middleware.UserIDFromContext(r.Context()), subID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, sub)
	}
}

// SubscriptionStats returns aggregate counts. Admin only.
func SubscriptionStats(svc *subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

func subscriptionIDParam(r *http.Request) (uuid.UUID, error) {
	subID, err := uuid.Parse(chi.URLParam(r, "subscriptionId"))
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid subscription id")
	}
	return subID, nil
}
