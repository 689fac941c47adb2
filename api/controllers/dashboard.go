package controllers

import (
	"net/http"

	"github.com/angelmondragon/subpay-backend/api/middleware"
	"github.com/angelmondragon/subpay-backend/api/responses"
	"github.com/angelmondragon/subpay-backend/internal/usage"
	"github.com/angelmondragon/subpay-backend/pkg/logger"
)

// Dashboard returns the caller's account overview: current subscription,
// plan catalog, usage, recent payments and expiry warnings.
func Dashboard(svc *usage.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.Dashboard(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// AdminDashboard returns operator totals. Admin only.
func AdminDashboard(svc *usage.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := svc.Admin(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// UsageSummary returns the caller's usage against plan limits.
func UsageSummary(svc *usage.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := svc.Summary(r.Context(), middleware.UserIDFromContext(r.Context()))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
