package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/subpay-backend/api/responses"
	"github.com/angelmondragon/subpay-backend/api/validators"
	"github.com/angelmondragon/subpay-backend/internal/plans"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
	"github.com/angelmondragon/subpay-backend/pkg/logger"
)

// ListPlans returns the plan catalog. Inactive plans are included only
// when explicitly requested; ?popular and ?type narrow the listing.
func ListPlans(svc *plans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := plans.ListFilter{ActiveOnly: true}
		if raw := strings.TrimSpace(r.URL.Query().Get("includeInactive")); raw != "" {
			include, err := strconv.ParseBool(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid includeInactive value"))
				return
			}
			filter.ActiveOnly = !include
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("popular")); raw != "" {
			popular, err := strconv.ParseBool(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid popular value"))
				return
			}
			filter.PopularOnly = popular
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
			planType := enums.PlanType(raw)
			if !planType.IsValid() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unknown plan type"))
				return
			}
			filter.PlanType = &planType
		}

		catalog, err := svc.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, catalog)
	}
}

// GetPlan returns a single catalog plan.
func GetPlan(svc *plans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		planID, err := uuid.Parse(chi.URLParam(r, "planId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan id"))
			return
		}
		plan, err := svc.Get(r.Context(), planID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, plan)
	}
}

type createPlanRequest struct {
	Name         string `json:"name" validate:"required"`
	Slug         string `json:"slug"`
	Description  string `json:"description"`
	PlanType     string `json:"planType" validate:"required"`
	Duration     string `json:"duration" validate:"required"`
	Price        string `json:"price" validate:"required"`
	Currency     string `json:"currency" validate:"omitempty,len=3"`
	TrialEnabled bool   `json:"trialEnabled"`
	TrialDays    int    `json:"trialDays" validate:"min=0"`
	MaxUsers     int    `json:"maxUsers" validate:"min=0"`
	MaxProjects  int    `json:"maxProjects" validate:"min=0"`
	MaxStorageMB int64  `json:"maxStorageMb" validate:"min=0"`
	IsPopular    bool   `json:"isPopular"`
	SortOrder    int    `json:"sortOrder" validate:"min=0"`
}

// CreatePlan adds a plan to the catalog. Admin only.
func CreatePlan(svc *plans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createPlanRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		price, err := decimal.NewFromString(req.Price)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid price"))
			return
		}

		plan, err := svc.Create(r.Context(), plans.CreateParams{
			Name:         req.Name,
			Slug:         req.Slug,
			Description:  req.Description,
			PlanType:     enums.PlanType(req.PlanType),
			Duration:     enums.PlanDuration(req.Duration),
			Price:        price,
			Currency:     req.Currency,
			TrialEnabled: req.TrialEnabled,
			TrialDays:    req.TrialDays,
			MaxUsers:     req.MaxUsers,
			MaxProjects:  req.MaxProjects,
			MaxStorageMB: req.MaxStorageMB,
			IsPopular:    req.IsPopular,
			SortOrder:    req.SortOrder,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, plan)
	}
}

// DeactivatePlan retires a plan from the catalog. Admin only.
func DeactivatePlan(svc *plans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		planID, err := uuid.Parse(chi.URLParam(r, "planId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid plan id"))
			return
		}
		plan, err := svc.Deactivate(r.Context(), planID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, plan)
	}
}
