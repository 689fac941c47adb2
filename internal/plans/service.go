package plans

import (
	"context"
	"strings"
	"unicode"

	"github.com/angelmondragon/subpay-backend/pkg/db/models"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultCurrency = "NPR"

// Slugify derives a URL-safe catalog slug from a plan name.
func Slugify(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteRune('-')
			lastDash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

// CreateParams describes a new catalog plan.
type CreateParams struct {
	Name         string
	Slug         string
	Description  string
	PlanType     enums.PlanType
	Duration     enums.PlanDuration
	Price        decimal.Decimal
	Currency     string
	TrialEnabled bool
	TrialDays    int
	MaxUsers     int
	MaxProjects  int
	MaxStorageMB int64
	IsPopular    bool
	SortOrder    int
}

// Service orchestrates the plan catalog.
type Service struct {
	repo Repository
}

// NewService builds a plan service.
func NewService(repo Repository) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "plan repository required")
	}
	return &Service{repo: repo}, nil
}

func (s *Service) Create(ctx context.Context, params CreateParams) (*models.SubscriptionPlan, error) {
	if params.Name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan name is required")
	}
	if !params.PlanType.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown plan type")
	}
	if !params.Duration.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown plan duration")
	}
	if params.Price.Sign() < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "price must not be negative")
	}
	if params.TrialDays < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "trial days must not be negative")
	}

	slug := params.Slug
	if slug == "" {
		slug = Slugify(params.Name)
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	if len(currency) != 3 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency must be a 3-letter code")
	}
	maxUsers := params.MaxUsers
	if maxUsers <= 0 {
		maxUsers = 1
	}

	plan := models.SubscriptionPlan{
		Name:         params.Name,
		Slug:         slug,
		Description:  params.Description,
		PlanType:     params.PlanType,
		Duration:     params.Duration,
		Price:        params.Price,
		Currency:     currency,
		TrialEnabled: params.TrialEnabled,
		TrialDays:    params.TrialDays,
		MaxUsers:     maxUsers,
		MaxProjects:  params.MaxProjects,
		MaxStorageMB: params.MaxStorageMB,
		IsPopular:    params.IsPopular,
		SortOrder:    params.SortOrder,
		IsActive:     true,
	}
	if err := s.repo.Create(ctx, &plan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create plan")
	}
	return &plan, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	plan, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find plan")
	}
	if plan == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}
	return plan, nil
}

func (s *Service) List(ctx context.Context, filter ListFilter) ([]models.SubscriptionPlan, error) {
	plans, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plans")
	}
	return plans, nil
}

// Deactivate retires a plan from the catalog without touching existing
// subscriptions priced against it.
func (s *Service) Deactivate(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	plan, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !plan.IsActive {
		return plan, nil
	}
	plan.IsActive = false
	if err := s.repo.Update(ctx, plan); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "deactivate plan")
	}
	return plan, nil
}
