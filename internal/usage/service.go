package usage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/subpay-backend/internal/notifications"
	"github.com/angelmondragon/subpay-backend/internal/payments"
	"github.com/angelmondragon/subpay-backend/internal/plans"
	"github.com/angelmondragon/subpay-backend/internal/subscriptions"
	"github.com/angelmondragon/subpay-backend/pkg/db/models"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
	"github.com/angelmondragon/subpay-backend/pkg/logger"
)

const (
	trialWarningDays = 3
	paidWarningDays  = 7

	recentPaymentCount = 5
)

// ResourceUsage is one resource measured against its plan cap.
type ResourceUsage struct {
	Used      int64   `json:"used"`
	Limit     int64   `json:"limit"`
	Percent   float64 `json:"percent"`
	OverLimit bool    `json:"overLimit"`
}

// Summary is the usage projection for one subscription.
type Summary struct {
	SubscriptionID uuid.UUID     `json:"subscriptionId"`
	Projects       ResourceUsage `json:"projects"`
	StorageMB      ResourceUsage `json:"storageMb"`
	OverLimit      bool          `json:"overLimit"`
}

// Warning flags an approaching expiry.
type Warning struct {
	Kind     string `json:"kind"`
	DaysLeft int    `json:"daysLeft"`
}

const (
	WarningTrialExpiry        = "trial_expiry"
	WarningSubscriptionExpiry = "subscription_expiry"
)

// Dashboard aggregates everything the account overview page renders.
type Dashboard struct {
	Subscription   *models.Subscription      `json:"subscription"`
	Plans          []models.SubscriptionPlan `json:"plans"`
	RecentPayments []models.Payment          `json:"recentPayments"`
	Usage          *Summary                  `json:"usage"`
	Warnings       []Warning                 `json:"warnings"`
}

// AdminDashboard aggregates operator-facing totals.
type AdminDashboard struct {
	Subscriptions *subscriptions.Stats `json:"subscriptions"`
	Revenue       decimal.Decimal      `json:"revenue"`
}

// StatsProvider is the slice of the subscription service the admin view uses.
type StatsProvider interface {
	Stats(ctx context.Context) (*subscriptions.Stats, error)
}

// ServiceParams groups dependencies for the usage projections.
type ServiceParams struct {
	Repo     Repository
	Subs     subscriptions.Repository
	Payments payments.Repository
	Plans    plans.Repository
	Stats    StatsProvider
	Notifier notifications.Notifier
	Logger   *logger.Logger
}

// Service derives read-only usage and dashboard views.
type Service struct {
	repo     Repository
	subs     subscriptions.Repository
	payments payments.Repository
	plans    plans.Repository
	stats    StatsProvider
	notifier notifications.Notifier
	logg     *logger.Logger
}

// NewService builds a usage projection service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "usage repository required")
	}
	if params.Subs == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription repository required")
	}
	return &Service{
		repo:     params.Repo,
		subs:     params.Subs,
		payments: params.Payments,
		plans:    params.Plans,
		stats:    params.Stats,
		notifier: params.Notifier,
		logg:     params.Logger,
	}, nil
}

// Summary computes the user's current usage against plan limits.
func (s *Service) Summary(ctx context.Context, userID uuid.UUID) (*Summary, error) {
	sub, err := s.currentSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, sub)
}

func (s *Service) summarize(ctx context.Context, sub *models.Subscription) (*Summary, error) {
	row, err := s.repo.FindBySubscription(ctx, sub.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find usage row")
	}
	if row == nil {
		row = &models.SubscriptionUsage{SubscriptionID: sub.ID}
	}

	summary := Summary{SubscriptionID: sub.ID}
	if sub.Plan != nil {
		summary.Projects = resourceUsage(int64(row.ProjectsUsed), int64(sub.Plan.MaxProjects))
		summary.StorageMB = resourceUsage(row.StorageUsedMB, sub.Plan.MaxStorageMB)
		summary.OverLimit = row.OverLimit(sub.Plan)
	}
	return &summary, nil
}

func resourceUsage(used, limit int64) ResourceUsage {
	r := ResourceUsage{Used: used, Limit: limit}
	if limit > 0 {
		r.Percent = float64(used) / float64(limit) * 100
		r.OverLimit = used > limit
	}
	return r
}

// ExpiryWarnings derives the warning banners for a subscription: a trial
// within 3 days of its end, or a paid window within 7 days of expiry.
func ExpiryWarnings(sub *models.Subscription, now time.Time) []Warning {
	if sub == nil {
		return nil
	}
	days := sub.DaysUntilExpiry(now)
	switch {
	case sub.IsTrialActive(now) && days <= trialWarningDays:
		return []Warning{{Kind: WarningTrialExpiry, DaysLeft: days}}
	case sub.Status == enums.SubscriptionStatusActive && sub.IsActive(now) && days <= paidWarningDays:
		return []Warning{{Kind: WarningSubscriptionExpiry, DaysLeft: days}}
	}
	return nil
}

// Dashboard assembles the account overview for a user. A user with no
// current subscription still gets the plan catalog.
func (s *Service) Dashboard(ctx context.Context, userID uuid.UUID) (*Dashboard, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	dashboard := Dashboard{}
	if s.plans != nil {
		catalog, err := s.plans.List(ctx, plans.ListFilter{ActiveOnly: true})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list plans")
		}
		dashboard.Plans = catalog
	}

	sub, err := s.subs.FindCurrentByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find current subscription")
	}
	if sub == nil {
		return &dashboard, nil
	}
	dashboard.Subscription = sub
	dashboard.Warnings = ExpiryWarnings(sub, time.Now().UTC())

	if summary, err := s.summarize(ctx, sub); err == nil {
		dashboard.Usage = summary
	} else if s.logg != nil {
		s.logg.Error(ctx, "summarizing usage failed", err)
	}

	if s.payments != nil {
		recent, _, err := s.payments.ListByUser(ctx, payments.ListQuery{
			UserID: userID,
			Limit:  recentPaymentCount,
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list recent payments")
		}
		dashboard.RecentPayments = recent
	}
	return &dashboard, nil
}

// Admin assembles operator totals: subscription counts plus settled revenue.
func (s *Service) Admin(ctx context.Context) (*AdminDashboard, error) {
	view := AdminDashboard{Revenue: decimal.Zero}
	if s.stats != nil {
		stats, err := s.stats.Stats(ctx)
		if err != nil {
			return nil, err
		}
		view.Subscriptions = stats
	}
	if s.payments != nil {
		revenue, err := s.payments.SumCompletedAmount(ctx)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum revenue")
		}
		view.Revenue = revenue
	}
	return &view, nil
}

// SendExpiryWarnings notifies owners of subscriptions expiring within the
// window. Returns how many notifications were queued. Meant to run from a
// scheduler; duplicate sends across runs are acceptable noise.
func (s *Service) SendExpiryWarnings(ctx context.Context, within time.Duration, limit int) (int, error) {
	if s.notifier == nil {
		return 0, nil
	}
	expiring, err := s.subs.ListExpiringWithin(ctx, within, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expiring subscriptions")
	}

	now := time.Now().UTC()
	sent := 0
	for i := range expiring {
		sub := &expiring[i]
		planName := ""
		if sub.Plan != nil {
			planName = sub.Plan.Name
		}
		s.notifier.Notify(ctx, sub.UserID, enums.NotificationExpiryWarning, notifications.TemplateContext{
			PlanName: planName,
			Days:     sub.DaysUntilExpiry(now),
		})
		sent++
	}
	return sent, nil
}

// Track adds resource consumption to the subscription's counters.
func (s *Service) Track(ctx context.Context, userID uuid.UUID, projectsDelta int, storageDeltaMB int64) error {
	sub, err := s.currentSubscription(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.repo.Ensure(ctx, nil, sub.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "ensure usage row")
	}
	if err := s.repo.Increment(ctx, sub.ID, projectsDelta, storageDeltaMB); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record usage")
	}
	return nil
}

func (s *Service) currentSubscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	sub, err := s.subs.FindCurrentByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find current subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
	}
	return sub, nil
}
