package subscriptions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/subpay-backend/internal/notifications"
	"github.com/angelmondragon/subpay-backend/internal/plans"
	dbpkg "github.com/angelmondragon/subpay-backend/pkg/db"
	"github.com/angelmondragon/subpay-backend/pkg/db/models"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
	"github.com/angelmondragon/subpay-backend/pkg/logger"
	"github.com/angelmondragon/subpay-backend/pkg/outbox"
)

const statsCacheTTL = time.Hour

// StatsCache is the keyed store behind the aggregate snapshot cache.
type StatsCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	StatsKey(name string) string
}

// UsageSeeder creates the usage tracking row for a new subscription inside
// the same transaction. Implemented by the usage package.
type UsageSeeder interface {
	Ensure(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID) error
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	DB       *dbpkg.Client
	Repo     Repository
	Plans    plans.Repository
	Outbox   *outbox.Service
	Notifier notifications.Notifier
	Stats    StatsCache
	Usage    UsageSeeder
	Logger   *logger.Logger
}

// Service orchestrates subscription lifecycle operations.
type Service struct {
	db       *dbpkg.Client
	repo     Repository
	plans    plans.Repository
	outbox   *outbox.Service
	notifier notifications.Notifier
	stats    StatsCache
	usage    UsageSeeder
	logg     *logger.Logger
}

// NewService builds a subscription service.
func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "db client required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription repository required")
	}
	if params.Plans == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "plan repository required")
	}
	return &Service{
		db:       params.DB,
		repo:     params.Repo,
		plans:    params.Plans,
		outbox:   params.Outbox,
		notifier: params.Notifier,
		stats:    params.Stats,
		usage:    params.Usage,
		logg:     params.Logger,
	}, nil
}

// CreateParams describes a new subscription request.
type CreateParams struct {
	UserID    uuid.UUID
	PlanID    uuid.UUID
	WithTrial bool
	AutoRenew bool
}

// Create opens a subscription, either trialing or immediately active.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.Subscription, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	plan, err := s.plans.FindByID(ctx, params.PlanID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find plan")
	}
	if plan == nil || !plan.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "plan not found")
	}

	now := time.Now().UTC()
	sub := models.Subscription{
		UserID:    params.UserID,
		PlanID:    plan.ID,
		AutoRenew: params.AutoRenew,
	}
	if params.WithTrial {
		// The paid window stays unset until a completed payment converts
		// the trial.
		if err := StartTrial(&sub, plan, now); err != nil {
			return nil, err
		}
	} else {
		start := now
		end := plan.PeriodEnd(now)
		sub.Status = enums.SubscriptionStatusActive
		sub.StartsAt = &start
		sub.ExpiresAt = &end
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Create(ctx, &sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
		}
		if s.usage != nil {
			if err := s.usage.Ensure(ctx, tx, sub.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "seed usage row")
			}
		}
		return s.emit(ctx, tx, enums.OutboxEventSubscriptionCreated, &sub)
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		s.notifier.Notify(ctx, sub.UserID, enums.NotificationSubscriptionCreated,
			notifications.TemplateContext{PlanName: plan.Name})
	}

	sub.Plan = plan
	return &sub, nil
}

// StartTrial opens the trial window on an existing subscription.
func (s *Service) StartTrial(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.getOwned(ctx, userID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := StartTrial(sub, sub.Plan, time.Now().UTC()); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist trial start")
	}
	return sub, nil
}

// ExtendTrial pushes the trial window out. Privileged operation.
func (s *Service) ExtendTrial(ctx context.Context, subscriptionID uuid.UUID, days int) (*models.Subscription, error) {
	sub, err := s.get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := ExtendTrial(sub, days); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist trial extension")
	}
	return sub, nil
}

// Cancel stops the subscription, immediately or at period end.
func (s *Service) Cancel(ctx context.Context, userID, subscriptionID uuid.UUID, immediate bool) (*models.Subscription, error) {
	sub, err := s.getOwned(ctx, userID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := Cancel(sub, immediate, time.Now().UTC()); err != nil {
		return nil, err
	}

	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Update(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist cancellation")
		}
		if immediate {
			return s.emit(ctx, tx, enums.OutboxEventSubscriptionCancelled, sub)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// Renew shifts an active subscription's window forward by one plan duration.
func (s *Service) Renew(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.getOwned(ctx, userID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := Renew(sub, sub.Plan); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist renewal")
	}
	return sub, nil
}

// Get returns the subscription when owned by the user.
func (s *Service) Get(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.Subscription, error) {
	return s.getOwned(ctx, userID, subscriptionID)
}

// Current returns the user's newest trial or active subscription.
func (s *Service) Current(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	sub, err := s.repo.FindCurrentByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find current subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no active subscription")
	}
	return sub, nil
}

// List returns the user's subscriptions, newest first.
func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	subs, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list subscriptions")
	}
	return subs, nil
}

// Stats summarises subscription counts per status. The snapshot is cached
// for an hour; a cache miss or decode failure falls through to the database.
type Stats struct {
	Total    int64                              `json:"total"`
	ByStatus map[enums.SubscriptionStatus]int64 `json:"byStatus"`
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	if s.stats != nil {
		if cached, err := s.stats.Get(ctx, s.stats.StatsKey("subscriptions")); err == nil && cached != "" {
			var snapshot Stats
			if err := json.Unmarshal([]byte(cached), &snapshot); err == nil {
				return &snapshot, nil
			}
		}
	}

	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count subscriptions")
	}
	snapshot := Stats{ByStatus: counts}
	for _, n := range counts {
		snapshot.Total += n
	}

	if s.stats != nil {
		if encoded, err := json.Marshal(&snapshot); err == nil {
			if err := s.stats.Set(ctx, s.stats.StatsKey("subscriptions"), string(encoded), statsCacheTTL); err != nil && s.logg != nil {
				s.logg.Warn(ctx, "caching subscription stats failed")
			}
		}
	}
	return &snapshot, nil
}

func (s *Service) get(ctx context.Context, subscriptionID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindByID(ctx, subscriptionID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

func (s *Service) getOwned(ctx context.Context, userID, subscriptionID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.get(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if userID != uuid.Nil && sub.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

func (s *Service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, sub *models.Subscription) error {
	if s.outbox == nil {
		return nil
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.OutboxAggregateSubscription,
		AggregateID:   sub.ID,
		Actor:         &outbox.ActorRef{UserID: sub.UserID, SubscriptionID: &sub.ID},
		Data: map[string]any{
			"subscriptionId": sub.ID.String(),
			"planId":         sub.PlanID.String(),
			"status":         sub.Status.String(),
		},
		Version: 1,
	})
}
