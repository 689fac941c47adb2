package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/subpay-backend/pkg/enums"
)

// Subscription persists per-user subscription state.
type Subscription struct {
	ID          uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	PlanID      uuid.UUID                `gorm:"column:plan_id;type:uuid;not null;index"`
	Plan        *SubscriptionPlan        `gorm:"foreignKey:PlanID"`
	Status      enums.SubscriptionStatus `gorm:"column:status;not null;default:'trial'"`

	TrialUsed          bool       `gorm:"column:trial_used;not null;default:false"`
	TrialStartsAt      *time.Time `gorm:"column:trial_starts_at"`
	TrialEndsAt        *time.Time `gorm:"column:trial_ends_at"`
	TrialExtended      bool       `gorm:"column:trial_extended;not null;default:false"`
	TrialExtensionDays int        `gorm:"column:trial_extension_days;not null;default:0"`

	StartsAt          *time.Time `gorm:"column:starts_at"`
	ExpiresAt         *time.Time `gorm:"column:expires_at;index"`
	CancelAtPeriodEnd bool       `gorm:"column:cancel_at_period_end;not null;default:false"`
	CancelledAt       *time.Time `gorm:"column:cancelled_at"`
	AutoRenew         bool       `gorm:"column:auto_renew;not null;default:false"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns an ID when the database default is unavailable.
func (s *Subscription) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// IsTrialActive reports whether the subscription is inside an unexpired trial.
func (s *Subscription) IsTrialActive(now time.Time) bool {
	return s.Status == enums.SubscriptionStatusTrial &&
		s.TrialStartsAt != nil && s.TrialEndsAt != nil &&
		!now.Before(*s.TrialStartsAt) && now.Before(*s.TrialEndsAt)
}

// IsActive reports whether the subscription currently grants access.
func (s *Subscription) IsActive(now time.Time) bool {
	switch s.Status {
	case enums.SubscriptionStatusActive:
		return s.ExpiresAt != nil && now.Before(*s.ExpiresAt)
	case enums.SubscriptionStatusTrial:
		return s.IsTrialActive(now)
	default:
		return false
	}
}

// DaysUntilExpiry returns whole days left in whichever active window
// applies, never negative.
func (s *Subscription) DaysUntilExpiry(now time.Time) int {
	var until time.Time
	switch {
	case s.IsTrialActive(now):
		until = *s.TrialEndsAt
	case s.Status == enums.SubscriptionStatusActive && s.ExpiresAt != nil && now.Before(*s.ExpiresAt):
		until = *s.ExpiresAt
	default:
		return 0
	}
	return int(until.Sub(now).Hours() / 24)
}
