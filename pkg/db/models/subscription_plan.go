package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/subpay-backend/pkg/enums"
)

// SubscriptionPlan is the catalog entry a subscription is priced against.
type SubscriptionPlan struct {
	ID           uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Name         string             `gorm:"column:name;not null;unique"`
	Slug         string             `gorm:"column:slug;not null;unique"`
	Description  string             `gorm:"column:description;not null;default:''"`
	PlanType     enums.PlanType     `gorm:"column:plan_type;not null"`
	Duration     enums.PlanDuration `gorm:"column:duration;not null"`
	Price        decimal.Decimal    `gorm:"column:price;type:numeric(12,2);not null"`
	Currency     string             `gorm:"column:currency;not null;default:'NPR'"`
	TrialEnabled bool               `gorm:"column:trial_enabled;not null;default:true"`
	TrialDays    int                `gorm:"column:trial_days;not null;default:0"`
	MaxUsers     int                `gorm:"column:max_users;not null;default:1"`
	MaxProjects  int                `gorm:"column:max_projects;not null;default:1"`
	MaxStorageMB int64              `gorm:"column:max_storage_mb;not null;default:1024"`
	Features     json.RawMessage    `gorm:"column:features;type:jsonb"`
	IsActive     bool               `gorm:"column:is_active;not null;default:true"`
	IsPopular    bool               `gorm:"column:is_popular;not null;default:false"`
	SortOrder    int                `gorm:"column:sort_order;not null;default:0"`
	CreatedAt    time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns an ID when the database default is unavailable.
func (p *SubscriptionPlan) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PeriodEnd computes the paid window end for a period starting at from.
func (p *SubscriptionPlan) PeriodEnd(from time.Time) time.Time {
	return from.AddDate(0, 0, p.Duration.Days())
}
