package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubscriptionUsage tracks resource consumption against plan limits.
type SubscriptionUsage struct {
	ID             uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID uuid.UUID  `gorm:"column:subscription_id;type:uuid;not null;unique"`
	ProjectsUsed   int        `gorm:"column:projects_used;not null;default:0"`
	StorageUsedMB  int64      `gorm:"column:storage_used_mb;not null;default:0"`
	LastResetAt    *time.Time `gorm:"column:last_reset_at"`
	CreatedAt      time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns an ID when the database default is unavailable.
func (u *SubscriptionUsage) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// OverLimit reports whether any tracked resource exceeds the plan's caps.
func (u *SubscriptionUsage) OverLimit(plan *SubscriptionPlan) bool {
	if plan == nil {
		return false
	}
	return u.ProjectsUsed > plan.MaxProjects || u.StorageUsedMB > plan.MaxStorageMB
}
