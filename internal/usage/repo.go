package usage

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/subpay-backend/pkg/db/models"
)

// Repository handles usage counter persistence.
type Repository interface {
	Ensure(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID) error
	FindBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*models.SubscriptionUsage, error)
	Increment(ctx context.Context, subscriptionID uuid.UUID, projectsDelta int, storageDeltaMB int64) error
	Reset(ctx context.Context, subscriptionID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a usage repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Ensure creates the counter row for a subscription if it does not exist
// yet. Safe to call inside the subscription creation transaction.
func (r *repository) Ensure(ctx context.Context, tx *gorm.DB, subscriptionID uuid.UUID) error {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	row := models.SubscriptionUsage{SubscriptionID: subscriptionID}
	return conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}},
			DoNothing: true,
		}).
		Create(&row).Error
}

func (r *repository) FindBySubscription(ctx context.Context, subscriptionID uuid.UUID) (*models.SubscriptionUsage, error) {
	if subscriptionID == uuid.Nil {
		return nil, nil
	}
	var row models.SubscriptionUsage
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		First(&row).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

func (r *repository) Increment(ctx context.Context, subscriptionID uuid.UUID, projectsDelta int, storageDeltaMB int64) error {
	return r.db.WithContext(ctx).
		Model(&models.SubscriptionUsage{}).
		Where("subscription_id = ?", subscriptionID).
		Updates(map[string]any{
			"projects_used":   gorm.Expr("projects_used + ?", projectsDelta),
			"storage_used_mb": gorm.Expr("storage_used_mb + ?", storageDeltaMB),
		}).Error
}

// Reset zeroes the counters, stamping the reset time. Called on renewal.
func (r *repository) Reset(ctx context.Context, subscriptionID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.SubscriptionUsage{}).
		Where("subscription_id = ?", subscriptionID).
		Updates(map[string]any{
			"projects_used":   0,
			"storage_used_mb": 0,
			"last_reset_at":   gorm.Expr("CURRENT_TIMESTAMP"),
		}).Error
}
