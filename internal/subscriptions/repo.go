package subscriptions

import (
	"context"
	"time"

	"github.com/angelmondragon/subpay-backend/pkg/db/models"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository handles subscription persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, sub *models.Subscription) error
	Update(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindCurrentByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error)
	UpdateIfStatusIn(ctx context.Context, id uuid.UUID, from []enums.SubscriptionStatus, updates map[string]any) (bool, error)
	ListExpiringWithin(ctx context.Context, within time.Duration, limit int) ([]models.Subscription, error)
	CountByStatus(ctx context.Context) (map[enums.SubscriptionStatus]int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a subscription repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *repository) Update(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("id = ?", id).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// FindCurrentByUser returns the user's newest trial or active subscription,
// or nil when none exists.
func (r *repository) FindCurrentByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	if userID == uuid.Nil {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("user_id = ?", userID).
		Where("status IN (?)", []enums.SubscriptionStatus{
			enums.SubscriptionStatusTrial,
			enums.SubscriptionStatusActive,
		}).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// UpdateIfStatusIn applies updates only while the row is still in one of
// the from statuses, reporting whether a row changed. Concurrent
// transitions race on this guard instead of overwriting each other.
func (r *repository) UpdateIfStatusIn(ctx context.Context, id uuid.UUID, from []enums.SubscriptionStatus, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("id = ? AND status IN (?)", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) ListExpiringWithin(ctx context.Context, within time.Duration, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	now := time.Now().UTC()
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Preload("Plan").
		Where("status = ?", enums.SubscriptionStatusActive).
		Where("expires_at > ? AND expires_at <= ?", now, now.Add(within)).
		Order("expires_at ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) CountByStatus(ctx context.Context) (map[enums.SubscriptionStatus]int64, error) {
	type row struct {
		Status enums.SubscriptionStatus
		Total  int64
	}
	var rows []row
	if err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Select("status, count(*) as total").
		Group("status").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[enums.SubscriptionStatus]int64, len(rows))
	for _, item := range rows {
		counts[item.Status] = item.Total
	}
	return counts, nil
}
