package plans

import (
	"context"

	"github.com/angelmondragon/subpay-backend/pkg/db/models"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ListFilter narrows the catalog listing.
type ListFilter struct {
	ActiveOnly  bool
	PopularOnly bool
	PlanType    *enums.PlanType
}

// Repository handles plan catalog persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, plan *models.SubscriptionPlan) error
	Update(ctx context.Context, plan *models.SubscriptionPlan) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error)
	List(ctx context.Context, filter ListFilter) ([]models.SubscriptionPlan, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a plan repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, plan *models.SubscriptionPlan) error {
	return r.db.WithContext(ctx).Create(plan).Error
}

func (r *repository) Update(ctx context.Context, plan *models.SubscriptionPlan) error {
	return r.db.WithContext(ctx).Save(plan).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.SubscriptionPlan, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var plan models.SubscriptionPlan
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]models.SubscriptionPlan, error) {
	query := r.db.WithContext(ctx).Model(&models.SubscriptionPlan{})
	if filter.ActiveOnly {
		query = query.Where("is_active = ?", true)
	}
	if filter.PopularOnly {
		query = query.Where("is_popular = ?", true)
	}
	if filter.PlanType != nil {
		query = query.Where("plan_type = ?", *filter.PlanType)
	}
	var plans []models.SubscriptionPlan
	if err := query.Order("sort_order ASC, price ASC, name ASC").Find(&plans).Error; err != nil {
		return nil, err
	}
	return plans, nil
}
