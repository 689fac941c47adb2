package payments

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/subpay-backend/pkg/db/models"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
	"github.com/angelmondragon/subpay-backend/pkg/pagination"
)

// Repository handles payment persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, payment *models.Payment) error
	Update(ctx context.Context, payment *models.Payment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	FindByPidx(ctx context.Context, pidx string) (*models.Payment, error)
	FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error)
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.Payment, error)
	ListByUser(ctx context.Context, params ListQuery) ([]models.Payment, *pagination.Cursor, error)
	UpdateIfStatusIn(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, updates map[string]any) (bool, error)
	SumCompletedAmount(ctx context.Context) (decimal.Decimal, error)
}

type repository struct {
	db *gorm.DB
}

// ListQuery configures payment list queries.
type ListQuery struct {
	UserID uuid.UUID
	Status *enums.PaymentStatus
	Limit  int
	Cursor *pagination.Cursor
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repository) Update(ctx context.Context, payment *models.Payment) error {
	return r.db.WithContext(ctx).Save(payment).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Preload("Subscription").
		Preload("Subscription.Plan").
		Where("id = ?", id).
		First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByPidx(ctx context.Context, pidx string) (*models.Payment, error) {
	if pidx == "" {
		return nil, nil
	}
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Preload("Subscription").
		Preload("Subscription.Plan").
		Where("pidx = ?", pidx).
		First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) FindByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	if orderID == "" {
		return nil, nil
	}
	var payment models.Payment
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		First(&payment).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &payment, nil
}

func (r *repository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]models.Payment, error) {
	var rows []models.Payment
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListByUser(ctx context.Context, params ListQuery) ([]models.Payment, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Payment{}).Where("user_id = ?", params.UserID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.Payment
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	if len(rows) > limit {
		next := rows[limit]
		rows = rows[:limit]
		return rows, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return rows, nil, nil
}

// UpdateIfStatusIn applies updates only while the row is still in one of
// the from statuses, reporting whether a row changed.
func (r *repository) UpdateIfStatusIn(ctx context.Context, id uuid.UUID, from []enums.PaymentStatus, updates map[string]any) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("id = ? AND status IN (?)", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repository) SumCompletedAmount(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.NullDecimal
	err := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("status = ?", enums.PaymentStatusCompleted).
		Scan(&total).Error
	if err != nil {
		return decimal.Zero, err
	}
	if !total.Valid {
		return decimal.Zero, nil
	}
	return total.Decimal, nil
}
