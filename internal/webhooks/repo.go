package webhooks

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/subpay-backend/pkg/db/models"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
)

// Repository persists the append-only webhook audit log.
type Repository interface {
	Create(ctx context.Context, event *models.WebhookEvent) error
	MarkProcessed(ctx context.Context, id uuid.UUID, status enums.WebhookProcessingStatus, processingErr string) error
	ListByPidx(ctx context.Context, pidx string) ([]models.WebhookEvent, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a webhook event repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, event *models.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// MarkProcessed stamps the processing outcome on the audit row. The row
// itself is never rewritten beyond status, error and timestamp.
func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, status enums.WebhookProcessingStatus, processingErr string) error {
	updates := map[string]any{
		"status":       status,
		"processed_at": time.Now().UTC(),
	}
	if processingErr != "" {
		updates["error"] = processingErr
	}
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) ListByPidx(ctx context.Context, pidx string) ([]models.WebhookEvent, error) {
	var rows []models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("pidx = ?", pidx).
		Order("received_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
