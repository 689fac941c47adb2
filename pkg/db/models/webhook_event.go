package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/subpay-backend/pkg/enums"
)

// WebhookEvent is the audit row written for every inbound gateway webhook,
// before any processing happens.
type WebhookEvent struct {
	ID          uuid.UUID                     `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	EventType   enums.WebhookEventType        `gorm:"column:event_type;not null;index"`
	Pidx        string                        `gorm:"column:pidx;not null;index"`
	Status      enums.WebhookProcessingStatus `gorm:"column:status;not null;default:'received'"`
	Payload     json.RawMessage               `gorm:"column:payload;type:jsonb;not null"`
	Error       *string                       `gorm:"column:error"`
	ReceivedAt  time.Time                     `gorm:"column:received_at;autoCreateTime"`
	ProcessedAt *time.Time                    `gorm:"column:processed_at"`
}

// BeforeCreate assigns an ID when the database default is unavailable.
func (w *WebhookEvent) BeforeCreate(_ *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}
