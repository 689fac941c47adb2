package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/subpay-backend/pkg/enums"
)

// Notification is a delivered billing message, kept for the in-app feed.
type Notification struct {
	ID        uuid.UUID                  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID    uuid.UUID                  `gorm:"column:user_id;type:uuid;not null;index"`
	Template  enums.NotificationTemplate `gorm:"column:template;not null"`
	Subject   string                     `gorm:"column:subject;not null"`
	Body      string                     `gorm:"column:body;not null"`
	ReadAt    *time.Time                 `gorm:"column:read_at"`
	CreatedAt time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

// BeforeCreate assigns an ID when the database default is unavailable.
func (n *Notification) BeforeCreate(_ *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
