package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/subpay-backend/pkg/enums"
)

// Payment records one gateway payment attempt for a subscription.
type Payment struct {
	ID             uuid.UUID           `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	SubscriptionID uuid.UUID           `gorm:"column:subscription_id;type:uuid;not null;index"`
	Subscription   *Subscription       `gorm:"foreignKey:SubscriptionID"`
	UserID         uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	OrderID        string              `gorm:"column:order_id;not null;unique"`
	Pidx           string              `gorm:"column:pidx;not null;uniqueIndex"`
	Amount         decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency       string              `gorm:"column:currency;not null;default:'NPR'"`
	AmountPaisa    int64               `gorm:"column:amount_paisa;not null"`
	Status         enums.PaymentStatus `gorm:"column:status;not null;default:'pending'"`

	TransactionID   *string         `gorm:"column:transaction_id"`
	PaymentURL      *string         `gorm:"column:payment_url"`
	GatewayResponse json.RawMessage `gorm:"column:gateway_response;type:jsonb"`

	RetryCount    int        `gorm:"column:retry_count;not null;default:0"`
	FailureReason *string    `gorm:"column:failure_reason"`
	FailedAt      *time.Time `gorm:"column:failed_at"`

	InitiatedAt *time.Time `gorm:"column:initiated_at"`
	CompletedAt *time.Time `gorm:"column:completed_at"`

	RefundAmount *decimal.Decimal `gorm:"column:refund_amount;type:numeric(12,2)"`
	RefundReason *string          `gorm:"column:refund_reason"`
	RefundedAt   *time.Time       `gorm:"column:refunded_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// BeforeCreate assigns an ID when the database default is unavailable.
func (p *Payment) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
