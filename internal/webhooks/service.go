package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/angelmondragon/subpay-backend/internal/reconcile"
	"github.com/angelmondragon/subpay-backend/pkg/db/models"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
	"github.com/angelmondragon/subpay-backend/pkg/logger"
)

// Reconciler is the slice of the reconciliation engine ingestion drives.
type Reconciler interface {
	Reconcile(ctx context.Context, pidx string, outcome reconcile.Outcome) (*models.Payment, error)
}

// DeliveryGuard short-circuits redelivery storms before reconciliation.
// Reconciliation is idempotent regardless; the guard just saves the work.
// The key is released again when processing fails, so the gateway's
// redelivery of a failed event is not suppressed.
type DeliveryGuard interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	WebhookGuardKey(eventType, pidx string) string
}

const deliveryGuardTTL = 10 * time.Minute

// InboundEvent is a raw gateway webhook as delivered: a type tag plus an
// opaque payload.
type InboundEvent struct {
	Type    string
	Payload json.RawMessage
}

// payloadFields are the only payload keys ingestion reads; everything else
// rides along untouched in the audit row.
type payloadFields struct {
	Pidx          string `json:"pidx"`
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
}

// Service ingests gateway webhooks. Every event is persisted before any
// processing, and processing failures are recorded on the audit row rather
// than surfaced to the sender, so the gateway always gets an ack.
type Service struct {
	repo       Repository
	reconciler Reconciler
	guard      DeliveryGuard
	logg       *logger.Logger
}

// ServiceParams groups dependencies for webhook ingestion.
type ServiceParams struct {
	Repo       Repository
	Reconciler Reconciler
	Guard      DeliveryGuard
	Logger     *logger.Logger
}

// NewService builds a webhook ingestion service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "webhook repository required")
	}
	if params.Reconciler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "reconciler required")
	}
	return &Service{
		repo:       params.Repo,
		reconciler: params.Reconciler,
		guard:      params.Guard,
		logg:       params.Logger,
	}, nil
}

// Ingest stores the event and applies its outcome. The returned error only
// signals that the audit row could not be written; reconciliation failures
// land on the row's status and error fields.
func (s *Service) Ingest(ctx context.Context, inbound InboundEvent) (*models.WebhookEvent, error) {
	var fields payloadFields
	if len(inbound.Payload) > 0 {
		// Tolerate malformed payloads; the raw bytes are kept either way.
		_ = json.Unmarshal(inbound.Payload, &fields)
	}

	event := models.WebhookEvent{
		EventType: enums.ParseWebhookEventType(inbound.Type),
		Pidx:      fields.Pidx,
		Status:    enums.WebhookProcessingReceived,
		Payload:   inbound.Payload,
	}
	if err := s.repo.Create(ctx, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist webhook event")
	}

	if s.logg != nil {
		ctx = s.logg.WithFields(ctx, map[string]any{
			"webhook_event_id": event.ID.String(),
			"event_type":       event.EventType.String(),
		})
		if event.Pidx != "" {
			ctx = s.logg.WithPidx(ctx, event.Pidx)
		}
	}

	status, processingErr := s.process(ctx, &event, fields)
	if err := s.repo.MarkProcessed(ctx, event.ID, status, processingErr); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook outcome")
	}
	event.Status = status
	if processingErr != "" {
		event.Error = &processingErr
	}
	return &event, nil
}

func (s *Service) process(ctx context.Context, event *models.WebhookEvent, fields payloadFields) (enums.WebhookProcessingStatus, string) {
	if event.EventType == enums.WebhookEventUnknown {
		if s.logg != nil {
			s.logg.Warn(ctx, "unrecognized webhook event type stored unprocessed")
		}
		return enums.WebhookProcessingSkipped, ""
	}
	if event.Pidx == "" {
		return enums.WebhookProcessingErrored, "payload missing pidx"
	}

	var guardKey string
	if s.guard != nil {
		key := s.guard.WebhookGuardKey(event.EventType.String(), event.Pidx)
		first, err := s.guard.SetNX(ctx, key, 1, deliveryGuardTTL)
		if err != nil {
			// Guard outage falls through to reconcile, which dedups on its own.
			if s.logg != nil {
				s.logg.Warn(ctx, "webhook delivery guard unavailable")
			}
		} else if !first {
			return enums.WebhookProcessingSkipped, ""
		} else {
			guardKey = key
		}
	}

	var outcome reconcile.Outcome
	switch event.EventType {
	case enums.WebhookEventPaymentCompleted:
		outcome = reconcile.Completed(fields.TransactionID, event.Payload)
	case enums.WebhookEventPaymentFailed:
		reason := fields.Reason
		if reason == "" {
			reason = fields.Status
		}
		outcome = reconcile.Failed(reason, event.Payload)
	case enums.WebhookEventRefundCompleted:
		outcome = reconcile.Refunded(event.Payload)
	}

	if _, err := s.reconciler.Reconcile(ctx, event.Pidx, outcome); err != nil {
		// Release the guard so the gateway's redelivery gets another run;
		// this covers the placeholder-pidx window where the row does not
		// exist yet.
		s.releaseGuard(ctx, guardKey)
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			if s.logg != nil {
				s.logg.Warn(ctx, "webhook references unknown payment")
			}
			return enums.WebhookProcessingNotFound, err.Error()
		}
		if s.logg != nil {
			s.logg.Error(ctx, "webhook reconciliation failed", err)
		}
		return enums.WebhookProcessingErrored, err.Error()
	}
	return enums.WebhookProcessingProcessed, ""
}

func (s *Service) releaseGuard(ctx context.Context, key string) {
	if s.guard == nil || key == "" {
		return
	}
	if err := s.guard.Del(ctx, key); err != nil && s.logg != nil {
		s.logg.Warn(ctx, "releasing webhook delivery guard failed")
	}
}

// History returns the audit trail for a payment index, oldest first.
func (s *Service) History(ctx context.Context, pidx string) ([]models.WebhookEvent, error) {
	if pidx == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "pidx required")
	}
	rows, err := s.repo.ListByPidx(ctx, pidx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list webhook events")
	}
	return rows, nil
}
