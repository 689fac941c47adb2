package reconcile

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/subpay-backend/internal/notifications"
	"github.com/angelmondragon/subpay-backend/internal/payments"
	"github.com/angelmondragon/subpay-backend/internal/subscriptions"
	dbpkg "github.com/angelmondragon/subpay-backend/pkg/db"
	"github.com/angelmondragon/subpay-backend/pkg/db/models"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
	"github.com/angelmondragon/subpay-backend/pkg/khalti"
	"github.com/angelmondragon/subpay-backend/pkg/logger"
	"github.com/angelmondragon/subpay-backend/pkg/metrics"
	"github.com/angelmondragon/subpay-backend/pkg/outbox"
)

// EngineParams groups dependencies for the reconciliation engine.
type EngineParams struct {
	DB       *dbpkg.Client
	Payments payments.Repository
	Subs     subscriptions.Repository
	Outbox   *outbox.Service
	Notifier notifications.Notifier
	Metrics  *metrics.ReconcileMetrics
	Logger   *logger.Logger
}

// Engine applies terminal gateway outcomes to payment and subscription
// state. Idempotent and commutative under duplicate delivery: the
// transition is guarded by a status CAS, so only the first call applies it
// and triggers side effects; every later call is a no-op.
type Engine struct {
	db       *dbpkg.Client
	payments payments.Repository
	subs     subscriptions.Repository
	outbox   *outbox.Service
	notifier notifications.Notifier
	metrics  *metrics.ReconcileMetrics
	logg     *logger.Logger
}

// NewEngine builds a reconciliation engine.
func NewEngine(params EngineParams) (*Engine, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "db client required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment repository required")
	}
	if params.Subs == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "subscription repository required")
	}
	return &Engine{
		db:       params.DB,
		payments: params.Payments,
		subs:     params.Subs,
		outbox:   params.Outbox,
		notifier: params.Notifier,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// Reconcile applies the outcome to the payment identified by pidx. An
// unknown pidx fails with not-found; a payment already terminal for the
// outcome is a silent no-op.
func (e *Engine) Reconcile(ctx context.Context, pidx string, outcome Outcome) (*models.Payment, error) {
	payment, err := e.payments.FindByPidx(ctx, pidx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find payment by pidx")
	}
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no payment for pidx").
			WithDetails(map[string]any{"pidx": pidx})
	}

	ctx = e.withLogFields(ctx, pidx, payment)

	switch outcome.Kind {
	case KindCompleted:
		return e.applyCompleted(ctx, payment, outcome)
	case KindFailed:
		return e.applyFailed(ctx, payment, outcome)
	case KindRefunded:
		return e.applyRefunded(ctx, payment, outcome)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown outcome kind").
			WithDetails(map[string]any{"kind": string(outcome.Kind)})
	}
}

// ReconcileLookup maps a gateway lookup result onto an outcome and applies
// it. Non-terminal lookup states apply nothing and return nil.
func (e *Engine) ReconcileLookup(ctx context.Context, pidx string, lookup *khalti.LookupResponse) (*models.Payment, error) {
	if lookup == nil {
		return nil, nil
	}
	raw, _ := json.Marshal(lookup)
	switch lookup.Status {
	case khalti.LookupStatusCompleted:
		return e.Reconcile(ctx, pidx, Completed(lookup.TransactionID, raw))
	case khalti.LookupStatusExpired, khalti.LookupStatusUserCanceled:
		return e.Reconcile(ctx, pidx, Failed(lookup.Status, raw))
	case khalti.LookupStatusRefunded:
		return e.Reconcile(ctx, pidx, Refunded(raw))
	default:
		return nil, nil
	}
}

func (e *Engine) applyCompleted(ctx context.Context, payment *models.Payment, outcome Outcome) (*models.Payment, error) {
	if payment.Status.IsTerminal() {
		e.metrics.IncSkipped(string(KindCompleted))
		return payment, nil
	}

	now := time.Now().UTC()
	var applied, converted bool
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":       enums.PaymentStatusCompleted,
			"completed_at": now,
		}
		if outcome.TransactionID != "" {
			updates["transaction_id"] = outcome.TransactionID
		}
		if len(outcome.Raw) > 0 {
			updates["gateway_response"] = outcome.Raw
		}

		var err error
		applied, err = e.payments.WithTx(tx).UpdateIfStatusIn(ctx, payment.ID, nonTerminal(), updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist completion")
		}
		if !applied {
			return nil
		}

		converted, err = e.convertTrialSubscription(ctx, tx, payment, now)
		if err != nil {
			return err
		}

		return e.emit(ctx, tx, enums.OutboxEventPaymentCompleted, payment, map[string]any{
			"paymentId":     payment.ID.String(),
			"transactionId": outcome.TransactionID,
		})
	})
	if err != nil {
		return nil, err
	}

	if !applied {
		e.metrics.IncSkipped(string(KindCompleted))
		return e.refresh(ctx, payment)
	}

	e.metrics.IncApplied(string(KindCompleted))
	payment.Status = enums.PaymentStatusCompleted
	payment.CompletedAt = &now
	if outcome.TransactionID != "" {
		payment.TransactionID = &outcome.TransactionID
	}
	if converted && e.logg != nil {
		e.logg.Info(ctx, "trial subscription converted to paid")
	}

	if e.notifier != nil {
		e.notifier.Notify(ctx, payment.UserID, enums.NotificationPaymentCompleted, notifications.TemplateContext{
			Amount:  payment.Amount.String(),
			OrderID: payment.OrderID,
		})
	}
	return payment, nil
}

func (e *Engine) applyFailed(ctx context.Context, payment *models.Payment, outcome Outcome) (*models.Payment, error) {
	if payment.Status.IsTerminal() {
		e.metrics.IncSkipped(string(KindFailed))
		return payment, nil
	}

	now := time.Now().UTC()
	var applied bool
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":    enums.PaymentStatusFailed,
			"failed_at": now,
		}
		if outcome.Reason != "" {
			updates["failure_reason"] = outcome.Reason
		}
		if len(outcome.Raw) > 0 {
			updates["gateway_response"] = outcome.Raw
		}

		var err error
		applied, err = e.payments.WithTx(tx).UpdateIfStatusIn(ctx, payment.ID, nonTerminal(), updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist failure")
		}
		if !applied {
			return nil
		}
		return e.emit(ctx, tx, enums.OutboxEventPaymentFailed, payment, map[string]any{
			"paymentId": payment.ID.String(),
			"reason":    outcome.Reason,
		})
	})
	if err != nil {
		return nil, err
	}

	if !applied {
		e.metrics.IncSkipped(string(KindFailed))
		return e.refresh(ctx, payment)
	}

	e.metrics.IncApplied(string(KindFailed))
	payment.Status = enums.PaymentStatusFailed
	payment.FailedAt = &now
	if outcome.Reason != "" {
		payment.FailureReason = &outcome.Reason
	}

	if e.notifier != nil {
		e.notifier.Notify(ctx, payment.UserID, enums.NotificationPaymentFailed, notifications.TemplateContext{
			OrderID: payment.OrderID,
		})
	}
	return payment, nil
}

func (e *Engine) applyRefunded(ctx context.Context, payment *models.Payment, outcome Outcome) (*models.Payment, error) {
	// Refund is only reachable from COMPLETED; anything else, including an
	// already-REFUNDED payment, resolves silently.
	if payment.Status != enums.PaymentStatusCompleted {
		e.metrics.IncSkipped(string(KindRefunded))
		return payment, nil
	}

	now := time.Now().UTC()
	var applied bool
	err := e.db.WithTx(ctx, func(tx *gorm.DB) error {
		updates := map[string]any{
			"status":        enums.PaymentStatusRefunded,
			"refund_amount": payment.Amount,
			"refunded_at":   now,
		}
		if len(outcome.Raw) > 0 {
			updates["gateway_response"] = outcome.Raw
		}

		var err error
		applied, err = e.payments.WithTx(tx).UpdateIfStatusIn(ctx, payment.ID,
			[]enums.PaymentStatus{enums.PaymentStatusCompleted}, updates)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist refund")
		}
		if !applied {
			return nil
		}
		return e.emit(ctx, tx, enums.OutboxEventPaymentRefunded, payment, map[string]any{
			"paymentId": payment.ID.String(),
			"amount":    payment.Amount.String(),
		})
	})
	if err != nil {
		return nil, err
	}

	if !applied {
		e.metrics.IncSkipped(string(KindRefunded))
		return e.refresh(ctx, payment)
	}

	e.metrics.IncApplied(string(KindRefunded))
	payment.Status = enums.PaymentStatusRefunded
	amount := payment.Amount
	payment.RefundAmount = &amount
	payment.RefundedAt = &now

	if e.notifier != nil {
		e.notifier.Notify(ctx, payment.UserID, enums.NotificationRefundCompleted, notifications.TemplateContext{
			Amount:  payment.Amount.String(),
			OrderID: payment.OrderID,
		})
	}
	return payment, nil
}

// convertTrialSubscription promotes the owning subscription in the same
// transaction as the payment completion, guarded by its own status CAS so
// the conversion happens at most once.
func (e *Engine) convertTrialSubscription(ctx context.Context, tx *gorm.DB, payment *models.Payment, now time.Time) (bool, error) {
	sub := payment.Subscription
	if sub == nil || sub.Status != enums.SubscriptionStatusTrial || sub.Plan == nil {
		return false, nil
	}

	converted, err := e.subs.WithTx(tx).UpdateIfStatusIn(ctx, sub.ID,
		[]enums.SubscriptionStatus{enums.SubscriptionStatusTrial},
		map[string]any{
			"status":     enums.SubscriptionStatusActive,
			"starts_at":  now,
			"expires_at": sub.Plan.PeriodEnd(now),
		})
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "convert trial subscription")
	}
	if converted {
		if err := e.emitSubscription(ctx, tx, sub, payment); err != nil {
			return false, err
		}
	}
	return converted, nil
}

func (e *Engine) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, payment *models.Payment, data map[string]any) error {
	if e.outbox == nil {
		return nil
	}
	return e.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.OutboxAggregatePayment,
		AggregateID:   payment.ID,
		Actor:         &outbox.ActorRef{UserID: payment.UserID, SubscriptionID: &payment.SubscriptionID},
		Data:          data,
		Version:       1,
	})
}

func (e *Engine) emitSubscription(ctx context.Context, tx *gorm.DB, sub *models.Subscription, payment *models.Payment) error {
	if e.outbox == nil {
		return nil
	}
	return e.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.OutboxEventSubscriptionActivated,
		AggregateType: enums.OutboxAggregateSubscription,
		AggregateID:   sub.ID,
		Actor:         &outbox.ActorRef{UserID: sub.UserID, SubscriptionID: &sub.ID},
		Data: map[string]any{
			"subscriptionId": sub.ID.String(),
			"paymentId":      payment.ID.String(),
		},
		Version: 1,
	})
}

func (e *Engine) refresh(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	current, err := e.payments.FindByID(ctx, payment.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payment")
	}
	if current == nil {
		return payment, nil
	}
	return current, nil
}

func (e *Engine) withLogFields(ctx context.Context, pidx string, payment *models.Payment) context.Context {
	if e.logg == nil {
		return ctx
	}
	ctx = e.logg.WithPidx(ctx, pidx)
	return e.logg.WithSubscriptionID(ctx, payment.SubscriptionID.String())
}

func nonTerminal() []enums.PaymentStatus {
	return []enums.PaymentStatus{
		enums.PaymentStatusPending,
		enums.PaymentStatusInitiated,
	}
}
