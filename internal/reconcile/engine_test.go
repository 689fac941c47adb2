package reconcile

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/subpay-backend/internal/notifications"
	"github.com/angelmondragon/subpay-backend/internal/payments"
	"github.com/angelmondragon/subpay-backend/internal/subscriptions"
	dbpkg "github.com/angelmondragon/subpay-backend/pkg/db"
	"github.com/angelmondragon/subpay-backend/pkg/db/models"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
	"github.com/angelmondragon/subpay-backend/pkg/khalti"
	"github.com/angelmondragon/subpay-backend/pkg/outbox"
)

func setupReconcileTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	ddl := []string{`
CREATE TABLE IF NOT EXISTS subscription_plans (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  slug TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  plan_type TEXT NOT NULL,
  duration TEXT NOT NULL,
  price TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'NPR',
  trial_enabled INTEGER NOT NULL DEFAULT 1,
  trial_days INTEGER NOT NULL DEFAULT 0,
  max_users INTEGER NOT NULL DEFAULT 1,
  max_projects INTEGER NOT NULL DEFAULT 1,
  max_storage_mb INTEGER NOT NULL DEFAULT 1024,
  features TEXT,
  is_active INTEGER NOT NULL DEFAULT 1,
  is_popular INTEGER NOT NULL DEFAULT 0,
  sort_order INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  plan_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'trial',
  trial_used INTEGER NOT NULL DEFAULT 0,
  trial_starts_at DATETIME,
  trial_ends_at DATETIME,
  trial_extended INTEGER NOT NULL DEFAULT 0,
  trial_extension_days INTEGER NOT NULL DEFAULT 0,
  starts_at DATETIME,
  expires_at DATETIME,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  cancelled_at DATETIME,
  auto_renew INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  order_id TEXT NOT NULL UNIQUE,
  pidx TEXT NOT NULL UNIQUE,
  amount TEXT NOT NULL,
  currency TEXT NOT NULL DEFAULT 'NPR',
  amount_paisa INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'pending',
  transaction_id TEXT,
  payment_url TEXT,
  gateway_response TEXT,
  retry_count INTEGER NOT NULL DEFAULT 0,
  failure_reason TEXT,
  failed_at DATETIME,
  initiated_at DATETIME,
  completed_at DATETIME,
  refund_amount TEXT,
  refund_reason TEXT,
  refunded_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`, `
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);`}
	for _, stmt := range ddl {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type countingNotifier struct {
	calls []enums.NotificationTemplate
}

func (c *countingNotifier) Notify(_ context.Context, _ uuid.UUID, template enums.NotificationTemplate, _ notifications.TemplateContext) {
	c.calls = append(c.calls, template)
}

func newTestEngine(t *testing.T, conn *gorm.DB, notifier notifications.Notifier) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineParams{
		DB:       dbpkg.NewWithConn(conn),
		Payments: payments.NewRepository(conn),
		Subs:     subscriptions.NewRepository(conn),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), nil),
		Notifier: notifier,
	})
	require.NoError(t, err)
	return engine
}

type fixture struct {
	plan    *models.SubscriptionPlan
	sub     *models.Subscription
	payment *models.Payment
}

func seedInitiatedPayment(t *testing.T, conn *gorm.DB, subStatus enums.SubscriptionStatus) fixture {
	t.Helper()
	now := time.Now().UTC()

	plan := models.SubscriptionPlan{
		ID:       uuid.New(),
		Name:     "plan-" + uuid.NewString(),
		PlanType: enums.PlanTypeStandard,
		Duration: enums.PlanDurationMonthly,
		Price:    decimal.RequireFromString("999.99"),
		IsActive: true,
	}
	require.NoError(t, conn.Create(&plan).Error)

	sub := models.Subscription{
		ID:     uuid.New(),
		UserID: uuid.New(),
		PlanID: plan.ID,
		Status: subStatus,
	}
	if subStatus == enums.SubscriptionStatusActive {
		start := now
		end := now.AddDate(0, 0, 7)
		sub.StartsAt = &start
		sub.ExpiresAt = &end
	}
	require.NoError(t, conn.Create(&sub).Error)

	initiated := now
	payment := models.Payment{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		OrderID:        "SUB-" + uuid.NewString(),
		Pidx:           "px-" + uuid.NewString(),
		Amount:         decimal.RequireFromString("999.99"),
		AmountPaisa:    99999,
		Status:         enums.PaymentStatusInitiated,
		InitiatedAt:    &initiated,
	}
	require.NoError(t, conn.Create(&payment).Error)

	return fixture{plan: &plan, sub: &sub, payment: &payment}
}

func reloadPayment(t *testing.T, conn *gorm.DB, id uuid.UUID) *models.Payment {
	t.Helper()
	var p models.Payment
	require.NoError(t, conn.Where("id = ?", id).First(&p).Error)
	return &p
}

func reloadSubscription(t *testing.T, conn *gorm.DB, id uuid.UUID) *models.Subscription {
	t.Helper()
	var s models.Subscription
	require.NoError(t, conn.Where("id = ?", id).First(&s).Error)
	return &s
}

func countEvents(t *testing.T, conn *gorm.DB, eventType enums.OutboxEventType, aggregateID uuid.UUID) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).
		Where("event_type = ? AND aggregate_id = ?", eventType, aggregateID).
		Count(&n).Error)
	return n
}

func TestReconcileUnknownPidx(t *testing.T) {
	conn := setupReconcileTestDB(t)
	engine := newTestEngine(t, conn, nil)

	_, err := engine.Reconcile(context.Background(), "px-missing", Completed("T1", nil))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReconcileCompletedConvertsTrialExactlyOnce(t *testing.T) {
	conn := setupReconcileTestDB(t)
	notifier := &countingNotifier{}
	engine := newTestEngine(t, conn, notifier)
	fx := seedInitiatedPayment(t, conn, enums.SubscriptionStatusTrial)

	updated, err := engine.Reconcile(context.Background(), fx.payment.Pidx, Completed("T1", nil))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, updated.Status)
	require.NotNil(t, updated.TransactionID)
	assert.Equal(t, "T1", *updated.TransactionID)

	sub := reloadSubscription(t, conn, fx.sub.ID)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.StartsAt)
	require.NotNil(t, sub.ExpiresAt)
	assert.True(t, sub.ExpiresAt.After(*sub.StartsAt))

	// Duplicate delivery: no second stamp, no second side effect.
	again, err := engine.Reconcile(context.Background(), fx.payment.Pidx, Completed("T2", nil))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, again.Status)
	require.NotNil(t, again.TransactionID)
	assert.Equal(t, "T1", *again.TransactionID)

	assert.Equal(t, []enums.NotificationTemplate{enums.NotificationPaymentCompleted}, notifier.calls)
	assert.Equal(t, int64(1), countEvents(t, conn, enums.OutboxEventPaymentCompleted, fx.payment.ID))
	assert.Equal(t, int64(1), countEvents(t, conn, enums.OutboxEventSubscriptionActivated, fx.sub.ID))
}

func TestReconcileWebhookThenVerifyCommute(t *testing.T) {
	conn := setupReconcileTestDB(t)
	notifier := &countingNotifier{}
	engine := newTestEngine(t, conn, notifier)
	fx := seedInitiatedPayment(t, conn, enums.SubscriptionStatusTrial)

	_, err := engine.Reconcile(context.Background(), fx.payment.Pidx, Completed("T1", json.RawMessage(`{"via":"webhook"}`)))
	require.NoError(t, err)

	lookup := &khalti.LookupResponse{
		Pidx:          fx.payment.Pidx,
		Status:        khalti.LookupStatusCompleted,
		TransactionID: "T1",
	}
	updated, err := engine.ReconcileLookup(context.Background(), fx.payment.Pidx, lookup)
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, enums.PaymentStatusCompleted, updated.Status)

	stored := reloadPayment(t, conn, fx.payment.ID)
	require.NotNil(t, stored.TransactionID)
	assert.Equal(t, "T1", *stored.TransactionID)
	assert.Len(t, notifier.calls, 1)
}

func TestReconcileFailedRecordsReason(t *testing.T) {
	conn := setupReconcileTestDB(t)
	notifier := &countingNotifier{}
	engine := newTestEngine(t, conn, notifier)
	fx := seedInitiatedPayment(t, conn, enums.SubscriptionStatusActive)

	updated, err := engine.Reconcile(context.Background(), fx.payment.Pidx, Failed("Expired", nil))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusFailed, updated.Status)
	require.NotNil(t, updated.FailureReason)
	assert.Equal(t, "Expired", *updated.FailureReason)

	// Failure never touches the subscription.
	sub := reloadSubscription(t, conn, fx.sub.ID)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, []enums.NotificationTemplate{enums.NotificationPaymentFailed}, notifier.calls)
}

func TestReconcileRefundedOnlyFromCompleted(t *testing.T) {
	conn := setupReconcileTestDB(t)
	notifier := &countingNotifier{}
	engine := newTestEngine(t, conn, notifier)
	fx := seedInitiatedPayment(t, conn, enums.SubscriptionStatusActive)

	// Refund against a non-completed payment resolves silently.
	updated, err := engine.Reconcile(context.Background(), fx.payment.Pidx, Refunded(nil))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusInitiated, updated.Status)
	assert.Empty(t, notifier.calls)

	_, err = engine.Reconcile(context.Background(), fx.payment.Pidx, Completed("T1", nil))
	require.NoError(t, err)

	updated, err = engine.Reconcile(context.Background(), fx.payment.Pidx, Refunded(nil))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, updated.Status)
	require.NotNil(t, updated.RefundAmount)
	assert.True(t, updated.RefundAmount.Equal(fx.payment.Amount))

	// Duplicate refund delivery is a no-op.
	again, err := engine.Reconcile(context.Background(), fx.payment.Pidx, Refunded(nil))
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, again.Status)
	assert.Equal(t, []enums.NotificationTemplate{
		enums.NotificationPaymentCompleted,
		enums.NotificationRefundCompleted,
	}, notifier.calls)
}

func TestReconcileLookupNonTerminalIsNoop(t *testing.T) {
	conn := setupReconcileTestDB(t)
	engine := newTestEngine(t, conn, nil)
	fx := seedInitiatedPayment(t, conn, enums.SubscriptionStatusTrial)

	updated, err := engine.ReconcileLookup(context.Background(), fx.payment.Pidx, &khalti.LookupResponse{
		Pidx:   fx.payment.Pidx,
		Status: khalti.LookupStatusPending,
	})
	require.NoError(t, err)
	assert.Nil(t, updated)

	stored := reloadPayment(t, conn, fx.payment.ID)
	assert.Equal(t, enums.PaymentStatusInitiated, stored.Status)
}

func TestReconcileLookupMapsCanceledToFailed(t *testing.T) {
	conn := setupReconcileTestDB(t)
	engine := newTestEngine(t, conn, nil)
	fx := seedInitiatedPayment(t, conn, enums.SubscriptionStatusActive)

	updated, err := engine.ReconcileLookup(context.Background(), fx.payment.Pidx, &khalti.LookupResponse{
		Pidx:   fx.payment.Pidx,
		Status: khalti.LookupStatusUserCanceled,
	})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, enums.PaymentStatusFailed, updated.Status)
	require.NotNil(t, updated.FailureReason)
	assert.Equal(t, khalti.LookupStatusUserCanceled, *updated.FailureReason)
}
