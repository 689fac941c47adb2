package usage

import (
	"context"
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
	"github.com/angelmondragon/subpay-backend/internal/plans"
	"github.com/angelmondragon/subpay-backend/internal/subscriptions"
	"github.com/angelmondragon/subpay-backend/pkg/db/models"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
)

func setupUsageTestDB(t *testing.T) *gorm.DB {
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
CREATE TABLE IF NOT EXISTS subscription_usages (
  id TEXT PRIMARY KEY,
  subscription_id TEXT NOT NULL UNIQUE,
  projects_used INTEGER NOT NULL DEFAULT 0,
  storage_used_mb INTEGER NOT NULL DEFAULT 0,
  last_reset_at DATETIME,
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

func newUsageTestService(t *testing.T, conn *gorm.DB, notifier notifications.Notifier) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Subs:     subscriptions.NewRepository(conn),
		Payments: payments.NewRepository(conn),
		Plans:    plans.NewRepository(conn),
		Notifier: notifier,
	})
	require.NoError(t, err)
	return svc
}

func seedActiveUser(t *testing.T, conn *gorm.DB, expiresIn time.Duration) (*models.Subscription, *models.SubscriptionPlan) {
	t.Helper()
	now := time.Now().UTC()

	plan := models.SubscriptionPlan{
		ID:           uuid.New(),
		Name:         "plan-" + uuid.NewString(),
		PlanType:     enums.PlanTypeStandard,
		Duration:     enums.PlanDurationMonthly,
		Price:        decimal.RequireFromString("999.99"),
		MaxProjects:  10,
		MaxStorageMB: 1000,
		IsActive:     true,
	}
	require.NoError(t, conn.Create(&plan).Error)

	start := now.Add(-time.Hour)
	end := now.Add(expiresIn)
	sub := models.Subscription{
		ID:        uuid.New(),
		UserID:    uuid.New(),
		PlanID:    plan.ID,
		Status:    enums.SubscriptionStatusActive,
		StartsAt:  &start,
		ExpiresAt: &end,
	}
	require.NoError(t, conn.Create(&sub).Error)
	return &sub, &plan
}

func TestSummaryComputesPercentages(t *testing.T) {
	conn := setupUsageTestDB(t)
	svc := newUsageTestService(t, conn, nil)
	sub, _ := seedActiveUser(t, conn, 30*24*time.Hour)

	require.NoError(t, conn.Create(&models.SubscriptionUsage{
		ID:             uuid.New(),
		SubscriptionID: sub.ID,
		ProjectsUsed:   5,
		StorageUsedMB:  500,
	}).Error)

	summary, err := svc.Summary(context.Background(), sub.UserID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), summary.Projects.Used)
	assert.Equal(t, int64(10), summary.Projects.Limit)
	assert.InDelta(t, 50.0, summary.Projects.Percent, 0.01)
	assert.InDelta(t, 50.0, summary.StorageMB.Percent, 0.01)
	assert.False(t, summary.OverLimit)
}

func TestSummaryWithoutUsageRowIsZero(t *testing.T) {
	conn := setupUsageTestDB(t)
	svc := newUsageTestService(t, conn, nil)
	sub, _ := seedActiveUser(t, conn, 30*24*time.Hour)

	summary, err := svc.Summary(context.Background(), sub.UserID)
	require.NoError(t, err)
	assert.Zero(t, summary.Projects.Used)
	assert.Zero(t, summary.Projects.Percent)
}

func TestExpiryWarningsThresholds(t *testing.T) {
	now := time.Now().UTC()

	trialStart := now.Add(-5 * 24 * time.Hour)
	trialEnd := now.Add(2 * 24 * time.Hour)
	trialing := &models.Subscription{
		Status:        enums.SubscriptionStatusTrial,
		TrialStartsAt: &trialStart,
		TrialEndsAt:   &trialEnd,
	}
	warnings := ExpiryWarnings(trialing, now)
	require.Len(t, warnings, 1)
	assert.Equal(t, WarningTrialExpiry, warnings[0].Kind)
	assert.Equal(t, 2, warnings[0].DaysLeft)

	activeStart := now.Add(-20 * 24 * time.Hour)
	activeEnd := now.Add(5 * 24 * time.Hour)
	active := &models.Subscription{
		Status:    enums.SubscriptionStatusActive,
		StartsAt:  &activeStart,
		ExpiresAt: &activeEnd,
	}
	warnings = ExpiryWarnings(active, now)
	require.Len(t, warnings, 1)
	assert.Equal(t, WarningSubscriptionExpiry, warnings[0].Kind)

	comfortableStart := now
	comfortableEnd := now.Add(20 * 24 * time.Hour)
	comfortable := &models.Subscription{
		Status:    enums.SubscriptionStatusActive,
		StartsAt:  &comfortableStart,
		ExpiresAt: &comfortableEnd,
	}
	assert.Empty(t, ExpiryWarnings(comfortable, now))
}

func TestDashboardAggregates(t *testing.T) {
	conn := setupUsageTestDB(t)
	svc := newUsageTestService(t, conn, nil)
	sub, _ := seedActiveUser(t, conn, 5*24*time.Hour)

	for i := 0; i < 2; i++ {
		payment := models.Payment{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			OrderID:        "SUB-" + uuid.NewString(),
			Pidx:           "px-" + uuid.NewString(),
			Amount:         decimal.NewFromInt(100),
			Status:         enums.PaymentStatusCompleted,
		}
		require.NoError(t, conn.Create(&payment).Error)
	}

	dashboard, err := svc.Dashboard(context.Background(), sub.UserID)
	require.NoError(t, err)
	require.NotNil(t, dashboard.Subscription)
	assert.Equal(t, sub.ID, dashboard.Subscription.ID)
	assert.Len(t, dashboard.RecentPayments, 2)
	assert.Len(t, dashboard.Plans, 1)
	require.NotNil(t, dashboard.Usage)
	require.Len(t, dashboard.Warnings, 1)
	assert.Equal(t, WarningSubscriptionExpiry, dashboard.Warnings[0].Kind)
}

func TestDashboardWithoutSubscriptionStillListsPlans(t *testing.T) {
	conn := setupUsageTestDB(t)
	svc := newUsageTestService(t, conn, nil)
	seedActiveUser(t, conn, 30*24*time.Hour)

	dashboard, err := svc.Dashboard(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, dashboard.Subscription)
	assert.Len(t, dashboard.Plans, 1)
	assert.Empty(t, dashboard.Warnings)
}

func TestSendExpiryWarnings(t *testing.T) {
	conn := setupUsageTestDB(t)
	notifier := &countingNotifier{}
	svc := newUsageTestService(t, conn, notifier)
	seedActiveUser(t, conn, 3*24*time.Hour)
	seedActiveUser(t, conn, 60*24*time.Hour)

	sent, err := svc.SendExpiryWarnings(context.Background(), 7*24*time.Hour, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, []enums.NotificationTemplate{enums.NotificationExpiryWarning}, notifier.calls)
}

func TestTrackIncrementsCounters(t *testing.T) {
	conn := setupUsageTestDB(t)
	svc := newUsageTestService(t, conn, nil)
	sub, _ := seedActiveUser(t, conn, 30*24*time.Hour)

	require.NoError(t, svc.Track(context.Background(), sub.UserID, 2, 128))
	require.NoError(t, svc.Track(context.Background(), sub.UserID, 1, 64))

	var row models.SubscriptionUsage
	require.NoError(t, conn.Where("subscription_id = ?", sub.ID).First(&row).Error)
	assert.Equal(t, 3, row.ProjectsUsed)
	assert.Equal(t, int64(192), row.StorageUsedMB)
}

type fixedStats struct {
	stats *subscriptions.Stats
}

func (f *fixedStats) Stats(_ context.Context) (*subscriptions.Stats, error) {
	return f.stats, nil
}

func TestAdminAggregatesRevenue(t *testing.T) {
	conn := setupUsageTestDB(t)
	sub, _ := seedActiveUser(t, conn, 30*24*time.Hour)

	for _, status := range []enums.PaymentStatus{enums.PaymentStatusCompleted, enums.PaymentStatusFailed} {
		payment := models.Payment{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			OrderID:        "SUB-" + uuid.NewString(),
			Pidx:           "px-" + uuid.NewString(),
			Amount:         decimal.RequireFromString("250.50"),
			Status:         status,
		}
		require.NoError(t, conn.Create(&payment).Error)
	}

	svc, err := NewService(ServiceParams{
		Repo:     NewRepository(conn),
		Subs:     subscriptions.NewRepository(conn),
		Payments: payments.NewRepository(conn),
		Stats:    &fixedStats{stats: &subscriptions.Stats{Total: 7}},
	})
	require.NoError(t, err)

	view, err := svc.Admin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), view.Subscriptions.Total)
	assert.True(t, view.Revenue.Equal(decimal.RequireFromString("250.50")), "only settled payments count")
}
