package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/subpay-backend/internal/notifications"
	"github.com/angelmondragon/subpay-backend/internal/plans"
	dbpkg "github.com/angelmondragon/subpay-backend/pkg/db"
	"github.com/angelmondragon/subpay-backend/pkg/db/models"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
	"github.com/angelmondragon/subpay-backend/pkg/outbox"
)

func setupSubscriptionsTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	planTable := `
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
);`
	subTable := `
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
);`
	outboxTable := `
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
);`
	for _, ddl := range []string{planTable, subTable, outboxTable} {
		require.NoError(t, db.Exec(ddl).Error)
	}
	return db
}

type countingNotifier struct {
	calls []enums.NotificationTemplate
}

func (c *countingNotifier) Notify(_ context.Context, _ uuid.UUID, template enums.NotificationTemplate, _ notifications.TemplateContext) {
	c.calls = append(c.calls, template)
}

func newTestService(t *testing.T, conn *gorm.DB, notifier notifications.Notifier, stats StatsCache) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		DB:       dbpkg.NewWithConn(conn),
		Repo:     NewRepository(conn),
		Plans:    plans.NewRepository(conn),
		Outbox:   outbox.NewService(outbox.NewRepository(conn), nil),
		Notifier: notifier,
		Stats:    stats,
	})
	require.NoError(t, err)
	return svc
}

func seedPlan(t *testing.T, conn *gorm.DB, trialDays int) *models.SubscriptionPlan {
	t.Helper()
	plan := models.SubscriptionPlan{
		ID:           uuid.New(),
		Name:         "plan-" + uuid.NewString(),
		PlanType:     enums.PlanTypeStandard,
		Duration:     enums.PlanDurationMonthly,
		Price:        decimal.RequireFromString("999.99"),
		TrialEnabled: trialDays > 0,
		TrialDays:    trialDays,
		IsActive:     true,
	}
	require.NoError(t, conn.Create(&plan).Error)
	return &plan
}

func TestCreateWithTrial(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	notifier := &countingNotifier{}
	svc := newTestService(t, conn, notifier, nil)
	plan := seedPlan(t, conn, 7)

	sub, err := svc.Create(context.Background(), CreateParams{
		UserID:    uuid.New(),
		PlanID:    plan.ID,
		WithTrial: true,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusTrial, sub.Status)
	assert.True(t, sub.TrialUsed)
	require.NotNil(t, sub.TrialEndsAt)
	assert.Nil(t, sub.StartsAt, "paid window opens on conversion, not at trial start")
	assert.Nil(t, sub.ExpiresAt)
	assert.Equal(t, []enums.NotificationTemplate{enums.NotificationSubscriptionCreated}, notifier.calls)

	var events int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ?", sub.ID).Count(&events).Error)
	assert.Equal(t, int64(1), events)
}

func TestCreateWithoutTrialIsImmediatelyActive(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	svc := newTestService(t, conn, nil, nil)
	plan := seedPlan(t, conn, 0)

	sub, err := svc.Create(context.Background(), CreateParams{
		UserID: uuid.New(),
		PlanID: plan.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	assert.False(t, sub.TrialUsed)
	assert.True(t, sub.IsActive(time.Now().UTC()))
}

func TestCreateRejectsUnknownPlan(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	svc := newTestService(t, conn, nil, nil)

	_, err := svc.Create(context.Background(), CreateParams{
		UserID: uuid.New(),
		PlanID: uuid.New(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestStartTrialTwiceFailsAtServiceLevel(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	svc := newTestService(t, conn, nil, nil)
	plan := seedPlan(t, conn, 7)
	userID := uuid.New()

	sub, err := svc.Create(context.Background(), CreateParams{
		UserID:    userID,
		PlanID:    plan.ID,
		WithTrial: true,
	})
	require.NoError(t, err)

	_, err = svc.StartTrial(context.Background(), userID, sub.ID)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestCancelHidesForeignSubscription(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	svc := newTestService(t, conn, nil, nil)
	plan := seedPlan(t, conn, 0)

	sub, err := svc.Create(context.Background(), CreateParams{
		UserID: uuid.New(),
		PlanID: plan.ID,
	})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), uuid.New(), sub.ID, true)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

type stubStats struct {
	cached string
	stored map[string]string
}

func (s *stubStats) Get(_ context.Context, _ string) (string, error) {
	if s.cached == "" {
		return "", errors.New("cache miss")
	}
	return s.cached, nil
}

func (s *stubStats) Set(_ context.Context, key string, value any, _ time.Duration) error {
	if s.stored == nil {
		s.stored = map[string]string{}
	}
	s.stored[key] = value.(string)
	return nil
}

func (s *stubStats) StatsKey(name string) string { return "test:stats:" + name }

func TestStatsServedFromCache(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	cached, err := json.Marshal(Stats{Total: 42})
	require.NoError(t, err)
	svc := newTestService(t, conn, nil, &stubStats{cached: string(cached)})

	snapshot, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(42), snapshot.Total)
}

func TestStatsFallsThroughToDatabaseAndCaches(t *testing.T) {
	conn := setupSubscriptionsTestDB(t)
	stats := &stubStats{}
	svc := newTestService(t, conn, nil, stats)
	plan := seedPlan(t, conn, 0)

	_, err := svc.Create(context.Background(), CreateParams{UserID: uuid.New(), PlanID: plan.ID})
	require.NoError(t, err)

	snapshot, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, snapshot.Total, int64(1))
	assert.NotEmpty(t, stats.stored)
}
