package subscriptions

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/subpay-backend/pkg/db/models"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
)

func trialPlan() *models.SubscriptionPlan {
	return &models.SubscriptionPlan{
		Name:         "premium-monthly",
		Slug:         "premium-monthly",
		PlanType:     enums.PlanTypePremium,
		Duration:     enums.PlanDurationMonthly,
		Price:        decimal.RequireFromString("1500.50"),
		Currency:     "NPR",
		TrialEnabled: true,
		TrialDays:    7,
	}
}

func TestStartTrialOnceThenRejected(t *testing.T) {
	now := time.Now().UTC()
	plan := trialPlan()
	sub := &models.Subscription{}

	require.NoError(t, StartTrial(sub, plan, now))
	assert.Equal(t, enums.SubscriptionStatusTrial, sub.Status)
	assert.True(t, sub.TrialUsed)
	require.NotNil(t, sub.TrialEndsAt)
	assert.Equal(t, now.AddDate(0, 0, 7), *sub.TrialEndsAt)

	err := StartTrial(sub, plan, now)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.True(t, sub.TrialUsed, "trial_used must never reset")
}

func TestStartTrialRequiresTrialEnabledPlan(t *testing.T) {
	// trial_enabled gates eligibility even when trial days are configured.
	plan := trialPlan()
	plan.TrialEnabled = false

	err := StartTrial(&models.Subscription{}, plan, time.Now())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	plan = trialPlan()
	plan.TrialDays = 0
	err = StartTrial(&models.Subscription{}, plan, time.Now())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestConvertToPaidOnlyFromTrial(t *testing.T) {
	now := time.Now().UTC()
	plan := trialPlan()
	sub := &models.Subscription{Status: enums.SubscriptionStatusTrial}
	require.Nil(t, sub.StartsAt, "paid window must stay unset during trial")
	require.Nil(t, sub.ExpiresAt)

	require.NoError(t, ConvertToPaid(sub, plan, now))
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.StartsAt)
	require.NotNil(t, sub.ExpiresAt)
	assert.Equal(t, now, *sub.StartsAt)
	assert.Equal(t, now.AddDate(0, 0, 30), *sub.ExpiresAt)

	err := ConvertToPaid(sub, plan, now)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestExtendTrialAccumulates(t *testing.T) {
	now := time.Now().UTC()
	sub := &models.Subscription{}
	require.NoError(t, StartTrial(sub, trialPlan(), now))

	require.NoError(t, ExtendTrial(sub, 3))
	require.NoError(t, ExtendTrial(sub, 2))

	assert.True(t, sub.TrialExtended)
	assert.Equal(t, 5, sub.TrialExtensionDays)
	assert.Equal(t, now.AddDate(0, 0, 12), *sub.TrialEndsAt)
}

func TestExtendTrialRejectedOutsideTrial(t *testing.T) {
	sub := &models.Subscription{Status: enums.SubscriptionStatusActive}
	err := ExtendTrial(sub, 3)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestCancelImmediateIsHardStop(t *testing.T) {
	now := time.Now().UTC()
	end := now.AddDate(0, 0, 20)
	sub := &models.Subscription{
		Status:    enums.SubscriptionStatusActive,
		ExpiresAt: &end,
		AutoRenew: true,
	}

	require.NoError(t, Cancel(sub, true, now))
	assert.Equal(t, enums.SubscriptionStatusCancelled, sub.Status)
	require.NotNil(t, sub.ExpiresAt)
	assert.Equal(t, now, *sub.ExpiresAt)
	assert.False(t, sub.AutoRenew)
	require.NotNil(t, sub.CancelledAt)

	err := Cancel(sub, true, now)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestCancelAtPeriodEndKeepsAccess(t *testing.T) {
	now := time.Now().UTC()
	expiry := now.AddDate(0, 0, 20)
	sub := &models.Subscription{
		Status:    enums.SubscriptionStatusActive,
		ExpiresAt: &expiry,
		AutoRenew: true,
	}

	require.NoError(t, Cancel(sub, false, now))
	assert.Equal(t, enums.SubscriptionStatusActive, sub.Status)
	require.NotNil(t, sub.ExpiresAt)
	assert.Equal(t, expiry, *sub.ExpiresAt)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.False(t, sub.AutoRenew)
	assert.True(t, sub.IsActive(now))
}

func TestRenewShiftsWindowForward(t *testing.T) {
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -27)
	end := now.AddDate(0, 0, 3)
	sub := &models.Subscription{
		Status:    enums.SubscriptionStatusActive,
		StartsAt:  &start,
		ExpiresAt: &end,
	}

	require.NoError(t, Renew(sub, trialPlan()))
	require.NotNil(t, sub.StartsAt)
	require.NotNil(t, sub.ExpiresAt)
	assert.Equal(t, end, *sub.StartsAt)
	assert.Equal(t, end.AddDate(0, 0, 30), *sub.ExpiresAt)
}

func TestRenewRejectedFromTrial(t *testing.T) {
	sub := &models.Subscription{Status: enums.SubscriptionStatusTrial}
	err := Renew(sub, trialPlan())
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}
