package subscriptions

import (
	"time"

	"github.com/angelmondragon/subpay-backend/pkg/db/models"
	"github.com/angelmondragon/subpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/subpay-backend/pkg/errors"
)

// Lifecycle transitions mutate the subscription in memory only; callers
// persist the result. trial_used never goes back to false once set.

// StartTrial opens the trial window. A subscription gets exactly one trial
// over its lifetime, and only on plans that offer one.
func StartTrial(sub *models.Subscription, plan *models.SubscriptionPlan, now time.Time) error {
	if sub.TrialUsed {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "trial already used")
	}
	if plan == nil || !plan.TrialEnabled || plan.TrialDays <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "plan does not offer a trial")
	}

	start := now
	end := now.AddDate(0, 0, plan.TrialDays)
	sub.Status = enums.SubscriptionStatusTrial
	sub.TrialUsed = true
	sub.TrialStartsAt = &start
	sub.TrialEndsAt = &end
	return nil
}

// ConvertToPaid promotes a trialing subscription to a paid window starting now.
func ConvertToPaid(sub *models.Subscription, plan *models.SubscriptionPlan, now time.Time) error {
	if sub.Status != enums.SubscriptionStatusTrial {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only a trialing subscription can convert to paid").
			WithDetails(map[string]any{"status": sub.Status.String()})
	}
	if plan == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "plan is required")
	}

	start := now
	end := plan.PeriodEnd(now)
	sub.Status = enums.SubscriptionStatusActive
	sub.StartsAt = &start
	sub.ExpiresAt = &end
	return nil
}

// ExtendTrial pushes the trial window out by the given number of days.
func ExtendTrial(sub *models.Subscription, days int) error {
	if sub.Status != enums.SubscriptionStatusTrial || sub.TrialEndsAt == nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only a trialing subscription can be extended")
	}
	if days <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "extension days must be positive")
	}

	extended := sub.TrialEndsAt.AddDate(0, 0, days)
	sub.TrialEndsAt = &extended
	sub.TrialExtended = true
	sub.TrialExtensionDays += days
	return nil
}

// Cancel stops the subscription. Immediate cancellation is a hard stop;
// otherwise the subscription stays usable until natural expiry and the
// scheduler finalizes it.
func Cancel(sub *models.Subscription, immediate bool, now time.Time) error {
	if sub.Status == enums.SubscriptionStatusCancelled {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "subscription already cancelled")
	}

	stamp := now
	sub.CancelledAt = &stamp
	sub.AutoRenew = false
	if immediate {
		sub.Status = enums.SubscriptionStatusCancelled
		sub.ExpiresAt = &stamp
		return nil
	}
	sub.CancelAtPeriodEnd = true
	return nil
}

// Renew shifts the active window forward by one plan duration.
func Renew(sub *models.Subscription, plan *models.SubscriptionPlan) error {
	if sub.Status != enums.SubscriptionStatusActive || sub.ExpiresAt == nil {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "only an active subscription can renew").
			WithDetails(map[string]any{"status": sub.Status.String()})
	}
	if plan == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "plan is required")
	}

	start := *sub.ExpiresAt
	end := plan.PeriodEnd(start)
	sub.StartsAt = &start
	sub.ExpiresAt = &end
	return nil
}
