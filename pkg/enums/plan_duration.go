package enums

import "fmt"

// PlanDuration is the billing cadence of a subscription plan.
type PlanDuration string

const (
	PlanDurationMonthly   PlanDuration = "monthly"
	PlanDurationQuarterly PlanDuration = "quarterly"
	PlanDurationYearly    PlanDuration = "yearly"
)

var validPlanDurations = []PlanDuration{
	PlanDurationMonthly,
	PlanDurationQuarterly,
	PlanDurationYearly,
}

var planDurationDays = map[PlanDuration]int{
	PlanDurationMonthly:   30,
	PlanDurationQuarterly: 90,
	PlanDurationYearly:    365,
}

// String implements fmt.Stringer.
func (d PlanDuration) String() string {
	return string(d)
}

// IsValid reports whether the value is a known PlanDuration.
func (d PlanDuration) IsValid() bool {
	for _, candidate := range validPlanDurations {
		if candidate == d {
			return true
		}
	}
	return false
}

// Days returns the fixed day count used for window arithmetic.
func (d PlanDuration) Days() int {
	if days, ok := planDurationDays[d]; ok {
		return days
	}
	return planDurationDays[PlanDurationMonthly]
}

// ParsePlanDuration converts raw input into a PlanDuration.
func ParsePlanDuration(value string) (PlanDuration, error) {
	for _, candidate := range validPlanDurations {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan duration %q", value)
}
