package enums

import "fmt"

// PlanType buckets plans into pricing tiers.
type PlanType string

const (
	PlanTypeBasic      PlanType = "basic"
	PlanTypeStandard   PlanType = "standard"
	PlanTypePremium    PlanType = "premium"
	PlanTypeEnterprise PlanType = "enterprise"
)

var validPlanTypes = []PlanType{
	PlanTypeBasic,
	PlanTypeStandard,
	PlanTypePremium,
	PlanTypeEnterprise,
}

// String implements fmt.Stringer.
func (p PlanType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PlanType.
func (p PlanType) IsValid() bool {
	for _, candidate := range validPlanTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePlanType converts raw input into a PlanType.
func ParsePlanType(value string) (PlanType, error) {
	for _, candidate := range validPlanTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid plan type %q", value)
}
