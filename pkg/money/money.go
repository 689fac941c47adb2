// Package money converts between major-unit decimal amounts (NPR) and the
// gateway's integer minor unit (paisa).
package money

import "github.com/shopspring/decimal"

// ToMinorUnit converts a major-unit amount to paisa, truncating any
// fraction below one paisa.
func ToMinorUnit(amount decimal.Decimal) int64 {
	return amount.Shift(2).Truncate(0).IntPart()
}

// FromMinorUnit converts paisa back to a major-unit decimal amount.
func FromMinorUnit(paisa int64) decimal.Decimal {
	return decimal.NewFromInt(paisa).Shift(-2)
}
