package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestToMinorUnit(t *testing.T) {
	cases := []struct {
		amount string
		paisa  int64
	}{
		{"0", 0},
		{"1", 100},
		{"999.99", 99999},
		{"10.005", 1000}, // sub-paisa fraction truncates
		{"1500.50", 150050},
	}
	for _, tc := range cases {
		amount, err := decimal.NewFromString(tc.amount)
		assert.NoError(t, err)
		assert.Equal(t, tc.paisa, ToMinorUnit(amount), "amount %s", tc.amount)
	}
}

func TestRoundTripPreservesTwoDecimalAmounts(t *testing.T) {
	for _, raw := range []string{"0.01", "1.00", "999.99", "12345.67"} {
		amount, err := decimal.NewFromString(raw)
		assert.NoError(t, err)
		back := FromMinorUnit(ToMinorUnit(amount))
		assert.True(t, amount.Equal(back), "expected %s, got %s", amount, back)
	}
}
