package register

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestHasCents(t *testing.T) {
	assert.True(t, HasCents(decimal.RequireFromString("12")))
	assert.True(t, HasCents(decimal.RequireFromString("12.5")))
	assert.True(t, HasCents(decimal.RequireFromString("-0.05")))
	assert.True(t, HasCents(decimal.RequireFromString("2.500")))
	assert.False(t, HasCents(decimal.RequireFromString("2.495")))
	assert.False(t, HasCents(decimal.RequireFromString("-0.001")))
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "$0.00"},
		{"5", "$5.00"},
		{"945", "$945.00"},
		{"1234.5", "$1,234.50"},
		{"1234567.891", "$1,234,567.89"},
		{"-5", "-$5.00"},
		{"-0.001", "$0.00"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAmount(amt(tt.in), "$"))
		})
	}
}

func TestRoundUnit(t *testing.T) {
	assert.Equal(t, "945", RoundUnit(amt("944.50")).String())
	assert.Equal(t, "944", RoundUnit(amt("944.49")).String())
}
