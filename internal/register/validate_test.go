package register

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/backend/internal/domain"
)

func TestNewEntryComputesCash(t *testing.T) {
	entry, err := NewEntry("week-1", testWeek().Bounds(), domain.EntryInput{
		EntryDate: "2024-06-05",
		Business:  nullAmt("1000.00"),
		Payout:    nullAmt("50.00"),
		Card:      nullAmt("300.00"),
		OverShort: nullAmt("-5.00"),
	})

	require.NoError(t, err)
	assert.Equal(t, "week-1", entry.WeekID)
	assert.Equal(t, "645.00", entry.Cash.StringFixed(2))
}

func TestNewEntryDefaultsOptionalAmounts(t *testing.T) {
	entry, err := NewEntry("week-1", testWeek().Bounds(), domain.EntryInput{
		EntryDate: "2024-06-05",
		Business:  nullAmt("0"),
	})

	require.NoError(t, err)
	assert.True(t, entry.Payout.IsZero())
	assert.True(t, entry.OverShort.IsZero())
	assert.True(t, entry.Cash.IsZero())
}

func TestNewEntryRejectsInvalidInput(t *testing.T) {
	bounds := testWeek().Bounds()
	tests := []struct {
		name string
		in   domain.EntryInput
		want error
	}{
		{"missing business", domain.EntryInput{EntryDate: "2024-06-05"}, ErrInvalidEntry},
		{"negative card", domain.EntryInput{EntryDate: "2024-06-05", Business: nullAmt("1"), Card: nullAmt("-1")}, ErrInvalidEntry},
		{"bad date", domain.EntryInput{EntryDate: "06/05/2024", Business: nullAmt("1")}, ErrInvalidEntry},
		{"outside week", domain.EntryInput{EntryDate: "2024-06-10", Business: nullAmt("1")}, ErrDateOutsideWeek},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEntry("week-1", bounds, tt.in)
			assert.ErrorIs(t, err, tt.want)
			assert.True(t, IsValidation(err))
		})
	}
}

func TestNewEntryErrorNamesJSONField(t *testing.T) {
	_, err := NewEntry("week-1", testWeek().Bounds(), domain.EntryInput{EntryDate: "2024-06-05"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "business is required")
}

func TestNewAdjustment(t *testing.T) {
	rec, err := NewAdjustment("week-1", domain.AdjustmentInput{
		Kind:   domain.AdjustmentAdditionalCash,
		Name:   "  change fund ",
		Amount: nullAmt("25"),
	})
	require.NoError(t, err)
	assert.Equal(t, "change fund", rec.Name)

	_, err = NewAdjustment("week-1", domain.AdjustmentInput{Kind: "refund", Name: "x", Amount: nullAmt("1")})
	assert.ErrorIs(t, err, ErrInvalidEntry)

	_, err = NewAdjustment("week-1", domain.AdjustmentInput{Kind: domain.AdjustmentPayout, Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidEntry)
}

func TestValidateOpeningBalance(t *testing.T) {
	_, err := ValidateOpeningBalance(decimal.NullDecimal{})
	assert.ErrorIs(t, err, ErrOpeningBalanceRequired)

	_, err = ValidateOpeningBalance(nullAmt("-0.01"))
	assert.ErrorIs(t, err, ErrNegativeOpeningBalance)

	_, err = ValidateOpeningBalance(nullAmt("100.005"))
	assert.ErrorIs(t, err, ErrInvalidEntry)

	got, err := ValidateOpeningBalance(nullAmt("0"))
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}

func TestAmountsBeyondCentsAreRejected(t *testing.T) {
	bounds := testWeek().Bounds()
	entries := map[string]domain.EntryInput{
		"business":   {EntryDate: "2024-06-05", Business: nullAmt("2.495")},
		"payout":     {EntryDate: "2024-06-05", Business: nullAmt("1"), Payout: nullAmt("0.001")},
		"card":       {EntryDate: "2024-06-05", Business: nullAmt("1"), Card: nullAmt("0.125")},
		"over_short": {EntryDate: "2024-06-05", Business: nullAmt("1"), OverShort: nullAmt("-0.005")},
	}
	for field, in := range entries {
		t.Run(field, func(t *testing.T) {
			_, err := NewEntry("week-1", bounds, in)
			require.ErrorIs(t, err, ErrInvalidEntry)
			assert.Contains(t, err.Error(), field+" must have at most 2 decimal places")
		})
	}

	_, err := NewAdjustment("week-1", domain.AdjustmentInput{Kind: domain.AdjustmentPayout, Name: "Ice", Amount: nullAmt("9.999")})
	assert.ErrorIs(t, err, ErrInvalidEntry)

	entry, err := NewEntry("week-1", bounds, domain.EntryInput{EntryDate: "2024-06-05", Business: nullAmt("2.50"), OverShort: nullAmt("-0.05")})
	require.NoError(t, err)
	assert.Equal(t, "2.45", entry.Cash.StringFixed(2))
}
