package register_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/backend/internal/domain"
	"backoffice/backend/internal/register"
	"backoffice/backend/internal/store/memory"
)

func nullAmt(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

func TestFirstWeekThroughFinalize(t *testing.T) {
	ctx := context.Background()
	st := memory.New(register.PolicyRequireOpeningAfterGap)
	resolver := register.NewResolver(st, nil)
	monday := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

	res, err := resolver.ResolveAt(ctx, "store-001", monday)
	require.NoError(t, err)
	require.True(t, res.NeedsOpeningBalance)

	// Closing the prompt without a value creates nothing.
	_, err = resolver.ProvideOpeningBalance(ctx, "store-001", res.Bounds, decimal.NullDecimal{})
	require.ErrorIs(t, err, register.ErrOpeningBalanceRequired)
	res, err = resolver.ResolveAt(ctx, "store-001", monday)
	require.NoError(t, err)
	require.True(t, res.NeedsOpeningBalance)

	week, err := resolver.ProvideOpeningBalance(ctx, "store-001", res.Bounds, nullAmt("500.00"))
	require.NoError(t, err)
	assert.Equal(t, "500.00", week.OpeningBalance.StringFixed(2))

	session, err := register.Open(ctx, st, *week)
	require.NoError(t, err)

	key, err := session.AddEntry(domain.EntryInput{
		EntryDate: "2024-06-04",
		Business:  nullAmt("1000.00"),
		Payout:    nullAmt("50.00"),
		Card:      nullAmt("300.00"),
		OverShort: nullAmt("-5.00"),
	})
	require.NoError(t, err)
	_, err = session.SaveEntry(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "645.00", session.Entries()[0].Entry.Cash.StringFixed(2))

	_, err = session.AddAdjustment(domain.AdjustmentInput{Kind: domain.AdjustmentPayout, Name: "Cleaning", Amount: nullAmt("200.00")})
	require.NoError(t, err)

	result, err := session.Finalize(ctx)
	require.NoError(t, err)
	assert.Equal(t, "945.00", result.Detail.Summary.ClosingBalance.StringFixed(2))

	stored, err := st.GetWeek(ctx, week.ID)
	require.NoError(t, err)
	assert.True(t, stored.Finalized())
	assert.Equal(t, "945.00", stored.ClosingBalance.StringFixed(2))
	assert.Equal(t, "200.00", stored.TotalPayouts.StringFixed(2))

	payouts, err := st.ListAdjustments(ctx, week.ID, domain.AdjustmentPayout)
	require.NoError(t, err)
	require.Len(t, payouts, 1)
	assert.Equal(t, result.Detail.Payouts[0].ID, payouts[0].ID)

	// The following week opens with the literal closing balance, no prompt.
	next, err := resolver.ResolveAt(ctx, "store-001", monday.AddDate(0, 0, 7))
	require.NoError(t, err)
	require.False(t, next.NeedsOpeningBalance)
	require.NotNil(t, next.Week)
	assert.Equal(t, "945.00", next.Week.OpeningBalance.StringFixed(2))
	assert.Equal(t, "2024-06-10", next.Week.StartDate)
}

func TestGapWeekRequiresOpeningUnderDefaultPolicy(t *testing.T) {
	ctx := context.Background()
	st := memory.New(register.PolicyRequireOpeningAfterGap)
	resolver := register.NewResolver(st, nil)
	monday := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

	res, err := resolver.ResolveAt(ctx, "store-001", monday)
	require.NoError(t, err)
	week, err := resolver.ProvideOpeningBalance(ctx, "store-001", res.Bounds, nullAmt("100"))
	require.NoError(t, err)
	session, err := register.Open(ctx, st, *week)
	require.NoError(t, err)
	_, err = session.Finalize(ctx)
	require.NoError(t, err)

	later, err := resolver.ResolveAt(ctx, "store-001", monday.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.True(t, later.NeedsOpeningBalance)
	assert.Equal(t, register.ReasonGap, later.Reason)

	_, err = resolver.ProvideOpeningBalance(ctx, "store-001", later.Bounds, nullAmt("-1"))
	assert.ErrorIs(t, err, register.ErrNegativeOpeningBalance)
	weeks, err := st.ListWeeks(ctx, "store-001", 0)
	require.NoError(t, err)
	assert.Len(t, weeks, 1)
}
