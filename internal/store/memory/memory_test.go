package memory

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"backoffice/backend/internal/domain"
	"backoffice/backend/internal/register"
	"backoffice/backend/internal/store"
)

var _ store.Repository = (*Store)(nil)

var (
	weekA = domain.WeekBounds{Start: "2024-06-03", End: "2024-06-09"}
	weekB = domain.WeekBounds{Start: "2024-06-10", End: "2024-06-16"}
	weekD = domain.WeekBounds{Start: "2024-06-24", End: "2024-06-30"}
)

func mustCreateWeek(t *testing.T, s *Store, bounds domain.WeekBounds, opening string) *domain.RegisterWeek {
	t.Helper()
	week, err := s.CreateWeek(context.Background(), "store-001", bounds, decimal.RequireFromString(opening))
	require.NoError(t, err)
	return week
}

func finalize(t *testing.T, s *Store, week *domain.RegisterWeek, closing string) {
	t.Helper()
	_, err := s.SaveWeekSummary(context.Background(), week.ID, domain.WeeklySummary{
		OpeningBalance: week.OpeningBalance,
		ClosingBalance: decimal.RequireFromString(closing),
	})
	require.NoError(t, err)
}

func TestResolveWeekFirstWeekNeedsOpening(t *testing.T) {
	s := New(register.PolicyRequireOpeningAfterGap)

	res, err := s.ResolveWeek(context.Background(), "store-001", weekA)
	require.NoError(t, err)
	assert.True(t, res.NeedsOpeningBalance)
	assert.Equal(t, register.ReasonFirstWeek, res.Reason)

	weeks, err := s.ListWeeks(context.Background(), "store-001", 0)
	require.NoError(t, err)
	assert.Empty(t, weeks)
}

func TestResolveWeekCarriesLiteralClosing(t *testing.T) {
	s := New(register.PolicyRequireOpeningAfterGap)
	first := mustCreateWeek(t, s, weekA, "500.00")
	finalize(t, s, first, "945")

	res, err := s.ResolveWeek(context.Background(), "store-001", weekB)
	require.NoError(t, err)
	require.NotNil(t, res.Week)
	assert.False(t, res.NeedsOpeningBalance)
	assert.Equal(t, "945", res.Week.OpeningBalance.String())

	again, err := s.ResolveWeek(context.Background(), "store-001", weekB)
	require.NoError(t, err)
	assert.Equal(t, res.Week.ID, again.Week.ID)
}

func TestResolveWeekGapPolicies(t *testing.T) {
	strict := New(register.PolicyRequireOpeningAfterGap)
	finalize(t, strict, mustCreateWeek(t, strict, weekA, "100"), "300")

	res, err := strict.ResolveWeek(context.Background(), "store-001", weekD)
	require.NoError(t, err)
	assert.True(t, res.NeedsOpeningBalance)
	assert.Equal(t, register.ReasonGap, res.Reason)

	lenient := New(register.PolicyCarryLatest)
	finalize(t, lenient, mustCreateWeek(t, lenient, weekA, "100"), "300")

	res, err = lenient.ResolveWeek(context.Background(), "store-001", weekD)
	require.NoError(t, err)
	require.NotNil(t, res.Week)
	assert.Equal(t, "300", res.Week.OpeningBalance.String())
}

func TestResolveWeekDoesNotCarryUnfinalizedWeek(t *testing.T) {
	s := New(register.PolicyCarryLatest)
	mustCreateWeek(t, s, weekA, "100")

	res, err := s.ResolveWeek(context.Background(), "store-001", weekB)
	require.NoError(t, err)
	assert.True(t, res.NeedsOpeningBalance)
	assert.Equal(t, register.ReasonNotFinalized, res.Reason)
}

func TestCreateWeekRejectsDuplicateAndNegative(t *testing.T) {
	s := New(register.PolicyRequireOpeningAfterGap)
	mustCreateWeek(t, s, weekA, "0")

	_, err := s.CreateWeek(context.Background(), "store-001", weekA, decimal.NewFromInt(5))
	assert.ErrorIs(t, err, store.ErrConflict)

	_, err = s.CreateWeek(context.Background(), "store-001", weekB, decimal.NewFromInt(-5))
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	_, err = s.CreateWeek(context.Background(), "store-001", domain.WeekBounds{Start: "2024-06-05", End: "2024-06-11"}, decimal.Zero)
	assert.ErrorIs(t, err, store.ErrInvalidInput)
}

func TestDailyEntryRules(t *testing.T) {
	s := New(register.PolicyRequireOpeningAfterGap)
	week := mustCreateWeek(t, s, weekA, "0")
	ctx := context.Background()

	entry := domain.DailyEntry{
		WeekID:    week.ID,
		EntryDate: "2024-06-04",
		Business:  decimal.RequireFromString("1000"),
		Payout:    decimal.RequireFromString("50"),
		Card:      decimal.RequireFromString("300"),
		OverShort: decimal.RequireFromString("-5"),
	}
	created, err := s.CreateDailyEntry(ctx, entry)
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "645", created.Cash.String())

	_, err = s.CreateDailyEntry(ctx, entry)
	assert.ErrorIs(t, err, register.ErrDuplicateEntryDate)

	outside := entry
	outside.EntryDate = "2024-06-10"
	_, err = s.CreateDailyEntry(ctx, outside)
	assert.ErrorIs(t, err, register.ErrDateOutsideWeek)

	for _, d := range []string{"03", "05", "06", "07", "08", "09"} {
		e := entry
		e.EntryDate = "2024-06-" + d
		_, err := s.CreateDailyEntry(ctx, e)
		require.NoError(t, err)
	}
	list, err := s.ListDailyEntries(ctx, week.ID)
	require.NoError(t, err)
	require.Len(t, list, 7)
	assert.Equal(t, "2024-06-03", list[0].EntryDate)
	assert.Equal(t, "2024-06-09", list[6].EntryDate)

	require.NoError(t, s.DeleteDailyEntry(ctx, list[0].ID))
	_, err = s.CreateDailyEntry(ctx, entry)
	assert.ErrorIs(t, err, register.ErrDuplicateEntryDate)

	update := *created
	update.Card = decimal.RequireFromString("400")
	updated, err := s.UpdateDailyEntry(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, "545", updated.Cash.String())

	assert.ErrorIs(t, s.DeleteDailyEntry(ctx, "entry-missing"), store.ErrNotFound)
}

func TestDailyEntryWeekIsFull(t *testing.T) {
	s := New(register.PolicyRequireOpeningAfterGap)
	week := mustCreateWeek(t, s, weekA, "0")
	ctx := context.Background()
	for _, d := range []string{"03", "04", "05", "06", "07", "08", "09"} {
		_, err := s.CreateDailyEntry(ctx, domain.DailyEntry{WeekID: week.ID, EntryDate: "2024-06-" + d})
		require.NoError(t, err)
	}

	_, err := s.CreateDailyEntry(ctx, domain.DailyEntry{WeekID: week.ID, EntryDate: "2024-06-05"})
	assert.ErrorIs(t, err, register.ErrWeekFull)
}

func TestCreateAdjustmentsReturnsTokenPairs(t *testing.T) {
	s := New(register.PolicyRequireOpeningAfterGap)
	week := mustCreateWeek(t, s, weekA, "0")
	ctx := context.Background()

	created, err := s.CreateAdjustments(ctx, []domain.AdjustmentRecord{
		{WeekID: week.ID, Kind: domain.AdjustmentPayout, Name: "Cleaning", Amount: decimal.NewFromInt(120), Token: "t1"},
		{WeekID: week.ID, Kind: domain.AdjustmentPayout, Name: "Ice", Amount: decimal.NewFromInt(80), Token: "t2"},
	})
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "t1", created[0].Token)
	assert.Equal(t, "t2", created[1].Token)

	payouts, err := s.ListAdjustments(ctx, week.ID, domain.AdjustmentPayout)
	require.NoError(t, err)
	require.Len(t, payouts, 2)
	assert.Equal(t, created[0].ID, payouts[0].ID)
	assert.Empty(t, payouts[0].Token)

	_, err = s.CreateAdjustments(ctx, []domain.AdjustmentRecord{
		{WeekID: week.ID, Kind: domain.AdjustmentAdditionalCash, Name: "Float", Amount: decimal.NewFromInt(10)},
		{WeekID: week.ID, Kind: "refund", Name: "Bad", Amount: decimal.NewFromInt(10)},
	})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	all, err := s.ListAdjustments(ctx, week.ID, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	rec := payouts[1]
	rec.Amount = decimal.NewFromInt(90)
	updated, err := s.UpdateAdjustment(ctx, rec)
	require.NoError(t, err)
	assert.Equal(t, "90", updated.Amount.String())

	require.NoError(t, s.DeleteAdjustment(ctx, rec.ID))
	assert.ErrorIs(t, s.DeleteAdjustment(ctx, rec.ID), store.ErrNotFound)
}

func TestSaveWeekSummaryMarksFinalized(t *testing.T) {
	s := New(register.PolicyRequireOpeningAfterGap)
	week := mustCreateWeek(t, s, weekA, "500")

	saved, err := s.SaveWeekSummary(context.Background(), week.ID, domain.WeeklySummary{
		TotalCash:      decimal.NewFromInt(645),
		TotalPayouts:   decimal.NewFromInt(200),
		OpeningBalance: decimal.NewFromInt(500),
		ClosingBalance: decimal.NewFromInt(945),
	})
	require.NoError(t, err)
	assert.True(t, saved.Finalized())
	assert.Equal(t, "945", saved.ClosingBalance.String())
	assert.Equal(t, "500", saved.OpeningBalance.String())

	_, err = s.SaveWeekSummary(context.Background(), "week-missing", domain.WeeklySummary{})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListWeeksNewestFirst(t *testing.T) {
	s := New(register.PolicyRequireOpeningAfterGap)
	mustCreateWeek(t, s, weekA, "0")
	mustCreateWeek(t, s, weekD, "0")
	mustCreateWeek(t, s, weekB, "0")

	weeks, err := s.ListWeeks(context.Background(), "store-001", 2)
	require.NoError(t, err)
	require.Len(t, weeks, 2)
	assert.Equal(t, weekD.Start, weeks[0].StartDate)
	assert.Equal(t, weekB.Start, weeks[1].StartDate)
}

func TestAuditLogsFilteredAndNewestFirst(t *testing.T) {
	s := New(register.PolicyRequireOpeningAfterGap)
	base := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()
	require.NoError(t, s.CreateAuditLog(ctx, domain.AuditLog{StoreID: "store-001", Action: "week.create", CreatedAt: base}))
	require.NoError(t, s.CreateAuditLog(ctx, domain.AuditLog{StoreID: "store-001", Action: "week.finalize", CreatedAt: base.Add(time.Hour)}))
	require.NoError(t, s.CreateAuditLog(ctx, domain.AuditLog{StoreID: "store-002", Action: "week.create", CreatedAt: base}))

	logs, err := s.ListAuditLogs(ctx, "store-001", base, base.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "week.finalize", logs[0].Action)
	assert.NotEmpty(t, logs[1].ID)
}

func TestUsers(t *testing.T) {
	s := New(register.PolicyRequireOpeningAfterGap)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, domain.UserAccount{Username: " Alice ", Password: "hash", Stores: []string{"store-002"}}))
	assert.ErrorIs(t, s.CreateUser(ctx, domain.UserAccount{Username: "alice", Password: "hash"}), store.ErrConflict)
	assert.ErrorIs(t, s.CreateUser(ctx, domain.UserAccount{Username: "bob"}), store.ErrInvalidInput)

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0].Username)
	assert.Equal(t, domain.RoleUser, users[0].Role)
	assert.Equal(t, []string{"store-002"}, users[0].Stores)

	require.NoError(t, s.UpdateUserPassword(ctx, "ALICE", "new-hash"))
	assert.ErrorIs(t, s.UpdateUserPassword(ctx, "carol", "x"), store.ErrNotFound)
}

func TestNewSeededHashesPasswords(t *testing.T) {
	t.Setenv("SEED_ADMIN_PASSWORD", "admin-secret-1")
	t.Setenv("SEED_MANAGER_PASSWORD", "")
	t.Setenv("SEED_CLERK_PASSWORD", "")

	s, err := NewSeeded(register.PolicyRequireOpeningAfterGap, zap.NewNop())
	require.NoError(t, err)

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 3)

	admin := users[0]
	assert.Equal(t, domain.RoleAdmin, admin.Role)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(admin.Password), []byte("admin-secret-1")))

	clerk := users[1]
	assert.Equal(t, "clerk", clerk.Username)
	assert.Equal(t, []string{"store-001"}, clerk.Stores)
}
