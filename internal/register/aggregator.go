package register

import (
	"github.com/shopspring/decimal"

	"backoffice/backend/internal/domain"
)

var adjustmentSign = map[domain.AdjustmentKind]decimal.Decimal{
	domain.AdjustmentPayout:         decimal.NewFromInt(-1),
	domain.AdjustmentAdditionalCash: decimal.NewFromInt(1),
}

// EntryCash is business - payout - card + over/short for one day.
func EntryCash(e domain.DailyEntry) decimal.Decimal {
	return e.Business.Sub(e.Payout).Sub(e.Card).Add(e.OverShort)
}

// Aggregate folds a week's entries and adjustments into its summary. Total cash
// is the sum of per-row cash and only the closing balance is rounded. Zero
// values stand in for absent amounts; adjustments of an unknown kind are
// ignored.
func Aggregate(entries []domain.DailyEntry, adjustments []domain.AdjustmentRecord, opening decimal.Decimal) domain.WeeklySummary {
	summary := domain.WeeklySummary{
		TotalBusiness:       decimal.Zero,
		TotalPayout:         decimal.Zero,
		TotalCard:           decimal.Zero,
		TotalOverShort:      decimal.Zero,
		TotalCash:           decimal.Zero,
		TotalPayouts:        decimal.Zero,
		TotalAdditionalCash: decimal.Zero,
		OpeningBalance:      opening,
	}

	for _, e := range entries {
		summary.TotalBusiness = summary.TotalBusiness.Add(e.Business)
		summary.TotalPayout = summary.TotalPayout.Add(e.Payout)
		summary.TotalCard = summary.TotalCard.Add(e.Card)
		summary.TotalOverShort = summary.TotalOverShort.Add(e.OverShort)
		summary.TotalCash = summary.TotalCash.Add(EntryCash(e))
	}

	adjusted := decimal.Zero
	for _, a := range adjustments {
		sign, ok := adjustmentSign[a.Kind]
		if !ok {
			continue
		}
		switch a.Kind {
		case domain.AdjustmentPayout:
			summary.TotalPayouts = summary.TotalPayouts.Add(a.Amount)
		case domain.AdjustmentAdditionalCash:
			summary.TotalAdditionalCash = summary.TotalAdditionalCash.Add(a.Amount)
		}
		adjusted = adjusted.Add(sign.Mul(a.Amount))
	}

	summary.ClosingBalance = RoundUnit(opening.Add(summary.TotalCash).Add(adjusted))
	return summary
}

// SummaryEqual compares two summaries amount by amount.
func SummaryEqual(a, b domain.WeeklySummary) bool {
	pairs := [][2]decimal.Decimal{
		{a.TotalBusiness, b.TotalBusiness},
		{a.TotalPayout, b.TotalPayout},
		{a.TotalCard, b.TotalCard},
		{a.TotalOverShort, b.TotalOverShort},
		{a.TotalCash, b.TotalCash},
		{a.TotalPayouts, b.TotalPayouts},
		{a.TotalAdditionalCash, b.TotalAdditionalCash},
		{a.OpeningBalance, b.OpeningBalance},
		{a.ClosingBalance, b.ClosingBalance},
	}
	for _, p := range pairs {
		if !p[0].Equal(p[1]) {
			return false
		}
	}
	return true
}

// ApplySummary copies the summary totals onto the week snapshot fields.
func ApplySummary(week *domain.RegisterWeek, s domain.WeeklySummary) {
	week.TotalBusiness = s.TotalBusiness
	week.TotalPayout = s.TotalPayout
	week.TotalCard = s.TotalCard
	week.TotalOverShort = s.TotalOverShort
	week.TotalCash = s.TotalCash
	week.TotalPayouts = s.TotalPayouts
	week.TotalAdditionalCash = s.TotalAdditionalCash
	week.ClosingBalance = s.ClosingBalance
}
