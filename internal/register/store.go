package register

import (
	"context"

	"github.com/shopspring/decimal"

	"backoffice/backend/internal/domain"
)

// EntryStore is the persistence API the reconciliation engine runs against.
type EntryStore interface {
	// ResolveWeek returns the week at bounds, creating it with a carried
	// opening balance when allowed, or reports that a human must supply one.
	ResolveWeek(ctx context.Context, storeID string, bounds domain.WeekBounds) (domain.WeekResolution, error)
	CreateWeek(ctx context.Context, storeID string, bounds domain.WeekBounds, opening decimal.Decimal) (*domain.RegisterWeek, error)

	// ListDailyEntries returns entries ordered by date ascending.
	ListDailyEntries(ctx context.Context, weekID string) ([]domain.DailyEntry, error)
	CreateDailyEntry(ctx context.Context, entry domain.DailyEntry) (*domain.DailyEntry, error)
	UpdateDailyEntry(ctx context.Context, entry domain.DailyEntry) (*domain.DailyEntry, error)
	DeleteDailyEntry(ctx context.Context, entryID string) error

	// ListAdjustments returns a week's adjustments in creation order. An empty
	// kind lists both kinds.
	ListAdjustments(ctx context.Context, weekID string, kind domain.AdjustmentKind) ([]domain.AdjustmentRecord, error)
	// CreateAdjustments inserts records and returns one (token, id) pair per
	// submitted record.
	CreateAdjustments(ctx context.Context, records []domain.AdjustmentRecord) ([]domain.CreatedAdjustment, error)
	UpdateAdjustment(ctx context.Context, record domain.AdjustmentRecord) (*domain.AdjustmentRecord, error)
	DeleteAdjustment(ctx context.Context, adjustmentID string) error

	// SaveWeekSummary writes the summary snapshot onto the week and marks it finalized.
	SaveWeekSummary(ctx context.Context, weekID string, summary domain.WeeklySummary) (*domain.RegisterWeek, error)
}

// Printer is the presentation side effect run after a week is persisted.
type Printer interface {
	Print(ctx context.Context, detail domain.WeekDetail) error
}

// WeekLocker serializes finalize across processes for one week.
type WeekLocker interface {
	Acquire(ctx context.Context, weekID string) (release func(), err error)
}
