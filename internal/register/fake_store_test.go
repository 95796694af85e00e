package register

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"backoffice/backend/internal/domain"
)

// fakeStore is an in-package EntryStore that records every call.
type fakeStore struct {
	mu          sync.Mutex
	calls       []string
	week        domain.RegisterWeek
	entries     map[string]domain.DailyEntry
	adjustments map[string]domain.AdjustmentRecord
	seq         int

	failCreateEntry error
	failUpdateEntry error
	failDelete      error
	failBatch       error
	failSummary     error
	reverseBatch    bool

	// When set, CreateDailyEntry signals started and waits for release.
	started chan struct{}
	release chan struct{}
}

func newFakeStore(week domain.RegisterWeek) *fakeStore {
	return &fakeStore{
		week:        week,
		entries:     map[string]domain.DailyEntry{},
		adjustments: map[string]domain.AdjustmentRecord{},
	}
}

func (f *fakeStore) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeStore) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeStore) count(call string) int {
	n := 0
	for _, c := range f.callLog() {
		if c == call {
			n++
		}
	}
	return n
}

func (f *fakeStore) nextID(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeStore) ResolveWeek(_ context.Context, storeID string, bounds domain.WeekBounds) (domain.WeekResolution, error) {
	f.record("ResolveWeek")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.week.ID != "" && f.week.StoreID == storeID && f.week.StartDate == bounds.Start {
		w := f.week
		return domain.WeekResolution{Bounds: bounds, Week: &w}, nil
	}
	return domain.WeekResolution{Bounds: bounds, NeedsOpeningBalance: true, Reason: ReasonFirstWeek}, nil
}

func (f *fakeStore) CreateWeek(_ context.Context, storeID string, bounds domain.WeekBounds, opening decimal.Decimal) (*domain.RegisterWeek, error) {
	f.record("CreateWeek")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.week = domain.RegisterWeek{
		ID:             "week-1",
		StoreID:        storeID,
		StartDate:      bounds.Start,
		EndDate:        bounds.End,
		OpeningBalance: opening,
		CreatedAt:      time.Now().UTC(),
	}
	w := f.week
	return &w, nil
}

func (f *fakeStore) ListDailyEntries(_ context.Context, weekID string) ([]domain.DailyEntry, error) {
	f.record("ListDailyEntries")
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.DailyEntry{}
	for _, e := range f.entries {
		if e.WeekID == weekID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryDate < out[j].EntryDate })
	return out, nil
}

func (f *fakeStore) CreateDailyEntry(_ context.Context, entry domain.DailyEntry) (*domain.DailyEntry, error) {
	f.record("CreateDailyEntry")
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	if f.failCreateEntry != nil {
		return nil, f.failCreateEntry
	}
	entry.ID = f.nextID("entry")
	entry.Cash = EntryCash(entry)
	f.mu.Lock()
	f.entries[entry.ID] = entry
	f.mu.Unlock()
	return &entry, nil
}

func (f *fakeStore) UpdateDailyEntry(_ context.Context, entry domain.DailyEntry) (*domain.DailyEntry, error) {
	f.record("UpdateDailyEntry")
	if f.failUpdateEntry != nil {
		return nil, f.failUpdateEntry
	}
	entry.Cash = EntryCash(entry)
	f.mu.Lock()
	f.entries[entry.ID] = entry
	f.mu.Unlock()
	return &entry, nil
}

func (f *fakeStore) DeleteDailyEntry(_ context.Context, entryID string) error {
	f.record("DeleteDailyEntry")
	if f.failDelete != nil {
		return f.failDelete
	}
	f.mu.Lock()
	delete(f.entries, entryID)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) ListAdjustments(_ context.Context, weekID string, kind domain.AdjustmentKind) ([]domain.AdjustmentRecord, error) {
	f.record("ListAdjustments")
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.AdjustmentRecord{}
	for _, a := range f.adjustments {
		if a.WeekID == weekID && a.Kind == kind {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) CreateAdjustments(_ context.Context, records []domain.AdjustmentRecord) ([]domain.CreatedAdjustment, error) {
	f.record("CreateAdjustments")
	if f.failBatch != nil {
		return nil, f.failBatch
	}
	created := make([]domain.CreatedAdjustment, 0, len(records))
	for _, r := range records {
		r.ID = f.nextID("adj")
		token := r.Token
		r.Token = ""
		f.mu.Lock()
		f.adjustments[r.ID] = r
		f.mu.Unlock()
		created = append(created, domain.CreatedAdjustment{Token: token, ID: r.ID})
	}
	if f.reverseBatch {
		for i, j := 0, len(created)-1; i < j; i, j = i+1, j-1 {
			created[i], created[j] = created[j], created[i]
		}
	}
	return created, nil
}

func (f *fakeStore) UpdateAdjustment(_ context.Context, record domain.AdjustmentRecord) (*domain.AdjustmentRecord, error) {
	f.record("UpdateAdjustment")
	f.mu.Lock()
	f.adjustments[record.ID] = record
	f.mu.Unlock()
	return &record, nil
}

func (f *fakeStore) DeleteAdjustment(_ context.Context, adjustmentID string) error {
	f.record("DeleteAdjustment")
	f.mu.Lock()
	delete(f.adjustments, adjustmentID)
	f.mu.Unlock()
	return nil
}

func (f *fakeStore) SaveWeekSummary(_ context.Context, weekID string, summary domain.WeeklySummary) (*domain.RegisterWeek, error) {
	f.record("SaveWeekSummary")
	if f.failSummary != nil {
		return nil, f.failSummary
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	w := f.week
	w.ID = weekID
	ApplySummary(&w, summary)
	now := time.Now().UTC()
	w.FinalizedAt = &now
	f.week = w
	return &w, nil
}

type recordingPrinter struct {
	mu      sync.Mutex
	printed []domain.WeekDetail
	calls   *fakeStore
	err     error
}

func (p *recordingPrinter) Print(_ context.Context, detail domain.WeekDetail) error {
	if p.calls != nil {
		p.calls.record("Print")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.printed = append(p.printed, detail)
	return nil
}

type busyLocker struct{ err error }

func (l busyLocker) Acquire(context.Context, string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	return func() {}, nil
}

func amt(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func nullAmt(s string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(s))
}

// testWeek is the week of Monday 2024-06-03.
func testWeek() domain.RegisterWeek {
	return domain.RegisterWeek{
		ID:             "week-1",
		StoreID:        "store-001",
		StartDate:      "2024-06-03",
		EndDate:        "2024-06-09",
		OpeningBalance: amt("500.00"),
	}
}
