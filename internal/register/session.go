package register

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"backoffice/backend/internal/domain"
)

const MaxEntriesPerWeek = 7

// RecordState tracks one draft row: New -> Saving -> Saved, or
// Saved -> Dirty -> Saving -> Saved.
type RecordState int

const (
	StateNew RecordState = iota
	StateDirty
	StateSaving
	StateSaved
)

func (s RecordState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateDirty:
		return "dirty"
	case StateSaving:
		return "saving"
	case StateSaved:
		return "saved"
	default:
		return "unknown"
	}
}

// EntryRow is a daily entry in the draft. Key is stable for the life of the
// session, unlike the row's index.
type EntryRow struct {
	Key   string
	Entry domain.DailyEntry
	State RecordState
}

type AdjustmentRow struct {
	Key    string
	Record domain.AdjustmentRecord
	State  RecordState
}

type FinalizeResult struct {
	Detail  domain.WeekDetail
	Printed bool
}

type Option func(*Session)

func WithPrinter(p Printer) Option {
	return func(s *Session) { s.printer = p }
}

func WithLocker(l WeekLocker) Option {
	return func(s *Session) { s.locker = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Session is the draft state of one store week. Store calls are made without
// holding the mutex so different records save concurrently; a record that is
// already saving refuses a second save.
type Session struct {
	store   EntryStore
	printer Printer
	locker  WeekLocker
	logger  *zap.Logger

	mu          sync.Mutex
	week        domain.RegisterWeek
	entries     []*EntryRow
	adjustments []*AdjustmentRow
	summary     domain.WeeklySummary
	finalizing  bool
}

// Open hydrates a session with the week's persisted entries and adjustments.
func Open(ctx context.Context, store EntryStore, week domain.RegisterWeek, opts ...Option) (*Session, error) {
	s := &Session{store: store, week: week, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("week_id", week.ID), zap.String("store_id", week.StoreID))

	entries, err := store.ListDailyEntries(ctx, week.ID)
	if err != nil {
		return nil, fmt.Errorf("list daily entries: %w", err)
	}
	for _, e := range entries {
		s.entries = append(s.entries, &EntryRow{Key: uuid.NewString(), Entry: e, State: StateSaved})
	}
	for _, kind := range domain.AdjustmentKinds {
		records, err := store.ListAdjustments(ctx, week.ID, kind)
		if err != nil {
			return nil, fmt.Errorf("list %s adjustments: %w", kind, err)
		}
		for _, r := range records {
			s.adjustments = append(s.adjustments, &AdjustmentRow{Key: uuid.NewString(), Record: r, State: StateSaved})
		}
	}

	s.sortEntries()
	s.recompute()
	return s, nil
}

func (s *Session) Week() domain.RegisterWeek {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.week
}

func (s *Session) Summary() domain.WeeklySummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Entries returns a copy of the draft entries in draft order.
func (s *Session) Entries() []EntryRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]EntryRow, len(s.entries))
	for i, r := range s.entries {
		rows[i] = *r
	}
	return rows
}

// Adjustments returns a copy of the draft adjustments of one kind.
func (s *Session) Adjustments(kind domain.AdjustmentKind) []AdjustmentRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := make([]AdjustmentRow, 0, len(s.adjustments))
	for _, r := range s.adjustments {
		if r.Record.Kind == kind {
			rows = append(rows, *r)
		}
	}
	return rows
}

// HasPending reports whether any row is new, dirty or saving.
func (s *Session) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.entries {
		if r.State != StateSaved {
			return true
		}
	}
	for _, r := range s.adjustments {
		if r.State != StateSaved {
			return true
		}
	}
	return false
}

// AddEntry validates in and appends it to the draft as a new row.
func (s *Session) AddEntry(in domain.EntryInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizing {
		return "", ErrFinalizeInProgress
	}
	if len(s.entries) >= MaxEntriesPerWeek {
		return "", ErrWeekFull
	}
	entry, err := NewEntry(s.week.ID, s.week.Bounds(), in)
	if err != nil {
		return "", err
	}
	if s.dateTaken(entry.EntryDate, "") {
		return "", fmt.Errorf("%w: %s", ErrDuplicateEntryDate, entry.EntryDate)
	}

	row := &EntryRow{Key: uuid.NewString(), Entry: entry, State: StateNew}
	s.entries = append(s.entries, row)
	s.recompute()
	return row.Key, nil
}

// EditEntry replaces the values of a draft row. A saved row becomes dirty only
// when something actually changed.
func (s *Session) EditEntry(key string, in domain.EntryInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizing {
		return ErrFinalizeInProgress
	}
	_, row := s.findEntry(key)
	if row == nil {
		return ErrRecordNotFound
	}
	if row.State == StateSaving {
		return ErrRecordBusy
	}
	entry, err := NewEntry(s.week.ID, s.week.Bounds(), in)
	if err != nil {
		return err
	}
	if s.dateTaken(entry.EntryDate, key) {
		return fmt.Errorf("%w: %s", ErrDuplicateEntryDate, entry.EntryDate)
	}
	entry.ID = row.Entry.ID
	if sameEntry(row.Entry, entry) {
		return nil
	}

	row.Entry = entry
	if row.State == StateSaved {
		row.State = StateDirty
	}
	s.recompute()
	return nil
}

// SaveEntry creates or updates one row and returns its index after the draft
// has been re-sorted by date.
func (s *Session) SaveEntry(ctx context.Context, key string) (int, error) {
	s.mu.Lock()
	finalizing := s.finalizing
	s.mu.Unlock()
	if finalizing {
		return -1, ErrFinalizeInProgress
	}
	return s.saveEntry(ctx, key)
}

func (s *Session) saveEntry(ctx context.Context, key string) (int, error) {
	s.mu.Lock()
	_, row := s.findEntry(key)
	if row == nil {
		s.mu.Unlock()
		return -1, ErrRecordNotFound
	}
	switch row.State {
	case StateSaving:
		s.mu.Unlock()
		return -1, ErrRecordBusy
	case StateSaved:
		s.mu.Unlock()
		return -1, ErrNothingToSave
	}
	prev := row.State
	row.State = StateSaving
	pending := row.Entry
	s.mu.Unlock()

	var saved *domain.DailyEntry
	var err error
	if pending.ID == "" {
		saved, err = s.store.CreateDailyEntry(ctx, pending)
	} else {
		saved, err = s.store.UpdateDailyEntry(ctx, pending)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		row.State = prev
		s.logger.Warn("daily entry save failed", zap.String("entry_date", pending.EntryDate), zap.Error(err))
		return -1, fmt.Errorf("save entry %s: %w", pending.EntryDate, err)
	}

	row.Entry.ID = saved.ID
	row.Entry.WeekID = saved.WeekID
	row.Entry.Cash = saved.Cash
	row.State = StateSaved
	s.sortEntries()
	s.recompute()
	idx, _ := s.findEntry(key)
	return idx, nil
}

// DeleteEntry removes a row. Rows that were never persisted are dropped
// without a store call.
func (s *Session) DeleteEntry(ctx context.Context, key string) error {
	s.mu.Lock()
	if s.finalizing {
		s.mu.Unlock()
		return ErrFinalizeInProgress
	}
	_, row := s.findEntry(key)
	if row == nil {
		s.mu.Unlock()
		return ErrRecordNotFound
	}
	if row.State == StateSaving {
		s.mu.Unlock()
		return ErrRecordBusy
	}
	if row.Entry.ID == "" {
		s.removeEntry(key)
		s.recompute()
		s.mu.Unlock()
		return nil
	}
	prev := row.State
	row.State = StateSaving
	id := row.Entry.ID
	s.mu.Unlock()

	err := s.store.DeleteDailyEntry(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		row.State = prev
		s.logger.Warn("daily entry delete failed", zap.String("entry_id", id), zap.Error(err))
		return fmt.Errorf("delete entry %s: %w", id, err)
	}
	s.removeEntry(key)
	s.recompute()
	return nil
}

func (s *Session) AddAdjustment(in domain.AdjustmentInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizing {
		return "", ErrFinalizeInProgress
	}
	record, err := NewAdjustment(s.week.ID, in)
	if err != nil {
		return "", err
	}
	row := &AdjustmentRow{Key: uuid.NewString(), Record: record, State: StateNew}
	s.adjustments = append(s.adjustments, row)
	s.recompute()
	return row.Key, nil
}

func (s *Session) EditAdjustment(key string, in domain.AdjustmentInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizing {
		return ErrFinalizeInProgress
	}
	_, row := s.findAdjustment(key)
	if row == nil {
		return ErrRecordNotFound
	}
	if row.State == StateSaving {
		return ErrRecordBusy
	}
	record, err := NewAdjustment(s.week.ID, in)
	if err != nil {
		return err
	}
	record.ID = row.Record.ID
	if record.Kind == row.Record.Kind && record.Name == row.Record.Name && record.Amount.Equal(row.Record.Amount) {
		return nil
	}

	row.Record = record
	if row.State == StateSaved {
		row.State = StateDirty
	}
	s.recompute()
	return nil
}

func (s *Session) SaveAdjustment(ctx context.Context, key string) error {
	s.mu.Lock()
	finalizing := s.finalizing
	s.mu.Unlock()
	if finalizing {
		return ErrFinalizeInProgress
	}
	return s.saveAdjustment(ctx, key)
}

func (s *Session) saveAdjustment(ctx context.Context, key string) error {
	s.mu.Lock()
	_, row := s.findAdjustment(key)
	if row == nil {
		s.mu.Unlock()
		return ErrRecordNotFound
	}
	switch row.State {
	case StateSaving:
		s.mu.Unlock()
		return ErrRecordBusy
	case StateSaved:
		s.mu.Unlock()
		return ErrNothingToSave
	}
	prev := row.State
	row.State = StateSaving
	pending := row.Record
	s.mu.Unlock()

	var id string
	var err error
	if pending.ID == "" {
		pending.Token = key
		var created []domain.CreatedAdjustment
		created, err = s.store.CreateAdjustments(ctx, []domain.AdjustmentRecord{pending})
		if err == nil {
			id = createdIDs(created)[key]
			if id == "" {
				err = fmt.Errorf("store returned no id for adjustment %q", pending.Name)
			}
		}
	} else {
		id = pending.ID
		_, err = s.store.UpdateAdjustment(ctx, pending)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		row.State = prev
		s.logger.Warn("adjustment save failed", zap.String("kind", string(pending.Kind)), zap.Error(err))
		return fmt.Errorf("save %s adjustment: %w", pending.Kind, err)
	}
	row.Record.ID = id
	row.State = StateSaved
	s.recompute()
	return nil
}

func (s *Session) DeleteAdjustment(ctx context.Context, key string) error {
	s.mu.Lock()
	if s.finalizing {
		s.mu.Unlock()
		return ErrFinalizeInProgress
	}
	_, row := s.findAdjustment(key)
	if row == nil {
		s.mu.Unlock()
		return ErrRecordNotFound
	}
	if row.State == StateSaving {
		s.mu.Unlock()
		return ErrRecordBusy
	}
	if row.Record.ID == "" {
		s.removeAdjustment(key)
		s.recompute()
		s.mu.Unlock()
		return nil
	}
	prev := row.State
	row.State = StateSaving
	id := row.Record.ID
	s.mu.Unlock()

	err := s.store.DeleteAdjustment(ctx, id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		row.State = prev
		s.logger.Warn("adjustment delete failed", zap.String("adjustment_id", id), zap.Error(err))
		return fmt.Errorf("delete adjustment %s: %w", id, err)
	}
	s.removeAdjustment(key)
	s.recompute()
	return nil
}

// Finalize persists every pending row, writes the week summary and then
// prints. Nothing is printed unless the summary was persisted. A print
// failure is reported as ErrPrintFailed together with the persisted result.
func (s *Session) Finalize(ctx context.Context) (FinalizeResult, error) {
	s.mu.Lock()
	if s.finalizing {
		s.mu.Unlock()
		return FinalizeResult{}, ErrFinalizeInProgress
	}
	s.finalizing = true
	weekID := s.week.ID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.finalizing = false
		s.mu.Unlock()
	}()

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, weekID)
		if err != nil {
			return FinalizeResult{}, fmt.Errorf("%w: %w", ErrFinalizeIncomplete, err)
		}
		defer release()
	}

	for _, key := range s.pendingEntryKeys() {
		if _, err := s.saveEntry(ctx, key); err != nil && !errors.Is(err, ErrNothingToSave) {
			return FinalizeResult{}, fmt.Errorf("%w: %w", ErrFinalizeIncomplete, err)
		}
	}
	for _, kind := range domain.AdjustmentKinds {
		if err := s.createAdjustmentBatch(ctx, kind); err != nil {
			return FinalizeResult{}, fmt.Errorf("%w: %w", ErrFinalizeIncomplete, err)
		}
	}
	for _, key := range s.dirtyAdjustmentKeys() {
		if err := s.saveAdjustment(ctx, key); err != nil && !errors.Is(err, ErrNothingToSave) {
			return FinalizeResult{}, fmt.Errorf("%w: %w", ErrFinalizeIncomplete, err)
		}
	}

	s.mu.Lock()
	if s.hasUnsavedLocked() {
		s.mu.Unlock()
		return FinalizeResult{}, fmt.Errorf("%w: %w", ErrFinalizeIncomplete, ErrRecordBusy)
	}
	s.recompute()
	summary := s.summary
	s.mu.Unlock()

	week, err := s.store.SaveWeekSummary(ctx, weekID, summary)
	if err != nil {
		s.logger.Warn("week summary save failed", zap.Error(err))
		return FinalizeResult{}, fmt.Errorf("%w: save week summary: %w", ErrFinalizeIncomplete, err)
	}

	s.mu.Lock()
	s.week = *week
	detail := s.detailLocked()
	s.mu.Unlock()

	result := FinalizeResult{Detail: detail}
	if s.printer == nil {
		return result, nil
	}
	if err := s.printer.Print(ctx, detail); err != nil {
		s.logger.Warn("week print failed", zap.Error(err))
		return result, fmt.Errorf("%w: %w", ErrPrintFailed, err)
	}
	result.Printed = true
	return result, nil
}

// createAdjustmentBatch creates every new row of one kind in a single store
// call and attaches ids by token.
func (s *Session) createAdjustmentBatch(ctx context.Context, kind domain.AdjustmentKind) error {
	s.mu.Lock()
	var batch []*AdjustmentRow
	var records []domain.AdjustmentRecord
	for _, row := range s.adjustments {
		if row.Record.Kind != kind || row.State != StateNew {
			continue
		}
		row.State = StateSaving
		rec := row.Record
		rec.Token = row.Key
		records = append(records, rec)
		batch = append(batch, row)
	}
	s.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	created, err := s.store.CreateAdjustments(ctx, records)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		for _, row := range batch {
			row.State = StateNew
		}
		s.logger.Warn("adjustment batch create failed", zap.String("kind", string(kind)), zap.Int("rows", len(batch)), zap.Error(err))
		return fmt.Errorf("create %s adjustments: %w", kind, err)
	}

	ids := createdIDs(created)
	missing := 0
	for _, row := range batch {
		id, ok := ids[row.Key]
		if !ok || id == "" {
			row.State = StateNew
			missing++
			continue
		}
		row.Record.ID = id
		row.State = StateSaved
	}
	s.recompute()
	if missing > 0 {
		return fmt.Errorf("store returned no id for %d of %d %s adjustments", missing, len(batch), kind)
	}
	return nil
}

func (s *Session) pendingEntryKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for _, r := range s.entries {
		if r.State == StateNew || r.State == StateDirty {
			keys = append(keys, r.Key)
		}
	}
	return keys
}

func (s *Session) dirtyAdjustmentKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for _, r := range s.adjustments {
		if r.State == StateDirty {
			keys = append(keys, r.Key)
		}
	}
	return keys
}

func (s *Session) hasUnsavedLocked() bool {
	for _, r := range s.entries {
		if r.State != StateSaved {
			return true
		}
	}
	for _, r := range s.adjustments {
		if r.State != StateSaved {
			return true
		}
	}
	return false
}

func (s *Session) recompute() {
	entries := make([]domain.DailyEntry, len(s.entries))
	for i, r := range s.entries {
		entries[i] = r.Entry
	}
	adjustments := make([]domain.AdjustmentRecord, len(s.adjustments))
	for i, r := range s.adjustments {
		adjustments[i] = r.Record
	}
	s.summary = Aggregate(entries, adjustments, s.week.OpeningBalance)
}

func (s *Session) detailLocked() domain.WeekDetail {
	detail := domain.WeekDetail{
		Week:           s.week,
		Entries:        make([]domain.DailyEntry, 0, len(s.entries)),
		Payouts:        []domain.AdjustmentRecord{},
		AdditionalCash: []domain.AdjustmentRecord{},
		Summary:        s.summary,
	}
	for _, r := range s.entries {
		detail.Entries = append(detail.Entries, r.Entry)
	}
	for _, r := range s.adjustments {
		rec := r.Record
		rec.Token = ""
		switch rec.Kind {
		case domain.AdjustmentPayout:
			detail.Payouts = append(detail.Payouts, rec)
		case domain.AdjustmentAdditionalCash:
			detail.AdditionalCash = append(detail.AdditionalCash, rec)
		}
	}
	return detail
}

func (s *Session) sortEntries() {
	sort.SliceStable(s.entries, func(i, j int) bool {
		return s.entries[i].Entry.EntryDate < s.entries[j].Entry.EntryDate
	})
}

func (s *Session) findEntry(key string) (int, *EntryRow) {
	for i, r := range s.entries {
		if r.Key == key {
			return i, r
		}
	}
	return -1, nil
}

func (s *Session) findAdjustment(key string) (int, *AdjustmentRow) {
	for i, r := range s.adjustments {
		if r.Key == key {
			return i, r
		}
	}
	return -1, nil
}

func (s *Session) removeEntry(key string) {
	s.entries = slices.DeleteFunc(s.entries, func(r *EntryRow) bool { return r.Key == key })
}

func (s *Session) removeAdjustment(key string) {
	s.adjustments = slices.DeleteFunc(s.adjustments, func(r *AdjustmentRow) bool { return r.Key == key })
}

func (s *Session) dateTaken(date string, exceptKey string) bool {
	for _, r := range s.entries {
		if r.Key != exceptKey && r.Entry.EntryDate == date {
			return true
		}
	}
	return false
}

func sameEntry(a, b domain.DailyEntry) bool {
	return a.EntryDate == b.EntryDate &&
		a.Business.Equal(b.Business) &&
		a.Payout.Equal(b.Payout) &&
		a.Card.Equal(b.Card) &&
		a.OverShort.Equal(b.OverShort)
}

func createdIDs(created []domain.CreatedAdjustment) map[string]string {
	ids := make(map[string]string, len(created))
	for _, c := range created {
		ids[c.Token] = c.ID
	}
	return ids
}
