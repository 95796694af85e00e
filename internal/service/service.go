package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"backoffice/backend/internal/cache"
	"backoffice/backend/internal/domain"
	"backoffice/backend/internal/register"
	"backoffice/backend/internal/store"
	"backoffice/backend/internal/xid"
)

var (
	ErrForbidden       = errors.New("forbidden")
	ErrSummaryMismatch = errors.New("submitted summary does not match stored records")
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo      store.Repository
	resolver  *register.Resolver
	weekCache cache.WeekCache
	cacheTTL  time.Duration
	locker    register.WeekLocker
	printer   register.Printer
	logger    *zap.Logger
	now       func() time.Time

	// generations counts invalidations per week so a detail read that
	// overlapped a mutation is not left in the cache.
	genMu       sync.Mutex
	generations map[string]uint64
}

// New wires the register engine to a repository. locker and printer may be
// nil, in which case finalize runs unguarded and nothing is printed.
func New(repo store.Repository, weekCache cache.WeekCache, cacheTTL time.Duration, locker register.WeekLocker, printer register.Printer, logger *zap.Logger) *Service {
	if weekCache == nil {
		weekCache = cache.NoopWeekCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:        repo,
		resolver:    register.NewResolver(repo, logger),
		weekCache:   weekCache,
		cacheTTL:    cacheTTL,
		locker:      locker,
		printer:     printer,
		logger:      logger,
		now:         time.Now,
		generations: make(map[string]uint64),
	}
}

// ResolveWeek finds or opens the week containing req.Date (today when empty).
func (s *Service) ResolveWeek(ctx context.Context, req domain.WeekResolveRequest) (domain.WeekResolution, error) {
	storeID := strings.TrimSpace(req.StoreID)
	if err := s.authorizeStore(ctx, storeID); err != nil {
		return domain.WeekResolution{}, err
	}
	at, err := s.parseDate(req.Date)
	if err != nil {
		return domain.WeekResolution{}, err
	}
	return s.resolver.ResolveAt(ctx, storeID, at)
}

// CreateWeek opens a week with a human-entered opening balance. Only managers
// and admins may do this.
func (s *Service) CreateWeek(ctx context.Context, req domain.WeekCreateRequest) (*domain.RegisterWeek, error) {
	storeID := strings.TrimSpace(req.StoreID)
	if err := s.authorizeStore(ctx, storeID); err != nil {
		return nil, err
	}
	if !hasRole(ctx, domain.RoleManager, domain.RoleAdmin) {
		return nil, fmt.Errorf("%w: manager role required to set an opening balance", ErrForbidden)
	}
	bounds, err := s.weekBounds(req.Date)
	if err != nil {
		return nil, err
	}

	week, err := s.resolver.ProvideOpeningBalance(ctx, storeID, bounds, req.OpeningBalance)
	if err != nil {
		return nil, err
	}
	s.logAudit(ctx, storeID, "week_create", "register_week", week.ID, fmt.Sprintf("start=%s,opening=%s", week.StartDate, week.OpeningBalance.StringFixed(2)))
	return week, nil
}

func (s *Service) ListWeeks(ctx context.Context, storeID string, limit int) ([]domain.RegisterWeek, error) {
	storeID = strings.TrimSpace(storeID)
	if err := s.authorizeStore(ctx, storeID); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 20
	}
	return s.repo.ListWeeks(ctx, storeID, limit)
}

// GetWeekDetail returns the week with its records and live summary. Reads are
// served from the week cache when possible.
func (s *Service) GetWeekDetail(ctx context.Context, weekID string) (domain.WeekDetail, error) {
	week, err := s.loadWeek(ctx, weekID)
	if err != nil {
		return domain.WeekDetail{}, err
	}

	cached, ok, err := s.weekCache.Get(ctx, week.ID)
	if err != nil {
		s.logger.Warn("week cache read failed", zap.String("week_id", week.ID), zap.Error(err))
	} else if ok && cached != nil {
		return *cached, nil
	}

	gen := s.generation(week.ID)
	entries, err := s.repo.ListDailyEntries(ctx, week.ID)
	if err != nil {
		return domain.WeekDetail{}, err
	}
	adjustments, err := s.repo.ListAdjustments(ctx, week.ID, "")
	if err != nil {
		return domain.WeekDetail{}, err
	}

	detail := domain.WeekDetail{
		Week:           *week,
		Entries:        entries,
		Payouts:        []domain.AdjustmentRecord{},
		AdditionalCash: []domain.AdjustmentRecord{},
		Summary:        register.Aggregate(entries, adjustments, week.OpeningBalance),
	}
	for _, a := range adjustments {
		switch a.Kind {
		case domain.AdjustmentPayout:
			detail.Payouts = append(detail.Payouts, a)
		case domain.AdjustmentAdditionalCash:
			detail.AdditionalCash = append(detail.AdditionalCash, a)
		default:
			s.logger.Warn("ignoring adjustment of unknown kind", zap.String("adjustment_id", a.ID), zap.String("kind", string(a.Kind)))
		}
	}

	s.cacheDetail(ctx, gen, &detail)
	return detail, nil
}

func (s *Service) CreateEntry(ctx context.Context, weekID string, in domain.EntryInput) (*domain.DailyEntry, error) {
	week, err := s.loadWeek(ctx, weekID)
	if err != nil {
		return nil, err
	}
	entry, err := register.NewEntry(week.ID, week.Bounds(), in)
	if err != nil {
		return nil, err
	}

	created, err := s.repo.CreateDailyEntry(ctx, entry)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, week.ID)
	s.logAudit(ctx, week.StoreID, "entry_create", "daily_entry", created.ID, entryDetail(*created))
	return created, nil
}

func (s *Service) UpdateEntry(ctx context.Context, weekID string, entryID string, in domain.EntryInput) (*domain.DailyEntry, error) {
	week, err := s.loadWeek(ctx, weekID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureEntryInWeek(ctx, week.ID, entryID); err != nil {
		return nil, err
	}
	entry, err := register.NewEntry(week.ID, week.Bounds(), in)
	if err != nil {
		return nil, err
	}
	entry.ID = entryID

	updated, err := s.repo.UpdateDailyEntry(ctx, entry)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, week.ID)
	s.logAudit(ctx, week.StoreID, "entry_update", "daily_entry", updated.ID, entryDetail(*updated))
	return updated, nil
}

func (s *Service) DeleteEntry(ctx context.Context, weekID string, entryID string) error {
	week, err := s.loadWeek(ctx, weekID)
	if err != nil {
		return err
	}
	if err := s.ensureEntryInWeek(ctx, week.ID, entryID); err != nil {
		return err
	}
	if err := s.repo.DeleteDailyEntry(ctx, entryID); err != nil {
		return err
	}
	s.invalidate(ctx, week.ID)
	s.logAudit(ctx, week.StoreID, "entry_delete", "daily_entry", entryID, "")
	return nil
}

func (s *Service) ListAdjustments(ctx context.Context, weekID string, kind domain.AdjustmentKind) ([]domain.AdjustmentRecord, error) {
	week, err := s.loadWeek(ctx, weekID)
	if err != nil {
		return nil, err
	}
	if kind != "" && !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown adjustment kind %q", store.ErrInvalidInput, kind)
	}
	return s.repo.ListAdjustments(ctx, week.ID, kind)
}

// CreateAdjustments validates every input and creates them in one batch. The
// returned records are in input order.
func (s *Service) CreateAdjustments(ctx context.Context, weekID string, inputs []domain.AdjustmentInput) ([]domain.AdjustmentRecord, error) {
	week, err := s.loadWeek(ctx, weekID)
	if err != nil {
		return nil, err
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: no adjustments submitted", register.ErrInvalidEntry)
	}

	records := make([]domain.AdjustmentRecord, 0, len(inputs))
	for i, in := range inputs {
		rec, err := register.NewAdjustment(week.ID, in)
		if err != nil {
			return nil, fmt.Errorf("adjustment %d: %w", i+1, err)
		}
		rec.Token = xid.New("tok")
		records = append(records, rec)
	}

	created, err := s.repo.CreateAdjustments(ctx, records)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(created))
	for _, c := range created {
		ids[c.Token] = c.ID
	}
	for i := range records {
		id, ok := ids[records[i].Token]
		if !ok {
			return nil, fmt.Errorf("store returned no id for adjustment %q", records[i].Name)
		}
		records[i].ID = id
		records[i].Token = ""
	}

	s.invalidate(ctx, week.ID)
	for _, rec := range records {
		s.logAudit(ctx, week.StoreID, "adjustment_create", "adjustment", rec.ID, adjustmentDetail(rec))
	}
	return records, nil
}

func (s *Service) UpdateAdjustment(ctx context.Context, weekID string, adjustmentID string, in domain.AdjustmentInput) (*domain.AdjustmentRecord, error) {
	week, err := s.loadWeek(ctx, weekID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureAdjustmentInWeek(ctx, week.ID, adjustmentID); err != nil {
		return nil, err
	}
	rec, err := register.NewAdjustment(week.ID, in)
	if err != nil {
		return nil, err
	}
	rec.ID = adjustmentID

	updated, err := s.repo.UpdateAdjustment(ctx, rec)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, week.ID)
	s.logAudit(ctx, week.StoreID, "adjustment_update", "adjustment", updated.ID, adjustmentDetail(*updated))
	return updated, nil
}

func (s *Service) DeleteAdjustment(ctx context.Context, weekID string, adjustmentID string) error {
	week, err := s.loadWeek(ctx, weekID)
	if err != nil {
		return err
	}
	if err := s.ensureAdjustmentInWeek(ctx, week.ID, adjustmentID); err != nil {
		return err
	}
	if err := s.repo.DeleteAdjustment(ctx, adjustmentID); err != nil {
		return err
	}
	s.invalidate(ctx, week.ID)
	s.logAudit(ctx, week.StoreID, "adjustment_delete", "adjustment", adjustmentID, "")
	return nil
}

// SaveSummary derives the summary from the stored rows and persists it. A
// client-computed summary that disagrees is rejected with ErrSummaryMismatch.
func (s *Service) SaveSummary(ctx context.Context, weekID string, req domain.SummarySaveRequest) (*domain.RegisterWeek, error) {
	week, err := s.loadWeek(ctx, weekID)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListDailyEntries(ctx, week.ID)
	if err != nil {
		return nil, err
	}
	adjustments, err := s.repo.ListAdjustments(ctx, week.ID, "")
	if err != nil {
		return nil, err
	}

	summary := register.Aggregate(entries, adjustments, week.OpeningBalance)
	if req.Summary != nil && !register.SummaryEqual(summary, *req.Summary) {
		s.logger.Warn("submitted summary rejected",
			zap.String("week_id", week.ID),
			zap.String("submitted_closing", req.Summary.ClosingBalance.String()),
			zap.String("derived_closing", summary.ClosingBalance.String()),
		)
		return nil, ErrSummaryMismatch
	}

	saved, err := s.repo.SaveWeekSummary(ctx, week.ID, summary)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, week.ID)
	s.logAudit(ctx, week.StoreID, "week_summary", "register_week", week.ID, "closing="+saved.ClosingBalance.StringFixed(2))
	return saved, nil
}

// SaveWeek replays a client draft through a reconciliation session and
// finalizes it: persisted rows missing from the draft are deleted, rows with
// an id are edited, rows without one are added. The whole draft is validated
// before anything is written. A print failure after the week was persisted is
// reported in the response, not as an error.
func (s *Service) SaveWeek(ctx context.Context, weekID string, draft domain.WeekDraft) (domain.SaveWeekResponse, error) {
	week, err := s.loadWeek(ctx, weekID)
	if err != nil {
		return domain.SaveWeekResponse{}, err
	}
	if err := validateDraft(*week, draft); err != nil {
		return domain.SaveWeekResponse{}, err
	}

	opts := []register.Option{register.WithLogger(s.logger)}
	if s.printer != nil {
		opts = append(opts, register.WithPrinter(s.printer))
	}
	if s.locker != nil {
		opts = append(opts, register.WithLocker(s.locker))
	}
	session, err := register.Open(ctx, s.repo, *week, opts...)
	if err != nil {
		return domain.SaveWeekResponse{}, err
	}
	// Rows may already have been written when a later step fails.
	defer s.invalidate(ctx, week.ID)

	if err := applyDraft(ctx, session, draft); err != nil {
		return domain.SaveWeekResponse{}, err
	}

	result, err := session.Finalize(ctx)
	resp := domain.SaveWeekResponse{Detail: result.Detail, Printed: result.Printed}
	switch {
	case err == nil:
	case errors.Is(err, register.ErrPrintFailed):
		resp.PrintError = err.Error()
	default:
		return domain.SaveWeekResponse{}, err
	}

	s.logAudit(ctx, week.StoreID, "week_finalize", "register_week", week.ID,
		fmt.Sprintf("closing=%s,printed=%t", result.Detail.Summary.ClosingBalance.StringFixed(2), resp.Printed))
	return resp, nil
}

// ListAuditLogs returns one day of a store's audit trail (the last 24 hours
// when date is empty).
func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	storeID = strings.TrimSpace(storeID)
	if err := s.authorizeStore(ctx, storeID); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().UTC().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse(register.DateLayout, strings.TrimSpace(date))
		if err != nil {
			return nil, fmt.Errorf("%w: date must use YYYY-MM-DD", store.ErrInvalidInput)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

func validateDraft(week domain.RegisterWeek, draft domain.WeekDraft) error {
	if len(draft.Entries) > register.MaxEntriesPerWeek {
		return register.ErrWeekFull
	}
	dates := make(map[string]struct{}, len(draft.Entries))
	for i, d := range draft.Entries {
		entry, err := register.NewEntry(week.ID, week.Bounds(), d.EntryInput)
		if err != nil {
			return fmt.Errorf("entry %d: %w", i+1, err)
		}
		if _, dup := dates[entry.EntryDate]; dup {
			return fmt.Errorf("%w: %s", register.ErrDuplicateEntryDate, entry.EntryDate)
		}
		dates[entry.EntryDate] = struct{}{}
	}
	for i, d := range draft.Adjustments {
		if _, err := register.NewAdjustment(week.ID, d.AdjustmentInput); err != nil {
			return fmt.Errorf("adjustment %d: %w", i+1, err)
		}
	}
	return nil
}

func applyDraft(ctx context.Context, session *register.Session, draft domain.WeekDraft) error {
	entryKeys := map[string]string{}
	for _, row := range session.Entries() {
		entryKeys[row.Entry.ID] = row.Key
	}
	adjustmentKeys := map[string]string{}
	for _, kind := range domain.AdjustmentKinds {
		for _, row := range session.Adjustments(kind) {
			adjustmentKeys[row.Record.ID] = row.Key
		}
	}

	// Every referenced row must belong to this week before anything is deleted.
	keepEntries := make(map[string]struct{}, len(draft.Entries))
	for _, d := range draft.Entries {
		if d.ID == "" {
			continue
		}
		if _, ok := entryKeys[d.ID]; !ok {
			return fmt.Errorf("%w: daily entry %s", store.ErrNotFound, d.ID)
		}
		keepEntries[d.ID] = struct{}{}
	}
	keepAdjustments := make(map[string]struct{}, len(draft.Adjustments))
	for _, d := range draft.Adjustments {
		if d.ID == "" {
			continue
		}
		if _, ok := adjustmentKeys[d.ID]; !ok {
			return fmt.Errorf("%w: adjustment %s", store.ErrNotFound, d.ID)
		}
		keepAdjustments[d.ID] = struct{}{}
	}

	for _, row := range session.Entries() {
		if _, keep := keepEntries[row.Entry.ID]; keep {
			continue
		}
		if err := session.DeleteEntry(ctx, row.Key); err != nil {
			return err
		}
	}
	for _, kind := range domain.AdjustmentKinds {
		for _, row := range session.Adjustments(kind) {
			if _, keep := keepAdjustments[row.Record.ID]; keep {
				continue
			}
			if err := session.DeleteAdjustment(ctx, row.Key); err != nil {
				return err
			}
		}
	}

	for _, d := range draft.Entries {
		if d.ID == "" {
			continue
		}
		if err := session.EditEntry(entryKeys[d.ID], d.EntryInput); err != nil {
			return err
		}
	}
	for _, d := range draft.Entries {
		if d.ID != "" {
			continue
		}
		if _, err := session.AddEntry(d.EntryInput); err != nil {
			return err
		}
	}

	for _, d := range draft.Adjustments {
		if d.ID == "" {
			if _, err := session.AddAdjustment(d.AdjustmentInput); err != nil {
				return err
			}
			continue
		}
		if err := session.EditAdjustment(adjustmentKeys[d.ID], d.AdjustmentInput); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) loadWeek(ctx context.Context, weekID string) (*domain.RegisterWeek, error) {
	weekID = strings.TrimSpace(weekID)
	if weekID == "" {
		return nil, fmt.Errorf("%w: week id is required", store.ErrInvalidInput)
	}
	week, err := s.repo.GetWeek(ctx, weekID)
	if err != nil {
		return nil, err
	}
	if err := s.authorizeStore(ctx, week.StoreID); err != nil {
		return nil, err
	}
	return week, nil
}

func (s *Service) ensureEntryInWeek(ctx context.Context, weekID string, entryID string) error {
	entries, err := s.repo.ListDailyEntries(ctx, weekID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.ID == entryID {
			return nil
		}
	}
	return fmt.Errorf("%w: daily entry %s", store.ErrNotFound, entryID)
}

func (s *Service) ensureAdjustmentInWeek(ctx context.Context, weekID string, adjustmentID string) error {
	records, err := s.repo.ListAdjustments(ctx, weekID, "")
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.ID == adjustmentID {
			return nil
		}
	}
	return fmt.Errorf("%w: adjustment %s", store.ErrNotFound, adjustmentID)
}

func (s *Service) authorizeStore(ctx context.Context, storeID string) error {
	if storeID == "" {
		return register.ErrStoreRequired
	}
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return fmt.Errorf("%w: no authenticated user", ErrForbidden)
	}
	if !actor.CanAccessStore(storeID) {
		return fmt.Errorf("%w: no access to store %s", ErrForbidden, storeID)
	}
	return nil
}

func hasRole(ctx context.Context, roles ...string) bool {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return false
	}
	for _, role := range roles {
		if actor.Role == role {
			return true
		}
	}
	return false
}

func (s *Service) parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.now(), nil
	}
	parsed, err := time.Parse(register.DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must use YYYY-MM-DD", store.ErrInvalidInput)
	}
	return parsed, nil
}

func (s *Service) weekBounds(raw string) (domain.WeekBounds, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return register.WeekOf(s.now()), nil
	}
	return register.WeekOfDate(raw)
}

// cacheDetail stores detail unless the week was invalidated after gen was
// taken. The generation is checked again after the write because an
// invalidation can land between the check and the Set. Instances sharing a
// Redis cache only see their own invalidations here; for them a stale detail
// lives at most cacheTTL.
func (s *Service) cacheDetail(ctx context.Context, gen uint64, detail *domain.WeekDetail) {
	weekID := detail.Week.ID
	if s.generation(weekID) != gen {
		return
	}
	if err := s.weekCache.Set(ctx, weekID, detail, s.cacheTTL); err != nil {
		s.logger.Warn("week cache write failed", zap.String("week_id", weekID), zap.Error(err))
		return
	}
	if s.generation(weekID) != gen {
		s.dropCached(ctx, weekID)
	}
}

func (s *Service) generation(weekID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[weekID]
}

func (s *Service) invalidate(ctx context.Context, weekID string) {
	s.genMu.Lock()
	s.generations[weekID]++
	s.genMu.Unlock()
	s.dropCached(ctx, weekID)
}

func (s *Service) dropCached(ctx context.Context, weekID string) {
	if err := s.weekCache.Delete(context.WithoutCancel(ctx), weekID); err != nil {
		s.logger.Warn("week cache invalidation failed", zap.String("week_id", weekID), zap.Error(err))
	}
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(context.WithoutCancel(ctx), domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now().UTC(),
	}); err != nil {
		s.logger.Warn("audit log write failed",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func entryDetail(e domain.DailyEntry) string {
	return fmt.Sprintf("date=%s,business=%s,cash=%s", e.EntryDate, fixed(e.Business), fixed(e.Cash))
}

func adjustmentDetail(a domain.AdjustmentRecord) string {
	return fmt.Sprintf("kind=%s,name=%s,amount=%s", a.Kind, a.Name, fixed(a.Amount))
}

func fixed(d decimal.Decimal) string {
	return d.StringFixed(2)
}
