package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"backoffice/backend/internal/domain"
	"backoffice/backend/internal/register"
	"backoffice/backend/internal/store"
	"backoffice/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	policy          register.CarryForwardPolicy
	weeksByID       map[string]domain.RegisterWeek
	weekIDByKey     map[string]string
	entriesByID     map[string]domain.DailyEntry
	adjustments     []domain.AdjustmentRecord
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount
}

// New returns an empty store.
func New(policy register.CarryForwardPolicy) *Store {
	return &Store{
		policy:          policy,
		weeksByID:       make(map[string]domain.RegisterWeek),
		weekIDByKey:     make(map[string]string),
		entriesByID:     make(map[string]domain.DailyEntry),
		adjustments:     make([]domain.AdjustmentRecord, 0, 32),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store with dev/demo accounts. Passwords come from
// SEED_ADMIN_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CLERK_PASSWORD; when any
// is unset a hardcoded dev default is used and a warning is logged. These
// accounts never exist in production, which runs on PostgreSQL.
func NewSeeded(policy register.CarryForwardPolicy, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New(policy)

	seeds := []struct {
		username string
		envKey   string
		fallback string
		role     string
		stores   []string
	}{
		{"admin", "SEED_ADMIN_PASSWORD", "admin12345", domain.RoleAdmin, nil},
		{"manager", "SEED_MANAGER_PASSWORD", "manager12345", domain.RoleManager, []string{"store-001"}},
		{"clerk", "SEED_CLERK_PASSWORD", "clerk12345", domain.RoleUser, []string{"store-001"}},
	}

	now := time.Now().UTC()
	for _, seed := range seeds {
		password := os.Getenv(seed.envKey)
		if password == "" {
			logger.Warn("memory store using default dev credentials", zap.String("username", seed.username), zap.String("override_env", seed.envKey))
			password = seed.fallback
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", seed.username, err)
		}
		s.usersByUsername[seed.username] = domain.UserAccount{
			Username:  seed.username,
			Password:  string(hash),
			Role:      seed.role,
			Stores:    seed.stores,
			Active:    true,
			CreatedAt: now,
		}
	}
	return s, nil
}

func weekKey(storeID string, start string) string {
	return storeID + "|" + start
}

func (s *Store) ResolveWeek(_ context.Context, storeID string, bounds domain.WeekBounds) (domain.WeekResolution, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" || !register.ValidBounds(bounds) {
		return domain.WeekResolution{}, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.weekIDByKey[weekKey(storeID, bounds.Start)]; ok {
		week := s.weeksByID[id]
		return domain.WeekResolution{Bounds: bounds, Week: &week}, nil
	}

	decision := register.DecideCarryForward(s.latestBeforeLocked(storeID, bounds.Start), bounds, s.policy)
	if !decision.Carry {
		return domain.WeekResolution{Bounds: bounds, NeedsOpeningBalance: true, Reason: decision.Reason}, nil
	}
	week := s.insertWeekLocked(storeID, bounds, decision.Opening)
	return domain.WeekResolution{Bounds: bounds, Week: &week}, nil
}

func (s *Store) CreateWeek(_ context.Context, storeID string, bounds domain.WeekBounds, opening decimal.Decimal) (*domain.RegisterWeek, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" || !register.ValidBounds(bounds) || opening.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.weekIDByKey[weekKey(storeID, bounds.Start)]; exists {
		return nil, store.ErrConflict
	}
	week := s.insertWeekLocked(storeID, bounds, opening)
	return &week, nil
}

func (s *Store) GetWeek(_ context.Context, weekID string) (*domain.RegisterWeek, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	week, ok := s.weeksByID[weekID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &week, nil
}

func (s *Store) ListWeeks(_ context.Context, storeID string, limit int) ([]domain.RegisterWeek, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.RegisterWeek, 0, 16)
	for _, week := range s.weeksByID {
		if week.StoreID == storeID {
			result = append(result, week)
		}
	}
	slices.SortFunc(result, func(a, b domain.RegisterWeek) int {
		return strings.Compare(b.StartDate, a.StartDate)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListDailyEntries(_ context.Context, weekID string) ([]domain.DailyEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.weeksByID[weekID]; !ok {
		return nil, store.ErrNotFound
	}
	return s.entriesOfLocked(weekID), nil
}

func (s *Store) CreateDailyEntry(_ context.Context, entry domain.DailyEntry) (*domain.DailyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	week, ok := s.weeksByID[entry.WeekID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if len(s.entriesOfLocked(week.ID)) >= register.MaxEntriesPerWeek {
		return nil, register.ErrWeekFull
	}
	if err := s.checkEntryLocked(week, entry, ""); err != nil {
		return nil, err
	}

	entry.ID = xid.New("entry")
	entry.Cash = register.EntryCash(entry)
	s.entriesByID[entry.ID] = entry
	s.touchLocked(week.ID)
	return &entry, nil
}

func (s *Store) UpdateDailyEntry(_ context.Context, entry domain.DailyEntry) (*domain.DailyEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.entriesByID[entry.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	entry.WeekID = existing.WeekID
	if err := s.checkEntryLocked(s.weeksByID[existing.WeekID], entry, entry.ID); err != nil {
		return nil, err
	}

	entry.Cash = register.EntryCash(entry)
	s.entriesByID[entry.ID] = entry
	s.touchLocked(entry.WeekID)
	return &entry, nil
}

func (s *Store) DeleteDailyEntry(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entriesByID[entryID]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.entriesByID, entryID)
	s.touchLocked(entry.WeekID)
	return nil
}

func (s *Store) ListAdjustments(_ context.Context, weekID string, kind domain.AdjustmentKind) ([]domain.AdjustmentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.weeksByID[weekID]; !ok {
		return nil, store.ErrNotFound
	}
	result := make([]domain.AdjustmentRecord, 0, 8)
	for _, rec := range s.adjustments {
		if rec.WeekID != weekID || (kind != "" && rec.Kind != kind) {
			continue
		}
		result = append(result, rec)
	}
	return result, nil
}

// CreateAdjustments stores every record or none of them.
func (s *Store) CreateAdjustments(_ context.Context, records []domain.AdjustmentRecord) ([]domain.CreatedAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range records {
		if _, ok := s.weeksByID[rec.WeekID]; !ok {
			return nil, store.ErrNotFound
		}
		if !rec.Kind.Valid() || strings.TrimSpace(rec.Name) == "" || rec.Amount.IsNegative() {
			return nil, store.ErrInvalidInput
		}
	}

	created := make([]domain.CreatedAdjustment, 0, len(records))
	for _, rec := range records {
		token := rec.Token
		rec.ID = xid.New("adj")
		rec.Token = ""
		s.adjustments = append(s.adjustments, rec)
		s.touchLocked(rec.WeekID)
		created = append(created, domain.CreatedAdjustment{Token: token, ID: rec.ID})
	}
	return created, nil
}

func (s *Store) UpdateAdjustment(_ context.Context, record domain.AdjustmentRecord) (*domain.AdjustmentRecord, error) {
	if !record.Kind.Valid() || strings.TrimSpace(record.Name) == "" || record.Amount.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.adjustments, func(rec domain.AdjustmentRecord) bool { return rec.ID == record.ID })
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	record.WeekID = s.adjustments[idx].WeekID
	record.Token = ""
	s.adjustments[idx] = record
	s.touchLocked(record.WeekID)
	return &record, nil
}

func (s *Store) DeleteAdjustment(_ context.Context, adjustmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.adjustments, func(rec domain.AdjustmentRecord) bool { return rec.ID == adjustmentID })
	if idx < 0 {
		return store.ErrNotFound
	}
	weekID := s.adjustments[idx].WeekID
	s.adjustments = slices.Delete(s.adjustments, idx, idx+1)
	s.touchLocked(weekID)
	return nil
}

func (s *Store) SaveWeekSummary(_ context.Context, weekID string, summary domain.WeeklySummary) (*domain.RegisterWeek, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	week, ok := s.weeksByID[weekID]
	if !ok {
		return nil, store.ErrNotFound
	}
	register.ApplySummary(&week, summary)
	now := time.Now().UTC()
	week.FinalizedAt = &now
	week.UpdatedAt = now
	s.weeksByID[weekID] = week
	return &week, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortStableFunc(result, func(a, b domain.AuditLog) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	user.Stores = slices.Clone(user.Stores)
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		user.Stores = slices.Clone(user.Stores)
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) insertWeekLocked(storeID string, bounds domain.WeekBounds, opening decimal.Decimal) domain.RegisterWeek {
	now := time.Now().UTC()
	week := domain.RegisterWeek{
		ID:                  xid.New("week"),
		StoreID:             storeID,
		StartDate:           bounds.Start,
		EndDate:             bounds.End,
		OpeningBalance:      opening,
		ClosingBalance:      decimal.Zero,
		TotalBusiness:       decimal.Zero,
		TotalPayout:         decimal.Zero,
		TotalCard:           decimal.Zero,
		TotalOverShort:      decimal.Zero,
		TotalCash:           decimal.Zero,
		TotalPayouts:        decimal.Zero,
		TotalAdditionalCash: decimal.Zero,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	s.weeksByID[week.ID] = week
	s.weekIDByKey[weekKey(storeID, bounds.Start)] = week.ID
	return week
}

// latestBeforeLocked returns the store's most recent week starting before start.
func (s *Store) latestBeforeLocked(storeID string, start string) *domain.RegisterWeek {
	var latest *domain.RegisterWeek
	for _, week := range s.weeksByID {
		if week.StoreID != storeID || week.StartDate >= start {
			continue
		}
		if latest == nil || week.StartDate > latest.StartDate {
			w := week
			latest = &w
		}
	}
	return latest
}

func (s *Store) entriesOfLocked(weekID string) []domain.DailyEntry {
	result := make([]domain.DailyEntry, 0, register.MaxEntriesPerWeek)
	for _, entry := range s.entriesByID {
		if entry.WeekID == weekID {
			result = append(result, entry)
		}
	}
	slices.SortFunc(result, func(a, b domain.DailyEntry) int {
		return strings.Compare(a.EntryDate, b.EntryDate)
	})
	return result
}

func (s *Store) checkEntryLocked(week domain.RegisterWeek, entry domain.DailyEntry, exceptID string) error {
	if !register.InWeek(week.Bounds(), entry.EntryDate) {
		return fmt.Errorf("%w: %s", register.ErrDateOutsideWeek, entry.EntryDate)
	}
	for _, other := range s.entriesByID {
		if other.WeekID == week.ID && other.ID != exceptID && other.EntryDate == entry.EntryDate {
			return fmt.Errorf("%w: %s", register.ErrDuplicateEntryDate, entry.EntryDate)
		}
	}
	return nil
}

func (s *Store) touchLocked(weekID string) {
	if week, ok := s.weeksByID[weekID]; ok {
		week.UpdatedAt = time.Now().UTC()
		s.weeksByID[weekID] = week
	}
}
