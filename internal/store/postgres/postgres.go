package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"backoffice/backend/internal/domain"
	"backoffice/backend/internal/register"
	"backoffice/backend/internal/store"
	"backoffice/backend/internal/xid"
)

type Store struct {
	db     *sql.DB
	policy register.CarryForwardPolicy
}

func New(ctx context.Context, databaseURL string, policy register.CarryForwardPolicy) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, policy: policy}, nil
}

// NewWithDB wraps an existing handle, for tests.
func NewWithDB(db *sql.DB, policy register.CarryForwardPolicy) *Store {
	return &Store{db: db, policy: policy}
}

func (s *Store) Close() error {
	return s.db.Close()
}

const weekColumns = `
	id, store_id, start_date, end_date, opening_balance, closing_balance,
	total_business, total_payout, total_card, total_over_short, total_cash,
	total_payouts, total_additional_cash, finalized_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanWeek(row rowScanner) (*domain.RegisterWeek, error) {
	var (
		week        domain.RegisterWeek
		start, end  time.Time
		finalizedAt sql.NullTime
	)
	err := row.Scan(
		&week.ID, &week.StoreID, &start, &end, &week.OpeningBalance, &week.ClosingBalance,
		&week.TotalBusiness, &week.TotalPayout, &week.TotalCard, &week.TotalOverShort, &week.TotalCash,
		&week.TotalPayouts, &week.TotalAdditionalCash, &finalizedAt, &week.CreatedAt, &week.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	week.StartDate = formatDate(start)
	week.EndDate = formatDate(end)
	if finalizedAt.Valid {
		at := finalizedAt.Time.UTC()
		week.FinalizedAt = &at
	}
	week.CreatedAt = week.CreatedAt.UTC()
	week.UpdatedAt = week.UpdatedAt.UTC()
	return &week, nil
}

func (s *Store) ResolveWeek(ctx context.Context, storeID string, bounds domain.WeekBounds) (domain.WeekResolution, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" || !register.ValidBounds(bounds) {
		return domain.WeekResolution{}, store.ErrInvalidInput
	}
	start, end, err := parseBounds(bounds)
	if err != nil {
		return domain.WeekResolution{}, err
	}

	week, err := scanWeek(s.db.QueryRowContext(ctx, `SELECT `+weekColumns+`
		FROM register_weeks
		WHERE store_id = $1 AND start_date = $2
	`, storeID, start))
	if err == nil {
		return domain.WeekResolution{Bounds: bounds, Week: week}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return domain.WeekResolution{}, err
	}

	prev, err := scanWeek(s.db.QueryRowContext(ctx, `SELECT `+weekColumns+`
		FROM register_weeks
		WHERE store_id = $1 AND start_date < $2
		ORDER BY start_date DESC
		LIMIT 1
	`, storeID, start))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return domain.WeekResolution{}, err
	}

	decision := register.DecideCarryForward(prev, bounds, s.policy)
	if !decision.Carry {
		return domain.WeekResolution{Bounds: bounds, NeedsOpeningBalance: true, Reason: decision.Reason}, nil
	}

	// A concurrent resolve may have inserted the week; read it back instead.
	week, err = scanWeek(s.db.QueryRowContext(ctx, `
		INSERT INTO register_weeks (id, store_id, start_date, end_date, opening_balance, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
		ON CONFLICT (store_id, start_date) DO NOTHING
		RETURNING `+weekColumns,
		xid.New("week"), storeID, start, end, decision.Opening))
	if errors.Is(err, store.ErrNotFound) {
		week, err = scanWeek(s.db.QueryRowContext(ctx, `SELECT `+weekColumns+`
			FROM register_weeks
			WHERE store_id = $1 AND start_date = $2
		`, storeID, start))
	}
	if err != nil {
		return domain.WeekResolution{}, err
	}
	return domain.WeekResolution{Bounds: bounds, Week: week}, nil
}

func (s *Store) CreateWeek(ctx context.Context, storeID string, bounds domain.WeekBounds, opening decimal.Decimal) (*domain.RegisterWeek, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" || !register.ValidBounds(bounds) || opening.IsNegative() {
		return nil, store.ErrInvalidInput
	}
	start, end, err := parseBounds(bounds)
	if err != nil {
		return nil, err
	}

	week, err := scanWeek(s.db.QueryRowContext(ctx, `
		INSERT INTO register_weeks (id, store_id, start_date, end_date, opening_balance, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
		RETURNING `+weekColumns,
		xid.New("week"), storeID, start, end, opening))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return week, nil
}

func (s *Store) GetWeek(ctx context.Context, weekID string) (*domain.RegisterWeek, error) {
	return scanWeek(s.db.QueryRowContext(ctx, `SELECT `+weekColumns+`
		FROM register_weeks
		WHERE id = $1
	`, weekID))
}

func (s *Store) ListWeeks(ctx context.Context, storeID string, limit int) ([]domain.RegisterWeek, error) {
	if limit < 1 {
		limit = 52
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+weekColumns+`
		FROM register_weeks
		WHERE store_id = $1
		ORDER BY start_date DESC
		LIMIT $2
	`, storeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	weeks := make([]domain.RegisterWeek, 0, limit)
	for rows.Next() {
		week, err := scanWeek(rows)
		if err != nil {
			return nil, err
		}
		weeks = append(weeks, *week)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return weeks, nil
}

func (s *Store) ListDailyEntries(ctx context.Context, weekID string) ([]domain.DailyEntry, error) {
	if err := s.weekExists(ctx, s.db, weekID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, week_id, entry_date, business, payout, card, over_short, cash
		FROM daily_entries
		WHERE week_id = $1
		ORDER BY entry_date ASC
	`, weekID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.DailyEntry, 0, register.MaxEntriesPerWeek)
	for rows.Next() {
		var (
			entry domain.DailyEntry
			date  time.Time
		)
		if err := rows.Scan(&entry.ID, &entry.WeekID, &date, &entry.Business, &entry.Payout, &entry.Card, &entry.OverShort, &entry.Cash); err != nil {
			return nil, err
		}
		entry.EntryDate = formatDate(date)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) CreateDailyEntry(ctx context.Context, entry domain.DailyEntry) (*domain.DailyEntry, error) {
	date, err := time.Parse(register.DateLayout, entry.EntryDate)
	if err != nil {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	bounds, err := lockWeekBounds(ctx, pgTx, entry.WeekID)
	if err != nil {
		return nil, err
	}

	var count int
	if err := pgTx.QueryRowContext(ctx, `SELECT count(*) FROM daily_entries WHERE week_id = $1`, entry.WeekID).Scan(&count); err != nil {
		return nil, err
	}
	if count >= register.MaxEntriesPerWeek {
		return nil, register.ErrWeekFull
	}
	if !register.InWeek(bounds, entry.EntryDate) {
		return nil, fmt.Errorf("%w: %s", register.ErrDateOutsideWeek, entry.EntryDate)
	}

	entry.ID = xid.New("entry")
	entry.Cash = register.EntryCash(entry)
	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO daily_entries (id, week_id, entry_date, business, payout, card, over_short, cash, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
	`, entry.ID, entry.WeekID, date, entry.Business, entry.Payout, entry.Card, entry.OverShort, entry.Cash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", register.ErrDuplicateEntryDate, entry.EntryDate)
		}
		return nil, err
	}
	if err := touchWeek(ctx, pgTx, entry.WeekID); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) UpdateDailyEntry(ctx context.Context, entry domain.DailyEntry) (*domain.DailyEntry, error) {
	date, err := time.Parse(register.DateLayout, entry.EntryDate)
	if err != nil {
		return nil, store.ErrInvalidInput
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	if err := pgTx.QueryRowContext(ctx, `SELECT week_id FROM daily_entries WHERE id = $1`, entry.ID).Scan(&entry.WeekID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	bounds, err := lockWeekBounds(ctx, pgTx, entry.WeekID)
	if err != nil {
		return nil, err
	}
	if !register.InWeek(bounds, entry.EntryDate) {
		return nil, fmt.Errorf("%w: %s", register.ErrDateOutsideWeek, entry.EntryDate)
	}

	entry.Cash = register.EntryCash(entry)
	_, err = pgTx.ExecContext(ctx, `
		UPDATE daily_entries
		SET entry_date = $2, business = $3, payout = $4, card = $5, over_short = $6, cash = $7, updated_at = now()
		WHERE id = $1
	`, entry.ID, date, entry.Business, entry.Payout, entry.Card, entry.OverShort, entry.Cash)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", register.ErrDuplicateEntryDate, entry.EntryDate)
		}
		return nil, err
	}
	if err := touchWeek(ctx, pgTx, entry.WeekID); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (s *Store) DeleteDailyEntry(ctx context.Context, entryID string) error {
	var weekID string
	err := s.db.QueryRowContext(ctx, `DELETE FROM daily_entries WHERE id = $1 RETURNING week_id`, entryID).Scan(&weekID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	return touchWeek(ctx, s.db, weekID)
}

func (s *Store) ListAdjustments(ctx context.Context, weekID string, kind domain.AdjustmentKind) ([]domain.AdjustmentRecord, error) {
	if err := s.weekExists(ctx, s.db, weekID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, week_id, kind, name, amount
		FROM adjustment_records
		WHERE week_id = $1 AND ($2 = '' OR kind = $2)
		ORDER BY created_at ASC, id ASC
	`, weekID, string(kind))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.AdjustmentRecord, 0, 8)
	for rows.Next() {
		var rec domain.AdjustmentRecord
		if err := rows.Scan(&rec.ID, &rec.WeekID, &rec.Kind, &rec.Name, &rec.Amount); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// CreateAdjustments inserts every record in one transaction and answers with
// the id generated for each submitted token.
func (s *Store) CreateAdjustments(ctx context.Context, records []domain.AdjustmentRecord) ([]domain.CreatedAdjustment, error) {
	for _, rec := range records {
		if !rec.Kind.Valid() || strings.TrimSpace(rec.Name) == "" || rec.Amount.IsNegative() {
			return nil, store.ErrInvalidInput
		}
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	created := make([]domain.CreatedAdjustment, 0, len(records))
	touched := make(map[string]struct{}, 1)
	for _, rec := range records {
		if _, seen := touched[rec.WeekID]; !seen {
			if _, err := lockWeekBounds(ctx, pgTx, rec.WeekID); err != nil {
				return nil, err
			}
			touched[rec.WeekID] = struct{}{}
		}
		id := xid.New("adj")
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO adjustment_records (id, week_id, kind, name, amount, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,clock_timestamp(),now())
		`, id, rec.WeekID, string(rec.Kind), rec.Name, rec.Amount)
		if err != nil {
			return nil, err
		}
		created = append(created, domain.CreatedAdjustment{Token: rec.Token, ID: id})
	}
	for weekID := range touched {
		if err := touchWeek(ctx, pgTx, weekID); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) UpdateAdjustment(ctx context.Context, record domain.AdjustmentRecord) (*domain.AdjustmentRecord, error) {
	if !record.Kind.Valid() || strings.TrimSpace(record.Name) == "" || record.Amount.IsNegative() {
		return nil, store.ErrInvalidInput
	}

	err := s.db.QueryRowContext(ctx, `
		UPDATE adjustment_records
		SET kind = $2, name = $3, amount = $4, updated_at = now()
		WHERE id = $1
		RETURNING week_id
	`, record.ID, string(record.Kind), record.Name, record.Amount).Scan(&record.WeekID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	record.Token = ""
	if err := touchWeek(ctx, s.db, record.WeekID); err != nil {
		return nil, err
	}
	return &record, nil
}

func (s *Store) DeleteAdjustment(ctx context.Context, adjustmentID string) error {
	var weekID string
	err := s.db.QueryRowContext(ctx, `DELETE FROM adjustment_records WHERE id = $1 RETURNING week_id`, adjustmentID).Scan(&weekID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	return touchWeek(ctx, s.db, weekID)
}

func (s *Store) SaveWeekSummary(ctx context.Context, weekID string, summary domain.WeeklySummary) (*domain.RegisterWeek, error) {
	return scanWeek(s.db.QueryRowContext(ctx, `
		UPDATE register_weeks
		SET total_business = $2,
			total_payout = $3,
			total_card = $4,
			total_over_short = $5,
			total_cash = $6,
			total_payouts = $7,
			total_additional_cash = $8,
			closing_balance = $9,
			finalized_at = now(),
			updated_at = now()
		WHERE id = $1
		RETURNING `+weekColumns,
		weekID, summary.TotalBusiness, summary.TotalPayout, summary.TotalCard, summary.TotalOverShort,
		summary.TotalCash, summary.TotalPayouts, summary.TotalAdditionalCash, summary.ClosingBalance))
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR store_id = $1)
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleUser
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, stores, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,true,$5,now())
	`, user.Username, user.Password, user.Role, joinStores(user.Stores), user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, stores, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var (
			user   domain.UserAccount
			stores string
		)
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &stores, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.Stores = splitStores(stores)
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) weekExists(ctx context.Context, q rowQueryer, weekID string) error {
	var one int
	if err := q.QueryRowContext(ctx, `SELECT 1 FROM register_weeks WHERE id = $1`, weekID).Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	}
	return nil
}

// lockWeekBounds locks the week row for the rest of the transaction so the
// entry count and date checks cannot race.
func lockWeekBounds(ctx context.Context, tx *sql.Tx, weekID string) (domain.WeekBounds, error) {
	var start, end time.Time
	err := tx.QueryRowContext(ctx, `
		SELECT start_date, end_date
		FROM register_weeks
		WHERE id = $1
		FOR UPDATE
	`, weekID).Scan(&start, &end)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WeekBounds{}, store.ErrNotFound
		}
		return domain.WeekBounds{}, err
	}
	return domain.WeekBounds{Start: formatDate(start), End: formatDate(end)}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func touchWeek(ctx context.Context, e execer, weekID string) error {
	_, err := e.ExecContext(ctx, `UPDATE register_weeks SET updated_at = now() WHERE id = $1`, weekID)
	return err
}

func parseBounds(b domain.WeekBounds) (time.Time, time.Time, error) {
	start, err := time.Parse(register.DateLayout, b.Start)
	if err != nil {
		return time.Time{}, time.Time{}, store.ErrInvalidInput
	}
	end, err := time.Parse(register.DateLayout, b.End)
	if err != nil {
		return time.Time{}, time.Time{}, store.ErrInvalidInput
	}
	return start, end, nil
}

func formatDate(t time.Time) string {
	return t.UTC().Format(register.DateLayout)
}

func joinStores(stores []string) string {
	return strings.Join(stores, ",")
}

func splitStores(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	stores := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			stores = append(stores, p)
		}
	}
	return stores
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
