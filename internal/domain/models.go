package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AdjustmentKind string

const (
	AdjustmentPayout         AdjustmentKind = "payout"
	AdjustmentAdditionalCash AdjustmentKind = "additional_cash"
)

// AdjustmentKinds lists every kind in the order they are persisted and printed.
var AdjustmentKinds = []AdjustmentKind{AdjustmentPayout, AdjustmentAdditionalCash}

func (k AdjustmentKind) Valid() bool {
	return k == AdjustmentPayout || k == AdjustmentAdditionalCash
}

// WeekBounds is a Monday to Sunday register week. Both dates use the
// 2006-01-02 layout and are computed in UTC.
type WeekBounds struct {
	Start string `json:"start_date"`
	End   string `json:"end_date"`
}

// RegisterWeek is one store's register week. The total and closing fields are
// the snapshot written by the last finalize.
type RegisterWeek struct {
	ID                  string          `json:"id"`
	StoreID             string          `json:"store_id"`
	StartDate           string          `json:"start_date"`
	EndDate             string          `json:"end_date"`
	OpeningBalance      decimal.Decimal `json:"opening_balance"`
	ClosingBalance      decimal.Decimal `json:"closing_balance"`
	TotalBusiness       decimal.Decimal `json:"total_business"`
	TotalPayout         decimal.Decimal `json:"total_payout"`
	TotalCard           decimal.Decimal `json:"total_card"`
	TotalOverShort      decimal.Decimal `json:"total_over_short"`
	TotalCash           decimal.Decimal `json:"total_cash"`
	TotalPayouts        decimal.Decimal `json:"total_payouts"`
	TotalAdditionalCash decimal.Decimal `json:"total_additional_cash"`
	FinalizedAt         *time.Time      `json:"finalized_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

func (w RegisterWeek) Bounds() WeekBounds {
	return WeekBounds{Start: w.StartDate, End: w.EndDate}
}

func (w RegisterWeek) Finalized() bool {
	return w.FinalizedAt != nil
}

type DailyEntry struct {
	ID        string          `json:"id"`
	WeekID    string          `json:"week_id"`
	EntryDate string          `json:"entry_date"`
	Business  decimal.Decimal `json:"business"`
	Payout    decimal.Decimal `json:"payout"`
	Card      decimal.Decimal `json:"card"`
	OverShort decimal.Decimal `json:"over_short"`
	Cash      decimal.Decimal `json:"cash"`
}

// AdjustmentRecord is a manual weekly payout or additional cash line. Token is
// only set while a draft row is being batch created.
type AdjustmentRecord struct {
	ID     string          `json:"id"`
	WeekID string          `json:"week_id"`
	Kind   AdjustmentKind  `json:"kind"`
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
	Token  string          `json:"token,omitempty"`
}

type CreatedAdjustment struct {
	Token string `json:"token"`
	ID    string `json:"id"`
}

type WeeklySummary struct {
	TotalBusiness       decimal.Decimal `json:"total_business"`
	TotalPayout         decimal.Decimal `json:"total_payout"`
	TotalCard           decimal.Decimal `json:"total_card"`
	TotalOverShort      decimal.Decimal `json:"total_over_short"`
	TotalCash           decimal.Decimal `json:"total_cash"`
	TotalPayouts        decimal.Decimal `json:"total_payouts"`
	TotalAdditionalCash decimal.Decimal `json:"total_additional_cash"`
	OpeningBalance      decimal.Decimal `json:"opening_balance"`
	ClosingBalance      decimal.Decimal `json:"closing_balance"`
}

type WeekResolution struct {
	Bounds              WeekBounds    `json:"bounds"`
	Week                *RegisterWeek `json:"week,omitempty"`
	NeedsOpeningBalance bool          `json:"needs_opening_balance"`
	Reason              string        `json:"reason,omitempty"`
}

// WeekDetail is the read model of one week: the row, its records and the live
// summary derived from them.
type WeekDetail struct {
	Week           RegisterWeek       `json:"week"`
	Entries        []DailyEntry       `json:"entries"`
	Payouts        []AdjustmentRecord `json:"payouts"`
	AdditionalCash []AdjustmentRecord `json:"additional_cash"`
	Summary        WeeklySummary      `json:"summary"`
}

func (d WeekDetail) Adjustments() []AdjustmentRecord {
	all := make([]AdjustmentRecord, 0, len(d.Payouts)+len(d.AdditionalCash))
	all = append(all, d.Payouts...)
	all = append(all, d.AdditionalCash...)
	return all
}

// EntryInput is a daily entry as typed by a human. Absent amounts other than
// business count as zero.
type EntryInput struct {
	EntryDate string              `json:"entry_date" validate:"required,datetime=2006-01-02"`
	Business  decimal.NullDecimal `json:"business" validate:"required,decimal_nonneg,cents"`
	Payout    decimal.NullDecimal `json:"payout" validate:"omitempty,decimal_nonneg,cents"`
	Card      decimal.NullDecimal `json:"card" validate:"omitempty,decimal_nonneg,cents"`
	OverShort decimal.NullDecimal `json:"over_short" validate:"omitempty,cents"`
}

type AdjustmentInput struct {
	Kind   AdjustmentKind      `json:"kind" validate:"required,oneof=payout additional_cash"`
	Name   string              `json:"name" validate:"required,max=120"`
	Amount decimal.NullDecimal `json:"amount" validate:"required,decimal_nonneg,cents"`
}

type WeekResolveRequest struct {
	StoreID string `json:"store_id"`
	Date    string `json:"date,omitempty"`
}

type WeekCreateRequest struct {
	StoreID        string              `json:"store_id"`
	Date           string              `json:"date,omitempty"`
	OpeningBalance decimal.NullDecimal `json:"opening_balance"`
}

type EntryDraft struct {
	ID string `json:"id,omitempty"`
	EntryInput
}

type AdjustmentDraft struct {
	ID string `json:"id,omitempty"`
	AdjustmentInput
}

// WeekDraft is the full client-side state of a week submitted for save and print.
type WeekDraft struct {
	Entries     []EntryDraft      `json:"entries"`
	Adjustments []AdjustmentDraft `json:"adjustments"`
}

type AdjustmentBatchRequest struct {
	Adjustments []AdjustmentInput `json:"adjustments"`
}

// SummarySaveRequest optionally carries the summary the client computed. When
// present it must match the totals derived from the stored rows.
type SummarySaveRequest struct {
	Summary *WeeklySummary `json:"summary,omitempty"`
}

type SaveWeekResponse struct {
	Detail     WeekDetail `json:"detail"`
	Printed    bool       `json:"printed"`
	PrintError string     `json:"print_error,omitempty"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string   `json:"access_token"`
	Role        string   `json:"role"`
	Stores      []string `json:"stores"`
	ExpiresAt   string   `json:"expires_at"`
}

const (
	RoleUser    = "user"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

type Actor struct {
	Username string
	Role     string
	Stores   []string
}

// CanAccessStore reports whether the actor may read or write the given store.
func (a Actor) CanAccessStore(storeID string) bool {
	if a.Role == RoleAdmin {
		return true
	}
	for _, s := range a.Stores {
		if s == storeID {
			return true
		}
	}
	return false
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Stores    []string
	Active    bool
	CreatedAt time.Time
}

type UserCreateRequest struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Role     string   `json:"role"`
	Stores   []string `json:"stores"`
}

type UserSummary struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Stores    []string  `json:"stores"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}
