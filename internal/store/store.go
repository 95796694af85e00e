package store

import (
	"context"
	"errors"
	"time"

	"backoffice/backend/internal/domain"
	"backoffice/backend/internal/register"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
)

// Repository is everything the back office persists: the register engine's
// entry store plus week history, audit trail and user accounts.
type Repository interface {
	register.EntryStore

	GetWeek(ctx context.Context, weekID string) (*domain.RegisterWeek, error)
	// ListWeeks returns the store's weeks, most recent first.
	ListWeeks(ctx context.Context, storeID string, limit int) ([]domain.RegisterWeek, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
