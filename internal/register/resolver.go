package register

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"backoffice/backend/internal/domain"
)

// Resolver finds or opens the register week a store is working on.
type Resolver struct {
	store  EntryStore
	now    func() time.Time
	logger *zap.Logger
}

func NewResolver(store EntryStore, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, now: time.Now, logger: logger}
}

// Resolve resolves the current calendar week for storeID.
func (r *Resolver) Resolve(ctx context.Context, storeID string) (domain.WeekResolution, error) {
	return r.ResolveAt(ctx, storeID, r.now())
}

// ResolveAt resolves the week containing at. A result with
// NeedsOpeningBalance set carries no week; the caller must collect an opening
// balance and call ProvideOpeningBalance.
func (r *Resolver) ResolveAt(ctx context.Context, storeID string, at time.Time) (domain.WeekResolution, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return domain.WeekResolution{}, ErrStoreRequired
	}
	bounds := WeekOf(at)

	res, err := r.store.ResolveWeek(ctx, storeID, bounds)
	if err != nil {
		return domain.WeekResolution{}, fmt.Errorf("resolve week %s for store %s: %w", bounds.Start, storeID, err)
	}
	res.Bounds = bounds
	if res.NeedsOpeningBalance {
		r.logger.Info("register week needs opening balance",
			zap.String("store_id", storeID),
			zap.String("week_start", bounds.Start),
			zap.String("reason", res.Reason),
		)
	}
	return res, nil
}

// ProvideOpeningBalance creates the week at bounds with a human-entered
// opening balance. Nothing is created when the value is absent or negative.
func (r *Resolver) ProvideOpeningBalance(ctx context.Context, storeID string, bounds domain.WeekBounds, opening decimal.NullDecimal) (*domain.RegisterWeek, error) {
	storeID = strings.TrimSpace(storeID)
	if storeID == "" {
		return nil, ErrStoreRequired
	}
	if !ValidBounds(bounds) {
		return nil, fmt.Errorf("%w: %s..%s is not a Monday to Sunday week", ErrInvalidEntry, bounds.Start, bounds.End)
	}
	amount, err := ValidateOpeningBalance(opening)
	if err != nil {
		return nil, err
	}

	week, err := r.store.CreateWeek(ctx, storeID, bounds, amount)
	if err != nil {
		return nil, fmt.Errorf("create week %s for store %s: %w", bounds.Start, storeID, err)
	}
	return week, nil
}
