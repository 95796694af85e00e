package cache

import (
	"context"
	"time"

	"backoffice/backend/internal/domain"
)

// WeekCache holds week read models between mutations.
type WeekCache interface {
	Get(ctx context.Context, weekID string) (*domain.WeekDetail, bool, error)
	Set(ctx context.Context, weekID string, detail *domain.WeekDetail, ttl time.Duration) error
	Delete(ctx context.Context, weekID string) error
}

type NoopWeekCache struct{}

func (NoopWeekCache) Get(_ context.Context, _ string) (*domain.WeekDetail, bool, error) {
	return nil, false, nil
}

func (NoopWeekCache) Set(_ context.Context, _ string, _ *domain.WeekDetail, _ time.Duration) error {
	return nil
}

func (NoopWeekCache) Delete(_ context.Context, _ string) error {
	return nil
}
