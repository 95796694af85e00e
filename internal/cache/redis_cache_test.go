package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backoffice/backend/internal/domain"
)

var (
	_ WeekCache = NoopWeekCache{}
	_ WeekCache = (*RedisWeekCache)(nil)
)

func TestNoopWeekCacheAlwaysMisses(t *testing.T) {
	c := NoopWeekCache{}
	require.NoError(t, c.Set(context.Background(), "week-1", &domain.WeekDetail{}, time.Minute))

	got, ok, err := c.Get(context.Background(), "week-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestRedisWeekCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("BACKOFFICE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set BACKOFFICE_TEST_REDIS_ADDR to run redis integration test")
	}

	ctx := context.Background()
	client := NewRedisClient(addr, "", 0)
	t.Cleanup(func() { _ = client.Close() })
	c := NewRedisWeekCache(client)
	require.NoError(t, c.Ping(ctx))

	weekID := "week-cache-it-" + time.Now().Format("150405.000000")
	detail := &domain.WeekDetail{
		Week:    domain.RegisterWeek{ID: weekID, StoreID: "store-001", OpeningBalance: decimal.RequireFromString("500.00")},
		Summary: domain.WeeklySummary{ClosingBalance: decimal.NewFromInt(945)},
	}
	require.NoError(t, c.Set(ctx, weekID, detail, time.Minute))

	got, ok, err := c.Get(ctx, weekID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Week.OpeningBalance.Equal(decimal.NewFromInt(500)))
	assert.True(t, got.Summary.ClosingBalance.Equal(decimal.NewFromInt(945)))

	require.NoError(t, c.Delete(ctx, weekID))
	_, ok, err = c.Get(ctx, weekID)
	require.NoError(t, err)
	assert.False(t, ok)
}
