package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"backoffice/backend/internal/domain"
)

const weekKeyPrefix = "weekdetail:"

type RedisWeekCache struct {
	client *redis.Client
}

// NewRedisClient opens the client shared by the week cache and the finalize lock.
func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisWeekCache(client *redis.Client) *RedisWeekCache {
	return &RedisWeekCache{client: client}
}

func (c *RedisWeekCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func weekKey(weekID string) string {
	return weekKeyPrefix + weekID
}

func (c *RedisWeekCache) Get(ctx context.Context, weekID string) (*domain.WeekDetail, bool, error) {
	val, err := c.client.Get(ctx, weekKey(weekID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var detail domain.WeekDetail
	if err := json.Unmarshal([]byte(val), &detail); err != nil {
		return nil, false, err
	}
	return &detail, true, nil
}

func (c *RedisWeekCache) Set(ctx context.Context, weekID string, detail *domain.WeekDetail, ttl time.Duration) error {
	if detail == nil {
		return nil
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, weekKey(weekID), payload, ttl).Err()
}

func (c *RedisWeekCache) Delete(ctx context.Context, weekID string) error {
	return c.client.Del(ctx, weekKey(weekID)).Err()
}
