package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLocked is returned when another finalize holds the week.
var ErrLocked = errors.New("week is being finalized by another session")

const keyPrefix = "lock:week-finalize:"

// RedisLocker serializes week finalize across server instances.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisLocker(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{client: redislock.New(client), ttl: ttl, logger: logger}
}

// Acquire obtains the week lock and keeps its lease alive until the returned
// release func runs, so a finalize slower than ttl stays exclusive.
func (l *RedisLocker) Acquire(ctx context.Context, weekID string) (func(), error) {
	held, err := l.client.Obtain(ctx, keyPrefix+weekID, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLocked
	}
	if err != nil {
		return nil, err
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		keepAlive(stop, held, l.ttl, l.logger.With(zap.String("week_id", weekID)))
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// Release outlives a cancelled request context.
			if err := held.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.Warn("release week lock", zap.String("week_id", weekID), zap.Error(err))
			}
		})
	}, nil
}

type lease interface {
	Refresh(ctx context.Context, ttl time.Duration, opt *redislock.Options) error
}

// keepAlive extends the lease every third of ttl until stop closes or the
// lease is lost.
func keepAlive(stop <-chan struct{}, held lease, ttl time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(refreshInterval(ttl))
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), refreshInterval(ttl))
			err := held.Refresh(ctx, ttl, nil)
			cancel()
			if errors.Is(err, redislock.ErrNotObtained) {
				logger.Error("week lock lease lost")
				return
			}
			if err != nil {
				logger.Warn("refresh week lock", zap.Error(err))
			}
		}
	}
}

func refreshInterval(ttl time.Duration) time.Duration {
	if interval := ttl / 3; interval > 0 {
		return interval
	}
	return time.Millisecond
}

// MemoryLocker is the single-process locker used without Redis.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) Acquire(_ context.Context, weekID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[weekID]; busy {
		return nil, ErrLocked
	}
	l.held[weekID] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, weekID)
			l.mu.Unlock()
		})
	}, nil
}
