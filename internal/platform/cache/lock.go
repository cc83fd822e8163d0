package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another process holds the lock.
var ErrLockHeld = errors.New("platform/cache: lock held elsewhere")

// Locker hands out short-lived distributed locks.
type Locker struct {
	client *redislock.Client
}

// NewLocker wraps a redis client. A nil client yields a Locker that always succeeds.
func NewLocker(client redis.UniversalClient) *Locker {
	if client == nil {
		return &Locker{}
	}
	return &Locker{client: redislock.New(client)}
}

// WithLock runs fn while holding key. It fails with ErrLockHeld without running fn
// when the lock is taken.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l == nil || l.client == nil {
		return fn(ctx)
	}
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return ErrLockHeld
	}
	if err != nil {
		return fmt.Errorf("platform/cache: obtain lock %s: %w", key, err)
	}
	defer func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}
