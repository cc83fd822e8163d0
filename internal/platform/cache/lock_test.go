package cache

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestWithLockIsExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewLocker(client)
	ctx := context.Background()

	var innerErr error
	ran := false
	err := locker.WithLock(ctx, "job:a", time.Minute, func(ctx context.Context) error {
		innerErr = locker.WithLock(ctx, "job:a", time.Minute, func(context.Context) error {
			t.Fatal("nested lock must not be obtained")
			return nil
		})
		ran = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.ErrorIs(t, innerErr, ErrLockHeld)

	// Released after the first call returns.
	err = locker.WithLock(ctx, "job:a", time.Minute, func(context.Context) error { return nil })
	require.NoError(t, err)
}

func TestNilLockerRunsDirectly(t *testing.T) {
	locker := NewLocker(nil)
	called := false
	require.NoError(t, locker.WithLock(context.Background(), "k", time.Second, func(context.Context) error {
		called = true
		return nil
	}))
	require.True(t, called)
}

func TestNewParsesURL(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := New(context.Background(), "redis://"+mr.Addr()+"/2")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.Equal(t, 2, client.Options().DB)

	_, err = New(context.Background(), "redis://%zz")
	require.Error(t, err)
}
