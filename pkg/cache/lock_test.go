package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeepAliveExtendsUntilStopped(t *testing.T) {
	var calls atomic.Int32
	stop := keepAlive(5*time.Millisecond, func(ctx context.Context) (bool, error) {
		calls.Add(1)
		return true, nil
	})

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	stop()
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load())
}

func TestKeepAliveRetriesErrorsAndStopsWhenLockIsLost(t *testing.T) {
	var calls atomic.Int32
	stop := keepAlive(5*time.Millisecond, func(ctx context.Context) (bool, error) {
		if calls.Add(1) == 1 {
			return false, errors.New("redis timeout")
		}
		return false, nil
	})
	defer stop()

	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRedisLockerWithoutClient(t *testing.T) {
	unlock, err := NewRedisLocker(nil, "registrar:lock:", time.Second).Lock(context.Background(), "student:1:2025-1")
	require.Error(t, err)
	assert.Nil(t, unlock)
}
