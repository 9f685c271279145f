package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/config"
	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

func TestLocalLockSingleFlight(t *testing.T) {
	lock := NewLocalLock()

	release, err := lock.TryAcquire(context.Background())
	require.NoError(t, err)

	_, err = lock.TryAcquire(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, utils.ErrCodeRunInProgress, utils.ErrorCode(err))

	release()
	release()

	again, err := lock.TryAcquire(context.Background())
	require.NoError(t, err)
	again()
}

func TestNewRunLock(t *testing.T) {
	lock, closeFn, err := NewRunLock(&config.LockConfig{Backend: "local"})
	require.NoError(t, err)
	assert.IsType(t, &LocalLock{}, lock)
	assert.NoError(t, closeFn())

	lock, closeFn, err = NewRunLock(&config.LockConfig{
		Backend:      "redis",
		Key:          "reconciler:run",
		TTL:          time.Minute,
		RedisAddress: "127.0.0.1:1",
	})
	require.NoError(t, err)
	assert.IsType(t, &RedisLock{}, lock)
	defer closeFn()

	_, _, err = NewRunLock(&config.LockConfig{Backend: "zookeeper"})
	assert.Error(t, err)
}

func TestRedisLockUnreachable(t *testing.T) {
	lock, closeFn, err := NewRunLock(&config.LockConfig{
		Backend:      "redis",
		Key:          "reconciler:run",
		TTL:          time.Minute,
		RedisAddress: "127.0.0.1:1",
	})
	require.NoError(t, err)
	defer closeFn()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = lock.TryAcquire(ctx)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRunInProgress)
	assert.Equal(t, utils.ErrCodeConnection, utils.ErrorCode(err))
}
