package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rsk-balance-reconciler/internal/config"
	"github.com/smartdevs17/rsk-balance-reconciler/pkg/utils"
)

// ErrRunInProgress is returned when another reconciliation run holds the run lock
var ErrRunInProgress = utils.NewAppError(utils.ErrCodeRunInProgress, "Reconciliation run already in progress")

// RunLock guarantees a single reconciliation run at a time.
// TryAcquire returns ErrRunInProgress instead of waiting.
type RunLock interface {
	TryAcquire(ctx context.Context) (release func(), err error)
}

// LocalLock is a RunLock for a single process
type LocalLock struct {
	mu sync.Mutex
}

// NewLocalLock creates an in-process run lock
func NewLocalLock() *LocalLock {
	return &LocalLock{}
}

// TryAcquire takes the lock if it is free
func (l *LocalLock) TryAcquire(_ context.Context) (func(), error) {
	if !l.mu.TryLock() {
		return nil, ErrRunInProgress
	}

	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}

// RedisLock is a RunLock shared by every replica using the same Redis
type RedisLock struct {
	locker *redislock.Client
	key    string
	ttl    time.Duration
	logger *logrus.Entry
}

// NewRedisLock creates a run lock stored under key
func NewRedisLock(client redis.UniversalClient, key string, ttl time.Duration) *RedisLock {
	return &RedisLock{
		locker: redislock.New(client),
		key:    key,
		ttl:    ttl,
		logger: utils.ComponentLogger("run_lock").WithField("key", key),
	}
}

// TryAcquire obtains the lock and keeps refreshing it until release is called
func (l *RedisLock) TryAcquire(ctx context.Context) (func(), error) {
	lock, err := l.locker.Obtain(ctx, l.key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrRunInProgress
	}
	if err != nil {
		return nil, utils.WrapAppError(utils.ErrCodeConnection, "Failed to obtain run lock", err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(l.ttl / 2)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				refreshCtx, cancel := context.WithTimeout(context.Background(), l.ttl/2)
				err := lock.Refresh(refreshCtx, l.ttl, nil)
				cancel()
				if err != nil {
					l.logger.WithError(err).Error("Failed to refresh run lock")
				}
			}
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			close(stop)
			<-done

			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := lock.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				l.logger.WithError(err).Warn("Failed to release run lock")
			}
		})
	}

	return release, nil
}

// NewRunLock builds the run lock selected by configuration
func NewRunLock(cfg *config.LockConfig) (RunLock, func() error, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalLock(), func() error { return nil }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisLock(client, cfg.Key, cfg.TTL), client.Close, nil
	default:
		return nil, nil, utils.NewAppError(utils.ErrCodeConfiguration, "Unsupported lock backend", cfg.Backend)
	}
}
