package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsm/redislock"
)

// DefaultTTL bounds how long a crashed holder can keep a service locked.
const DefaultTTL = time.Minute

const keyPrefix = "launchpad:lock:"

// RedisLocker holds locks in Redis so that several API nodes share them.
// A held lease is refreshed every TTL/2 until released.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLocker creates a Redis backed locker.
func NewRedisLocker(client redislock.RedisClient, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLocker{
		client: redislock.New(client),
		ttl:    ttl,
		logger: logger.With("component", "redis_locker"),
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	lk, err := l.client.Obtain(ctx, keyPrefix+key, l.ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	lease := &redisLease{
		lock: lk,
		key:  key,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go lease.refresh(l.ttl, l.logger)
	return lease, nil
}

type redisLease struct {
	lock *redislock.Lock
	key  string
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (l *redisLease) refresh(ttl time.Duration, logger *slog.Logger) {
	defer close(l.done)

	ticker := time.NewTicker(ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), ttl/4)
			err := l.lock.Refresh(ctx, ttl, nil)
			cancel()
			if err != nil {
				logger.Warn("failed to refresh lock", "key", l.key, "error", err)
				if errors.Is(err, redislock.ErrNotObtained) {
					return
				}
			}
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	var err error
	l.once.Do(func() {
		close(l.stop)
		<-l.done
		err = l.lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			err = nil
		}
	})
	return err
}
