// Package lock provides per-service advisory locks so that two deployments
// of the same service never run at once.
package lock

import (
	"context"
	"errors"
	"sync"
)

// ErrLocked is returned when the key is already held.
var ErrLocked = errors.New("lock is held by another operation")

// Lease is a held lock. Release is safe to call more than once.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker acquires advisory locks. Acquire never waits: a held key fails with
// ErrLocked immediately.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// ServiceKey returns the lock key for a service.
func ServiceKey(workspaceID, serviceID string) string {
	return "service:" + workspaceID + ":" + serviceID
}

// =============================================================================
// LocalLocker
// =============================================================================

// LocalLocker holds locks in process memory. Suitable for a single node.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrLocked
	}
	l.held[key] = struct{}{}
	return &localLease{locker: l, key: key}, nil
}

// Held reports whether key is currently locked.
func (l *LocalLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok
}

type localLease struct {
	locker *LocalLocker
	key    string
	once   sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.locker.mu.Lock()
		delete(l.locker.held, l.key)
		l.locker.mu.Unlock()
	})
	return nil
}
