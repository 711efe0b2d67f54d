package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/packfinderz-dispatch/pkg/instance"
	pkgredis "github.com/angelmondragon/packfinderz-dispatch/pkg/redis"
)

const defaultLockTTL = 2 * time.Minute

// Lock coordinates exclusive runs of a named job across replicas.
type Lock interface {
	Acquire(ctx context.Context, job string) (bool, error)
	Release(ctx context.Context, job string) error
}

// RedisLock implements Lock with one SET NX key per job. The owner token is
// fixed per process so a release never drops a lock taken by another replica
// after ours expired.
type RedisLock struct {
	client pkgredis.Locker
	ttl    time.Duration
	owner  string
}

// NewRedisLock constructs a Redis-backed lock.
func NewRedisLock(client pkgredis.Locker, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, ttl: ttl, owner: instance.GetID() + ":" + uuid.NewString()}, nil
}

// Acquire tries to own the job's lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context, job string) (bool, error) {
	ok, err := l.client.AcquireLock(ctx, job, l.owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire %s lock: %w", job, err)
	}
	return ok, nil
}

// Release frees the job's lock only if this process still owns it.
func (l *RedisLock) Release(ctx context.Context, job string) error {
	if _, err := l.client.ReleaseLock(ctx, job, l.owner); err != nil {
		return fmt.Errorf("release %s lock: %w", job, err)
	}
	return nil
}

// LocalLock serialises jobs inside one process. Used by the CLI and tests
// where no Redis is configured.
type LocalLock struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalLock returns an in-process lock.
func NewLocalLock() *LocalLock {
	return &LocalLock{held: map[string]bool{}}
}

func (l *LocalLock) Acquire(_ context.Context, job string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[job] {
		return false, nil
	}
	l.held[job] = true
	return true, nil
}

func (l *LocalLock) Release(_ context.Context, job string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, job)
	return nil
}
