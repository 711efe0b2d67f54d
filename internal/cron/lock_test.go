package cron

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeLocker struct {
	owners map[string]string
	ttls   map[string]time.Duration
	err    error
}

func (f *fakeLocker) AcquireLock(_ context.Context, name, owner string, ttl time.Duration) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if _, held := f.owners[name]; held {
		return false, nil
	}
	f.owners[name] = owner
	f.ttls[name] = ttl
	return true, nil
}

func (f *fakeLocker) ReleaseLock(_ context.Context, name, owner string) (bool, error) {
	if f.owners[name] != owner {
		return false, nil
	}
	delete(f.owners, name)
	return true, nil
}

func TestRedisLockPerJob(t *testing.T) {
	store := &fakeLocker{owners: map[string]string{}, ttls: map[string]time.Duration{}}
	lock, err := NewRedisLock(store, 0)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	ctx := context.Background()

	ok, err := lock.Acquire(ctx, RetrySweepJob)
	if err != nil || !ok {
		t.Fatalf("acquire retry: ok=%v err=%v", ok, err)
	}
	ok, err = lock.Acquire(ctx, TimeoutSweepJob)
	if err != nil || !ok {
		t.Fatalf("jobs must not share a lock: ok=%v err=%v", ok, err)
	}
	if store.ttls[RetrySweepJob] != defaultLockTTL {
		t.Fatalf("expected default ttl, got %s", store.ttls[RetrySweepJob])
	}

	other, _ := NewRedisLock(store, time.Minute)
	if ok, _ := other.Acquire(ctx, RetrySweepJob); ok {
		t.Fatalf("second replica must not take a held lock")
	}
	if err := other.Release(ctx, RetrySweepJob); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, held := store.owners[RetrySweepJob]; !held {
		t.Fatalf("non-owner release dropped the lock")
	}

	if err := lock.Release(ctx, RetrySweepJob); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, held := store.owners[RetrySweepJob]; held {
		t.Fatalf("owner release should drop the lock")
	}
}

func TestRedisLockErrors(t *testing.T) {
	if _, err := NewRedisLock(nil, time.Minute); err == nil {
		t.Fatalf("expected error without client")
	}
	store := &fakeLocker{owners: map[string]string{}, ttls: map[string]time.Duration{}, err: errors.New("down")}
	lock, _ := NewRedisLock(store, time.Minute)
	if _, err := lock.Acquire(context.Background(), RetrySweepJob); err == nil {
		t.Fatalf("expected acquire error")
	}
}

func TestLocalLock(t *testing.T) {
	lock := NewLocalLock()
	ctx := context.Background()
	if ok, _ := lock.Acquire(ctx, "a"); !ok {
		t.Fatalf("expected first acquire")
	}
	if ok, _ := lock.Acquire(ctx, "a"); ok {
		t.Fatalf("expected held lock")
	}
	if ok, _ := lock.Acquire(ctx, "b"); !ok {
		t.Fatalf("other job should not be blocked")
	}
	_ = lock.Release(ctx, "a")
	if ok, _ := lock.Acquire(ctx, "a"); !ok {
		t.Fatalf("expected reacquire after release")
	}
}
