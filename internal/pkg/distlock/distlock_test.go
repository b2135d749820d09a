package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisLockMutualExclusion(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	first := NewRedisLock(client, "newsletter:send:abc", time.Minute)
	second := NewRedisLock(client, "newsletter:send:abc", time.Minute)

	ok, err := first.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	ok, err = second.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second holder acquired a held lock")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	ok, err = second.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestRedisLockReleaseRequiresOwnership(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	owner := NewRedisLock(client, "newsletter:send:xyz", time.Minute)
	intruder := NewRedisLock(client, "newsletter:send:xyz", time.Minute)

	if ok, _ := owner.Acquire(ctx); !ok {
		t.Fatal("owner could not acquire")
	}

	// A non-owner release must not free the lock
	if err := intruder.Release(ctx); err != nil {
		t.Fatalf("intruder release: %v", err)
	}
	if ok, _ := intruder.Acquire(ctx); ok {
		t.Fatal("lock freed by a non-owner release")
	}
}

func TestRedisLockIndependentKeys(t *testing.T) {
	client := newTestRedis(t)
	ctx := context.Background()

	a := NewRedisLock(client, "newsletter:send:a", time.Minute)
	b := NewRedisLock(client, "newsletter:send:b", time.Minute)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("lock a not acquired")
	}
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("distinct newsletters must lock independently")
	}
}

func TestNewLockBackendSelection(t *testing.T) {
	client := newTestRedis(t)

	if _, ok := NewLock(client, nil, "k", time.Minute).(*RedisLock); !ok {
		t.Error("expected RedisLock when a redis client is configured")
	}
	if _, ok := NewLock(nil, nil, "k", time.Minute).(*PGAdvisoryLock); !ok {
		t.Error("expected PGAdvisoryLock without redis")
	}
}

func TestPGAdvisoryLockDeterministicID(t *testing.T) {
	a := NewPGAdvisoryLock(nil, "newsletter:send:abc")
	b := NewPGAdvisoryLock(nil, "newsletter:send:abc")
	c := NewPGAdvisoryLock(nil, "newsletter:send:other")

	if a.lockID != b.lockID {
		t.Error("same key must map to the same advisory id")
	}
	if a.lockID == c.lockID {
		t.Error("different keys should not collide")
	}
}
