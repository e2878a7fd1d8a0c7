// Package lock provides the per-entity locks that serialize reviewer actions on an
// invoice and stock changes on an inventory item.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"invoice-recon/internal/core"
)

// ErrNotObtained is returned by both lockers when the wait budget runs out.
var ErrNotObtained = redislock.ErrNotObtained

const (
	DefaultTTL  = 30 * time.Second
	DefaultWait = 5 * time.Second
	retryStep   = 50 * time.Millisecond
)

// RedisLocker holds locks in Redis so that several server instances agree.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl, wait time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if wait <= 0 {
		wait = DefaultWait
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, wait: wait}
}

// Obtain retries with linear backoff until the lock is held or the wait budget is spent.
func (l *RedisLocker) Obtain(ctx context.Context, key string) (core.Lock, error) {
	retries := int(l.wait / retryStep)
	lk, err := l.client.Obtain(ctx, "lock:"+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(retryStep), retries),
	})
	if err != nil {
		return nil, fmt.Errorf("obtain %s: %w", key, err)
	}
	return lk, nil
}

// LocalLocker serializes within one process. It is used when no Redis address is
// configured and in tests.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
	wait  time.Duration
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	if wait <= 0 {
		wait = DefaultWait
	}
	return &LocalLocker{slots: map[string]*slot{}, wait: wait}
}

func (l *LocalLocker) Obtain(ctx context.Context, key string) (core.Lock, error) {
	l.mu.Lock()
	s := l.slots[key]
	if s == nil {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()
	select {
	case s.ch <- struct{}{}:
		return &localLock{locker: l, key: key, slot: s}, nil
	case <-timer.C:
		l.unref(key, s)
		return nil, fmt.Errorf("obtain %s: %w", key, ErrNotObtained)
	case <-ctx.Done():
		l.unref(key, s)
		return nil, fmt.Errorf("obtain %s: %w", key, ctx.Err())
	}
}

func (l *LocalLocker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

type localLock struct {
	locker *LocalLocker
	key    string
	slot   *slot
	once   sync.Once
}

// Release is safe to call more than once.
func (k *localLock) Release(context.Context) error {
	k.once.Do(func() {
		<-k.slot.ch
		k.locker.unref(k.key, k.slot)
	})
	return nil
}
