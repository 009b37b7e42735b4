package cron

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockTTL = 2 * time.Hour

// Lock gives one worker instance exclusive ownership of a named job.
type Lock interface {
	Acquire(ctx context.Context, name string) (bool, error)
	Release(ctx context.Context, name string) error
}

// redisStore is the subset of pkg/redis.Client the lock needs.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(name string) string
}

// RedisLock implements Lock with one SETNX key per job. The TTL bounds how
// long a crashed owner blocks the job.
type RedisLock struct {
	client redisStore
	ttl    time.Duration

	mu     sync.Mutex
	owners map[string]string
}

func NewRedisLock(client redisStore, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, ttl: ttl, owners: map[string]string{}}, nil
}

// Acquire tries to own the named job lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context, name string) (bool, error) {
	if name == "" {
		return false, errors.New("lock name is required")
	}
	owner := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.client.LockKey(name), owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", name, err)
	}
	if ok {
		l.mu.Lock()
		l.owners[name] = owner
		l.mu.Unlock()
	}
	return ok, nil
}

// Release frees the named lock only while this instance still owns it.
func (l *RedisLock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	owner, held := l.owners[name]
	delete(l.owners, name)
	l.mu.Unlock()
	if !held {
		return nil
	}

	key := l.client.LockKey(name)
	value, err := l.client.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("read lock owner %s: %w", name, err)
	}
	if value != owner {
		return nil
	}
	if err := l.client.Del(ctx, key); err != nil {
		return fmt.Errorf("delete lock %s: %w", name, err)
	}
	return nil
}
