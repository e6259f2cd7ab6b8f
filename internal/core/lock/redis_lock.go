package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultTTL  = 30 * time.Second
	retryPeriod = 50 * time.Millisecond
	keyPrefix   = "lock:"
)

// ErrNotAcquired is returned when the lock is held by someone else past the wait budget.
var ErrNotAcquired = errors.New("lock: not acquired")

// releaseScript deletes the key only while it still holds our owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock is a single named lock, used for process-wide exclusive jobs.
type RedisLock struct {
	client redis.Scripter
	setter redisSetter
	key    string
	ttl    time.Duration
	owner  string
}

type redisSetter interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

type redisClient interface {
	redis.Scripter
	redisSetter
}

// NewRedisLock constructs a Redis-backed lock on key.
func NewRedisLock(client redisClient, key string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLock{client: client, setter: client, key: keyPrefix + key, ttl: ttl}, nil
}

// Acquire tries to own the lock for the configured TTL.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	ok, err := l.setter.SetNX(ctx, l.key, owner, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if ok {
		l.owner = owner
	}
	return ok, nil
}

// Release frees the lock only if the owner value still matches.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock: %w", err)
	}
	l.owner = ""
	return nil
}

// KeyedLocker serializes work per key (one order id at a time across instances).
type KeyedLocker struct {
	client redisClient
	ttl    time.Duration
	wait   time.Duration
}

// NewKeyedLocker builds a locker whose locks expire after ttl and whose callers
// wait at most wait for a busy key.
func NewKeyedLocker(client redisClient, ttl, wait time.Duration) *KeyedLocker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &KeyedLocker{client: client, ttl: ttl, wait: wait}
}

// WithLock runs fn while holding the lock for key.
func (k *KeyedLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	l, err := NewRedisLock(k.client, key, k.ttl)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(k.wait)
	for {
		ok, err := l.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			break
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %s", ErrNotAcquired, key)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryPeriod):
		}
	}

	defer func() {
		// Release on a fresh context so a cancelled request still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Release(releaseCtx)
	}()

	return fn(ctx)
}
