package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"salesflow/pkg/logger"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrLockTimeout = errors.New("timed out waiting for user lock")

// UserLocker serializes handling of updates that belong to one user.
type UserLocker interface {
	Lock(ctx context.Context, userKey string) (unlock func(), err error)
}

const userLockPrefix = "salesflow:userlock:"

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
    return redis.call("del", KEYS[1])
end
return 0
`)

// RedisUserLocker is an advisory lock shared by every worker process. The
// TTL bounds how long a crashed holder can block the user.
type RedisUserLocker struct {
	rdb      *redis.Client
	ttl      time.Duration
	wait     time.Duration
	interval time.Duration
}

func NewRedisUserLocker(rdb *redis.Client, ttl, wait time.Duration) *RedisUserLocker {
	return &RedisUserLocker{rdb: rdb, ttl: ttl, wait: wait, interval: 50 * time.Millisecond}
}

func (l *RedisUserLocker) Lock(ctx context.Context, userKey string) (func(), error) {
	key := userLockPrefix + userKey
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				if err := l.release(key, token); err != nil {
					logger.Warn("failed to release user lock", zap.String("key", key), zap.Error(err))
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.interval):
		}
	}
}

// release deletes the lock even if the caller's context is already gone.
// An unreleased lock expires with its TTL.
func (l *RedisUserLocker) release(key, token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return releaseScript.Run(ctx, l.rdb, []string{key}, token).Err()
}

// LocalUserLocker is the single-process variant.
type LocalUserLocker struct {
	mu    sync.Mutex
	locks map[string]*userSlot
	wait  time.Duration
}

type userSlot struct {
	ch   chan struct{}
	refs int
}

func NewLocalUserLocker(wait time.Duration) *LocalUserLocker {
	return &LocalUserLocker{locks: make(map[string]*userSlot), wait: wait}
}

func (l *LocalUserLocker) Lock(ctx context.Context, userKey string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.locks[userKey]
	if !ok {
		slot = &userSlot{ch: make(chan struct{}, 1)}
		l.locks[userKey] = slot
	}
	slot.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case slot.ch <- struct{}{}:
		return func() {
			<-slot.ch
			l.release(userKey, slot)
		}, nil
	case <-timer.C:
		l.release(userKey, slot)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		l.release(userKey, slot)
		return nil, ctx.Err()
	}
}

func (l *LocalUserLocker) release(userKey string, slot *userSlot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.locks, userKey)
	}
}
