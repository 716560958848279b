package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

// ErrLockHeld 资源已被其他运行持有
var ErrLockHeld = errors.New("lock held by another run")

// 仅当 value 仍是自己的 token 时才删除，避免误删其他运行的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RunLocker hands out token-scoped locks over named resources.
type RunLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRunLocker 创建运行锁
func NewRunLocker(client *redis.Client, prefix string, ttl time.Duration) *RunLocker {
	return &RunLocker{client: client, prefix: prefix, ttl: ttl}
}

// Key returns the redis key guarding resource.
func (l *RunLocker) Key(resource string) string {
	return l.prefix + resource
}

// Acquire locks every resource for token, or none of them.
// Resources are locked in sorted order so two runs over overlapping sets fail fast instead of interleaving.
func (l *RunLocker) Acquire(ctx context.Context, token string, resources ...string) (*RunLock, error) {
	sorted := append([]string(nil), resources...)
	sort.Strings(sorted)

	held := &RunLock{locker: l, token: token}
	for i, res := range sorted {
		if i > 0 && res == sorted[i-1] {
			continue
		}
		key := l.Key(res)
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			_ = held.Release(context.Background())
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if !ok {
			_ = held.Release(context.Background())
			return nil, fmt.Errorf("%w: %s", ErrLockHeld, res)
		}
		held.keys = append(held.keys, key)
	}
	return held, nil
}

// RunLock 一次运行持有的锁集合
type RunLock struct {
	locker *RunLocker
	token  string
	keys   []string
}

// Keys returns the redis keys currently held.
func (h *RunLock) Keys() []string {
	return append([]string(nil), h.keys...)
}

// Release 释放所有锁，返回遇到的第一个错误
func (h *RunLock) Release(ctx context.Context) error {
	var firstErr error
	for _, key := range h.keys {
		if err := releaseScript.Run(ctx, h.locker.client, []string{key}, h.token).Err(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to release lock %s: %w", key, err)
		}
	}
	h.keys = nil
	return firstErr
}
