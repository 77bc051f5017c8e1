// Package redis provides Redis-based adapters for the notifier.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when it is still held by the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived mutual-exclusion leases across replicas.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

// NewLocker creates a Redis-based Locker.
func NewLocker(client redis.UniversalClient) *Locker {
	return NewLockerWithPrefix(client, "notifier:lock:")
}

// NewLockerWithPrefix creates a Locker with a custom key prefix.
func NewLockerWithPrefix(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// TryLock acquires name for ttl. When another holder owns it, ok is false and release is a no-op.
func (l *Locker) TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error) {
	if name == "" {
		return func() {}, false, errors.New("lock name cannot be empty")
	}
	if ttl <= 0 {
		return func() {}, false, errors.New("lock ttl must be positive")
	}

	key := l.prefix + name
	token := uuid.NewString()
	ok, err = l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return func() {}, false, fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return func() {}, false, nil
	}

	release = func() {
		// The lease must be dropped even when the caller's context is already done.
		_ = releaseScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Err()
	}
	return release, true, nil
}

// Held reports whether name is currently locked by anyone.
func (l *Locker) Held(ctx context.Context, name string) (bool, error) {
	n, err := l.client.Exists(ctx, l.prefix+name).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}
