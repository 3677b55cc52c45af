// Package schedule provides the shared key/value store that holds schedule
// entries, daily sets, counters and mutual-exclusion locks. Every scheduler
// process talks to the same store, which is what makes scheduling decisions
// safe across processes.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotLockOwner is returned by Unlock when the lock expired or is held by
// someone else. The foreign lock is left untouched.
var ErrNotLockOwner = errors.New("schedule: lock not owned")

// Store is the contract every scheduler component depends on. A ttl of zero
// means the key never expires.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	SAdd(ctx context.Context, key string, members ...string) error
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SMembers(ctx context.Context, key string) ([]string, error)

	// TryLock acquires key for ttl without blocking. The returned token must
	// be handed back to Unlock.
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Unlock(ctx context.Context, key, token string) error
}

// GetTimestamp reads a timestamp stored as epoch milliseconds.
func GetTimestamp(ctx context.Context, s Store, key string) (time.Time, bool, error) {
	v, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("schedule: parse timestamp %s: %w", key, err)
	}
	return time.UnixMilli(ms), true, nil
}

// SetTimestamp stores t as epoch milliseconds.
func SetTimestamp(ctx context.Context, s Store, key string, t time.Time, ttl time.Duration) error {
	return s.Set(ctx, key, strconv.FormatInt(t.UnixMilli(), 10), ttl)
}
