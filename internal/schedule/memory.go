package schedule

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memValue struct {
	str      string
	set      map[string]struct{}
	expireAt time.Time
}

// MemoryStore is an in-process Store. It backs tests and single-process dev
// runs; it gives no cross-process guarantees.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*memValue
	now  func() time.Time
}

// NewMemoryStore creates an empty store. now may be nil, in which case the
// wall clock decides key expiry.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{data: make(map[string]*memValue), now: now}
}

// lookup returns the live value for key, dropping it if expired. Callers hold mu.
func (m *MemoryStore) lookup(key string) *memValue {
	v, ok := m.data[key]
	if !ok {
		return nil
	}
	if !v.expireAt.IsZero() && !m.now().Before(v.expireAt) {
		delete(m.data, key)
		return nil
	}
	return v
}

func (m *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return m.now().Add(ttl)
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.lookup(key)
	if v == nil || v.set != nil {
		return "", false, nil
	}
	return v.str, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = &memValue{str: value, expireAt: m.deadline(ttl)}
	return nil
}

func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookup(key) != nil {
		return false, nil
	}
	m.data[key] = &memValue{str: value, expireAt: m.deadline(ttl)}
	return true, nil
}

func (m *MemoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *MemoryStore) IncrBy(_ context.Context, key string, n int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.lookup(key)
	var cur int64
	if v != nil {
		parsed, err := strconv.ParseInt(v.str, 10, 64)
		if err != nil {
			return 0, err
		}
		cur = parsed
	} else {
		v = &memValue{}
		m.data[key] = v
	}
	cur += n
	v.str = strconv.FormatInt(cur, 10)
	return cur, nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v := m.lookup(key); v != nil {
		v.expireAt = m.deadline(ttl)
	}
	return nil
}

func (m *MemoryStore) SAdd(_ context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.lookup(key)
	if v == nil || v.set == nil {
		v = &memValue{set: make(map[string]struct{})}
		m.data[key] = v
	}
	for _, mem := range members {
		v.set[mem] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) SIsMember(_ context.Context, key, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.lookup(key)
	if v == nil || v.set == nil {
		return false, nil
	}
	_, ok := v.set[member]
	return ok, nil
}

func (m *MemoryStore) SMembers(_ context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.lookup(key)
	if v == nil || v.set == nil {
		return nil, nil
	}
	out := make([]string, 0, len(v.set))
	for mem := range v.set {
		out = append(out, mem)
	}
	return out, nil
}

func (m *MemoryStore) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := m.SetNX(ctx, key, token, ttl)
	if err != nil || !ok {
		return "", false, err
	}
	return token, true, nil
}

func (m *MemoryStore) Unlock(_ context.Context, key, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.lookup(key)
	if v == nil || v.str != token {
		return ErrNotLockOwner
	}
	delete(m.data, key)
	return nil
}
