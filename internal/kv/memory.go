package kv

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	list      []string
	expiresAt time.Time // zero = no expiry
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-process Store used in tests and as a
// single-instance fallback when Redis is not configured.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*memoryEntry

	// nowFn is overridable in tests to exercise expiry
	nowFn func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[string]*memoryEntry),
		nowFn: time.Now,
	}
}

// SetNow overrides the store's clock. Test use only.
func (s *MemoryStore) SetNow(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// get returns a live entry or nil, lazily dropping expired keys.
// Caller must hold mu.
func (s *MemoryStore) get(key string) *memoryEntry {
	entry, ok := s.data[key]
	if !ok {
		return nil
	}
	if entry.expired(s.nowFn()) {
		delete(s.data, key)
		return nil
	}
	return entry
}

func (s *MemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.get(key)
	if entry == nil {
		return "", ErrNotFound
	}
	return entry.value, nil
}

func (s *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = s.nowFn().Add(ttl)
	}
	s.data[key] = entry
	return nil
}

func (s *MemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.data, key)
	}
	return nil
}

func (s *MemoryStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.get(key)
	if entry == nil {
		entry = &memoryEntry{}
		s.data[key] = entry
	}

	n, err := strconv.ParseInt(entry.value, 10, 64)
	if entry.value != "" && err != nil {
		return 0, err
	}
	n++
	entry.value = strconv.FormatInt(n, 10)
	return n, nil
}

func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.get(key)
	if entry == nil {
		return nil
	}
	entry.expiresAt = s.nowFn().Add(ttl)
	return nil
}

func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.get(key)
	if entry == nil {
		return -2 * time.Second, nil
	}
	if entry.expiresAt.IsZero() {
		return -1 * time.Second, nil
	}
	return entry.expiresAt.Sub(s.nowFn()), nil
}

func (s *MemoryStore) Append(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.get(key)
	if entry == nil {
		entry = &memoryEntry{}
		s.data[key] = entry
	}
	entry.list = append(entry.list, value)
	if ttl > 0 {
		entry.expiresAt = s.nowFn().Add(ttl)
	}
	return nil
}

func (s *MemoryStore) Range(ctx context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.get(key)
	if entry == nil {
		return nil, nil
	}

	length := int64(len(entry.list))
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || length == 0 {
		return nil, nil
	}

	out := make([]string, stop-start+1)
	copy(out, entry.list[start:stop+1])
	return out, nil
}
