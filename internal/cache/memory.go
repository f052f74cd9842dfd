package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is a process-local Store used for short-TTL lookups such as the
// preference resolver cache. Entries are evicted lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// IncrementWithTTL atomically increments a counter for the supplied key.
func (s *MemoryStore) IncrementWithTTL(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if window <= 0 {
		window = time.Minute
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	// The expiry is fixed when the window opens; later hits must not push it
	// forward or a steady stream of requests would never reset the counter.
	if entry, ok := s.entries[key]; ok && !entry.expired(now) {
		current, _ := strconv.ParseInt(string(entry.value), 10, 64)
		count := current + 1
		s.entries[key] = memoryEntry{
			value:     []byte(strconv.FormatInt(count, 10)),
			expiresAt: entry.expiresAt,
		}
		return count, entry.expiresAt.Sub(now), nil
	}

	s.entries[key] = memoryEntry{
		value:     []byte("1"),
		expiresAt: now.Add(window),
	}
	return 1, window, nil
}

// Set stores the value for a key with an optional TTL.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

// Get retrieves a value by key, respecting expiry.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.expired(time.Now()) {
		delete(s.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), entry.value...), true, nil
}

// Delete removes keys from the store.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range keys {
		delete(s.entries, key)
	}
	return nil
}
