package cache

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

type memoryEntry struct {
	value     []byte
	createdAt int64

	// Physical expiry in unix nanoseconds. Expired entries linger until
	// Sweep so stale fallback reads still find them.
	expiry int64
}

// MemoryStore is the single-process backend. Load returns values past their
// TTL on purpose; logical expiry is the cache's job.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]*memoryEntry
	maxEntries int
	clock      clock.Clock
}

// NewMemoryStore creates a store capped at maxEntries. A cap of zero means
// unbounded.
func NewMemoryStore(maxEntries int) *MemoryStore {
	return newMemoryStoreWithClock(maxEntries, clock.New())
}

func newMemoryStoreWithClock(maxEntries int, clk clock.Clock) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]*memoryEntry),
		maxEntries: maxEntries,
		clock:      clk,
	}
}

func (s *MemoryStore) Load(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return entry.value, nil
}

func (s *MemoryStore) Save(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.clock.Now().UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		if _, exists := s.entries[key]; !exists {
			s.evictLocked(now)
		}
	}

	s.entries[key] = &memoryEntry{
		value:     value,
		createdAt: now,
		expiry:    now + ttl.Nanoseconds(),
	}
	return nil
}

// Sweep removes entries past their physical expiry and reports how many were
// dropped.
func (s *MemoryStore) Sweep() int {
	now := s.clock.Now().UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if entry.expiry <= now {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the current entry count.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// evictLocked frees one slot: an expired entry if there is one, otherwise
// the oldest. Linear scan; the store is sized in the thousands, not millions.
func (s *MemoryStore) evictLocked(now int64) {
	var victim string
	var victimCreated int64
	for key, entry := range s.entries {
		if entry.expiry <= now {
			delete(s.entries, key)
			return
		}
		if victim == "" || entry.createdAt < victimCreated {
			victim = key
			victimCreated = entry.createdAt
		}
	}
	if victim != "" {
		delete(s.entries, victim)
	}
}
