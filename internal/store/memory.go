package store

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count       int64
	windowStart time.Time
}

// MemoryStore is a process-local CounterStore. Stale entries are pruned
// lazily on access, so no background goroutine is needed.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e, ok := s.entries[key]
	if !ok || now.Sub(e.windowStart) >= window {
		e = &memoryEntry{count: 0, windowStart: now}
		s.entries[key] = e
	}
	e.count++

	if len(s.entries) > 1024 {
		s.pruneLocked(now, window)
	}

	return e.count, nil
}

func (s *MemoryStore) pruneLocked(now time.Time, window time.Duration) {
	for k, e := range s.entries {
		if now.Sub(e.windowStart) >= window {
			delete(s.entries, k)
		}
	}
}
