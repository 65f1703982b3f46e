// Package cache provides the write-through markdown cache used by the pipeline.
package cache

import (
	"context"
	"sync"
	"time"
)

// Store is the markdown cache consumed by the request pipeline.
// A zero TTL on Put stores the entry without expiration.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, markdown string, ttl time.Duration) error
	Close() error
}

// Key derives the deterministic cache key for an ordinary page.
// The detailed and llm flags shape the rendered markdown, so each
// variant is cached separately.
func Key(url string, detailed, llm bool) string {
	key := url
	if detailed {
		key += "-detailed"
	}
	if llm {
		key += "-llm"
	}
	return key
}

type memoryEntry struct {
	markdown string
	expires  time.Time
}

// MemoryStore keeps entries in-process. Suitable for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the cached markdown if present and unexpired.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if !entry.expires.IsZero() && s.now().After(entry.expires) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return "", false, nil
	}
	return entry.markdown, true, nil
}

// Put stores markdown under key. ttl <= 0 stores without expiration.
func (s *MemoryStore) Put(_ context.Context, key, markdown string, ttl time.Duration) error {
	entry := memoryEntry{markdown: markdown}
	if ttl > 0 {
		entry.expires = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
