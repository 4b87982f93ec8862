// ABOUTME: In-memory implementation of the kv.Store interface with TTL support.
// ABOUTME: Used in tests and single-process deployments without Redis.

package kv

import (
	"context"
	"sync"
	"time"
)

// memoryEntry stores a value and its expiry deadline (zero means no expiry).
type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStore is a thread-safe in-memory Store. A background goroutine
// periodically removes expired entries; expired keys are also filtered on
// read so tests with short TTLs do not depend on cleanup timing.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]memoryEntry
	done   chan struct{}
	closed bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		items: make(map[string]memoryEntry),
		done:  make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// Get returns the value for key, or ErrNotFound if missing or expired.
func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.items[key]
	if !ok {
		return "", ErrNotFound
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		return "", ErrNotFound
	}
	return entry.value, nil
}

// Set writes key=value with the given TTL (zero means no expiry).
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.items[key] = entry
	return nil
}

// Delete removes key.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// cleanup runs in a background goroutine, removing expired entries.
func (s *MemoryStore) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runCleanup()
		case <-s.done:
			return
		}
	}
}

func (s *MemoryStore) runCleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, entry := range s.items {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(s.items, key)
		}
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (s *MemoryStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.done)
		s.closed = true
	}
}
