package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is a bounded in-process store. It does not survive restarts and
// is meant to sit in front of a durable store (see Layered) or serve tests.
type MemoryStore struct {
	lru *expirable.LRU[string, *Entry]
	now func() time.Time

	// mu orders writers against Purge's check-then-remove. Reads do not take it.
	mu sync.Mutex
}

// NewMemoryStore returns a store holding at most size entries.
func NewMemoryStore(size int) *MemoryStore {
	if size <= 0 {
		size = 1024
	}
	// Entries carry their own expiry; the LRU only bounds size.
	return &MemoryStore{
		lru: expirable.NewLRU[string, *Entry](size, nil, 0),
		now: time.Now,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, fingerprint string) (*Entry, error) {
	entry, ok := s.lru.Get(fingerprint)
	if !ok {
		return nil, nil
	}
	// Expired entries stay until Purge or eviction; removing here could drop a
	// Put that raced this read.
	if entry.Expired(s.now()) {
		return nil, nil
	}
	return entry, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, fingerprint string, payload []byte, ttl time.Duration) error {
	entry := newEntry(fingerprint, payload, ttl, s.now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Add(fingerprint, entry)
	return nil
}

// Invalidate implements Store.
func (s *MemoryStore) Invalidate(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Remove(fingerprint)
	return nil
}

// Purge removes expired entries.
func (s *MemoryStore) Purge(_ context.Context) (int, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for _, key := range s.lru.Keys() {
		if entry, ok := s.lru.Peek(key); ok && entry.Expired(now) {
			s.lru.Remove(key)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of entries held, live or not.
func (s *MemoryStore) Len() int {
	return s.lru.Len()
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.lru.Purge()
	return nil
}
