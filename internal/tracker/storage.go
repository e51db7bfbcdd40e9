package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/victoralfred/marketpulse/internal/domain/analytics"
)

type memoryItem struct {
	value     string
	expiresAt time.Time
}

// MemoryStorage is an in-process Storage used when no shared store is configured
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemoryStorage creates an empty in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// Get returns the value for key or analytics.ErrNotFound
func (s *MemoryStorage) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()

	if !ok {
		return "", analytics.ErrNotFound
	}
	if !s.expired(item) {
		return item.value, nil
	}

	// a Set may have landed since the read lock was released
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok = s.items[key]
	if !ok {
		return "", analytics.ErrNotFound
	}
	if s.expired(item) {
		delete(s.items, key)
		return "", analytics.ErrNotFound
	}
	return item.value, nil
}

func (s *MemoryStorage) expired(item memoryItem) bool {
	return !item.expiresAt.IsZero() && !s.now().Before(item.expiresAt)
}

// Set stores value under key; a zero ttl never expires
func (s *MemoryStorage) Set(_ context.Context, key, value string, ttl time.Duration) error {
	item := memoryItem{value: value}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.items[key] = item
	s.mu.Unlock()
	return nil
}

// Delete removes key
func (s *MemoryStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.items, key)
	s.mu.Unlock()
	return nil
}
