package store

import (
	"sync"
	"time"
)

type memoryItem struct {
	value     []byte
	expiresAt time.Time
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && !now.Before(i.expiresAt)
}

// MemoryStore is an in-process Store. Expired entries are removed lazily on access.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]memoryItem
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]memoryItem),
		now:  time.Now,
	}
}

// Set implements Store.
func (s *MemoryStore) Set(key string, value []byte, ttl time.Duration) error {
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	s.data[key] = item
	s.mu.Unlock()
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(key string) ([]byte, error) {
	s.mu.RLock()
	item, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if item.expired(s.now()) {
		s.mu.Lock()
		if current, ok := s.data[key]; ok && current.expired(s.now()) {
			delete(s.data, key)
		}
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	return append([]byte(nil), item.value...), nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

// Exists implements Store.
func (s *MemoryStore) Exists(key string) (bool, error) {
	_, err := s.Get(key)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	s.data = make(map[string]memoryItem)
	s.mu.Unlock()
	return nil
}
