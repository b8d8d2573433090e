package chatwire

import (
	"sync"
)

// store is a small concurrent map keyed by string. The gateway uses it for
// its live connection table; coordinator-internal state is guarded by the
// coordinator mutex instead and does not go through here.
type store[T any] struct {
	mutex sync.RWMutex
	store map[string]T
}

func newStore[T any]() *store[T] {
	return &store[T]{
		mutex: sync.RWMutex{},
		store: make(map[string]T),
	}
}

func (s *store[T]) Create(key string, value T) error {
	s.mutex.Lock()

	defer s.mutex.Unlock()

	if _, exists := s.store[key]; exists {
		return conflict(key, "Key already exists")
	}
	s.store[key] = value
	return nil
}

func (s *store[T]) Read(key string) (T, error) {
	s.mutex.RLock()

	defer s.mutex.RUnlock()

	var zeroValue T
	value, exists := s.store[key]
	if !exists {
		return zeroValue, notFound(key, "Key does not exist")
	}
	return value, nil
}

func (s *store[T]) Delete(key string) error {
	s.mutex.Lock()

	defer s.mutex.Unlock()

	if _, exists := s.store[key]; !exists {
		return notFound(key, "Key does not exist")
	}
	delete(s.store, key)

	return nil
}

func (s *store[T]) Keys() []string {
	s.mutex.RLock()

	defer s.mutex.RUnlock()

	keys := make([]string, 0, len(s.store))

	for key := range s.store {
		keys = append(keys, key)
	}
	return keys
}

func (s *store[T]) Len() int {
	s.mutex.RLock()

	defer s.mutex.RUnlock()

	return len(s.store)
}
