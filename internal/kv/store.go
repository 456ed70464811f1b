// Package kv provides the simple string key-value persistence the todo list
// is projected into.
package kv

import (
	"context"
	"errors"
	"sync"
)

// ErrQuotaExceeded is returned when a write would exceed the store's capacity.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// Store is a string key-value store. Get reports ok=false for absent keys.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// MemoryStore keeps entries in a map. A positive quota bounds the total size
// of keys and values in bytes, mimicking browser storage limits.
type MemoryStore struct {
	mu    sync.RWMutex
	data  map[string]string
	quota int
	used  int
}

// NewMemoryStore returns an empty store. quota <= 0 means unlimited.
func NewMemoryStore(quota int) *MemoryStore {
	return &MemoryStore{data: make(map[string]string), quota: quota}
}

// Get returns the value stored under key.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	return value, ok, nil
}

// Set overwrites the value stored under key.
func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.used
	if old, ok := s.data[key]; ok {
		used -= len(key) + len(old)
	}
	used += len(key) + len(value)
	if s.quota > 0 && used > s.quota {
		return ErrQuotaExceeded
	}

	s.data[key] = value
	s.used = used
	return nil
}
