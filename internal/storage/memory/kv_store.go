package memory

import (
	"context"
	"fmt"
	"sync"

	"sol-beast/internal/storage"
)

// ErrInjected is returned by KVStore when failure injection is enabled.
var ErrInjected = fmt.Errorf("memory kv: injected failure: %w", storage.ErrUnavailable)

// KVStore is an in-memory implementation of storage.KV.
// It stands in for the sandbox host's key-value surface.
type KVStore struct {
	mu       sync.RWMutex
	data     map[string]string
	failSets bool
	sets     int
}

// NewKVStore creates a new in-memory KV store.
func NewKVStore() *KVStore {
	return &KVStore{
		data: make(map[string]string),
	}
}

// Compile-time interface check.
var _ storage.KV = (*KVStore)(nil)

// Get returns the stored value.
func (s *KVStore) Get(_ context.Context, key string) (string, bool, error) {
	if err := storage.ValidateKey(key); err != nil {
		return "", false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	return v, ok, nil
}

// Set stores a value.
func (s *KVStore) Set(_ context.Context, key, value string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSets {
		return ErrInjected
	}
	s.data[key] = value
	s.sets++
	return nil
}

// Remove deletes a key.
func (s *KVStore) Remove(_ context.Context, key string) error {
	if err := storage.ValidateKey(key); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// FailSets makes subsequent Set calls fail until cleared.
func (s *KVStore) FailSets(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSets = fail
}

// SetCount returns the number of successful Set calls.
func (s *KVStore) SetCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sets
}

// Raw writes a value directly, bypassing key validation. Used to plant corrupt data.
func (s *KVStore) Raw(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
}
