package inmemory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/dvloznov/sheets-wallet/internal/kv"
)

// Store is an in-memory implementation of kv.Store.
// It is safe for concurrent use. Data is lost when the process exits - for
// persistence across restarts, use the sqlite store.
type Store struct {
	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		data: make(map[string]string),
	}
}

// Get implements kv.Store.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return "", false, kv.ErrClosed
	}

	v, ok := s.data[key]
	return v, ok, nil
}

// Set implements kv.Store.
func (s *Store) Set(ctx context.Context, key, value string) error {
	return s.SetMany(ctx, map[string]string{key: value})
}

// SetMany implements kv.Store. All entries are applied under one lock.
func (s *Store) SetMany(ctx context.Context, entries map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.ErrClosed
	}

	for k, v := range entries {
		s.data[k] = v
	}
	return nil
}

// Remove implements kv.Store.
func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.ErrClosed
	}

	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// ReplacePrefix implements kv.Store under one lock.
func (s *Store) ReplacePrefix(ctx context.Context, prefix string, entries map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return kv.ErrClosed
	}

	for k := range s.data {
		if _, keep := entries[k]; !keep && strings.HasPrefix(k, prefix) {
			delete(s.data, k)
		}
	}
	for k, v := range entries {
		s.data[k] = v
	}
	return nil
}

// Keys implements kv.Store.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, kv.ErrClosed
	}

	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close implements kv.Store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.data = nil
	return nil
}

// Ensure Store implements kv.Store interface.
var _ kv.Store = (*Store)(nil)
