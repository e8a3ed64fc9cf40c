package kv

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("kv: store is closed")

// Store is a durable string key-value store.
// Implementations must be safe for concurrent use and serialize writes, so
// two writers of the same key never interleave.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set writes a single key.
	Set(ctx context.Context, key, value string) error

	// SetMany writes all entries atomically: either every key is updated or none is.
	SetMany(ctx context.Context, entries map[string]string) error

	// Remove deletes the given keys. Missing keys are ignored.
	Remove(ctx context.Context, keys ...string) error

	// ReplacePrefix atomically makes the keys starting with prefix hold
	// exactly entries: existing keys under prefix that are not in entries
	// are deleted and entries are upserted.
	ReplacePrefix(ctx context.Context, prefix string, entries map[string]string) error

	// Keys lists the keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}
