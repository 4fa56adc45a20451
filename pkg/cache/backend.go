package cache

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")

	// ErrQuotaExceeded indicates the backend refused a write for lack of space
	ErrQuotaExceeded = errors.New("cache quota exceeded")

	// ErrNotRetrievable indicates a request method that must never be cached
	ErrNotRetrievable = errors.New("request is not retrieval-safe")
)

// Backend is the shared storage namespace holding every named store.
// Stores are listed in creation order. Writes to one key are last-write-wins.
type Backend interface {
	// Open creates the named store if it does not exist.
	Open(ctx context.Context, name string) error

	// Has reports whether the named store exists.
	Has(ctx context.Context, name string) (bool, error)

	// Names lists every store in creation order.
	Names(ctx context.Context) ([]string, error)

	// Delete removes a store and all its entries.
	Delete(ctx context.Context, name string) (bool, error)

	// Get returns the raw entry or ErrCacheMiss.
	Get(ctx context.Context, name, key string) ([]byte, error)

	// Put writes an entry, creating the store if needed.
	Put(ctx context.Context, name, key string, data []byte) error

	// Keys lists the entry keys of a store.
	Keys(ctx context.Context, name string) ([]string, error)

	// Close releases backend resources.
	Close() error
}
