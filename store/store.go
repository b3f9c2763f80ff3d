// Package store defines the shared key-value capability used by cacheguard
// for both cache entries and locks.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// bytes previously passed to Set/SetNX for a key. The conditional operations
// (SetNX, CompareAndDelete) MUST be atomic against every other operation on
// the same key, including from other processes sharing the store. All mutual
// exclusion in cacheguard is delegated to them.
//
// The keyspaces "cache:<ns>:" and "lock:" are owned by cacheguard.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrClosed is returned by stores that were closed by their owner.
var ErrClosed = errors.New("store: closed")

// Store is a byte store with per-key expiry.
type Store interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	// Transport/server failures return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value. ttl <= 0 means no physical expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX creates key with value and ttl iff it does not exist, in a single
	// atomic operation. Reports whether this call created the key.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// CompareAndDelete deletes key iff its current value equals expected,
	// atomically. Reports whether the key was deleted.
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)

	// Close releases resources owned by the store.
	Close(ctx context.Context) error
}
