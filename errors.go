package cacheguard

import (
	"errors"
	"fmt"
)

// ErrRetriesExhausted is returned by MutexReader when another caller held the
// rebuild lock for every one of MaxRetries attempts.
var ErrRetriesExhausted = errors.New("cacheguard: lock wait retries exhausted")

// StoreError is a transport or server failure of the shared store. It is
// never turned into a miss or into "lock acquired"; callers should treat it
// as retryable.
type StoreError struct {
	Op  string // get, set, del, lock, unlock
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("cacheguard: store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// LoadError wraps a failure of the caller's Loader.
type LoadError struct {
	Key string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("cacheguard: load %q: %v", e.Key, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// EncodeError is returned by the explicit write operations when the codec
// cannot encode a value. Read paths log it and return the loaded value
// uncached instead.
type EncodeError struct {
	Key string
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("cacheguard: encode %q: %v", e.Key, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a store failure or an exhausted lock
// wait, both of which may succeed on a later attempt.
func IsRetryable(err error) bool {
	var se *StoreError
	return errors.As(err, &se) || errors.Is(err, ErrRetriesExhausted)
}
