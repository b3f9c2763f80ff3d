package cacheguard

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths and from rebuild workers.
type Hooks interface {
	// A cached entry could not be decoded and was removed.
	// reason ∈ {"corrupt", "value_decode"}
	CorruptEntry(storageKey, reason string)

	// The loader found nothing and a tombstone was cached.
	TombstoneWritten(storageKey string)

	// A mutex read found the rebuild lock taken and is backing off.
	// attempt starts at 1.
	LockContended(storageKey string, attempt int)

	// Releasing a rebuild lock failed at the store; the lock now lives
	// until its TTL.
	LockReleaseFailed(lockKey string, err error)

	// A logically expired value was returned.
	StaleServed(storageKey string)

	// Background rebuild lifecycle.
	RebuildSubmitted(storageKey string)
	RebuildRejected(storageKey string, err error)
	RebuildFailed(storageKey string, err error)
	RebuildCompleted(storageKey string, took time.Duration)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) CorruptEntry(string, string)            {}
func (NopHooks) TombstoneWritten(string)                {}
func (NopHooks) LockContended(string, int)              {}
func (NopHooks) LockReleaseFailed(string, error)        {}
func (NopHooks) StaleServed(string)                     {}
func (NopHooks) RebuildSubmitted(string)                {}
func (NopHooks) RebuildRejected(string, error)          {}
func (NopHooks) RebuildFailed(string, error)            {}
func (NopHooks) RebuildCompleted(string, time.Duration) {}
