// Package lock implements a named, TTL-bounded mutual-exclusion lock on top
// of a shared store.
//
// Acquire is a single SET-if-absent with expiry: either this call created the
// key (and holds the lock) or it did not. Release deletes the key only while
// it still carries the holder's token, in one atomic compare-and-delete. A
// holder that outlives its TTL therefore cannot release a lock that was
// re-acquired by someone else.
//
// The TTL is the only timeout. It must exceed the longest expected critical
// section; if it does not, a second holder may enter while the first is still
// working.
package lock

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const DefaultPrefix = "lock:"

var ErrInvalidTTL = errors.New("lock: ttl must be positive")

// processID is the per-process half of every token.
var processID = uuid.NewString()

// ProcessID returns the identifier shared by all tokens issued by this process.
func ProcessID() string { return processID }

// Store is the subset of store.Store the lock needs.
type Store interface {
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
}

type Options struct {
	// Prefix is prepended to every lock name. "" => DefaultPrefix.
	Prefix string
}

type Locker struct {
	store  Store
	prefix string
	seq    atomic.Uint64
}

func New(s Store, opts Options) *Locker {
	p := opts.Prefix
	if p == "" {
		p = DefaultPrefix
	}
	return &Locker{store: s, prefix: p}
}

// Key returns the store key used for name.
func (l *Locker) Key(name string) string { return l.prefix + name }

// token is <processID>-<seq>; seq is unique per acquisition attempt in this process.
func (l *Locker) token() string {
	return processID + "-" + strconv.FormatUint(l.seq.Add(1), 10)
}

// TryAcquire makes one attempt to take the lock. It never waits or retries.
// Contention is (nil, false, nil); a store failure is (nil, false, err) and is
// never reported as acquired.
func (l *Locker) TryAcquire(ctx context.Context, name string, ttl time.Duration) (*Lease, bool, error) {
	if ttl <= 0 {
		return nil, false, ErrInvalidTTL
	}
	key := l.Key(name)
	tok := l.token()
	ok, err := l.store.SetNX(ctx, key, []byte(tok), ttl)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &Lease{store: l.store, key: key, token: tok, expires: time.Now().Add(ttl)}, true, nil
}

// Lease is a held lock. Release it exactly once; extra calls are no-ops.
type Lease struct {
	store   Store
	key     string
	token   string
	expires time.Time

	mu       sync.Mutex
	released bool
}

func (le *Lease) Key() string   { return le.key }
func (le *Lease) Token() string { return le.token }

// Deadline is the local estimate of when the store expires the lock.
func (le *Lease) Deadline() time.Time { return le.expires }

// Release deletes the lock key iff it still holds this lease's token.
// released=false with a nil error means the lock had already expired (and
// possibly been taken by someone else); nothing was deleted.
// After a transport error the lease stays releasable so the caller may retry.
func (le *Lease) Release(ctx context.Context) (released bool, err error) {
	le.mu.Lock()
	defer le.mu.Unlock()
	if le.released {
		return false, nil
	}
	ok, err := le.store.CompareAndDelete(ctx, le.key, []byte(le.token))
	if err != nil {
		return false, err
	}
	le.released = true
	return ok, nil
}
