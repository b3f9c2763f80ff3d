package cacheguard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/cacheguard/codec"
	"github.com/unkn0wn-root/cacheguard/lock"
	"github.com/unkn0wn-root/cacheguard/rebuild"
	"github.com/unkn0wn-root/cacheguard/store"
)

const (
	DefaultTTL          = 30 * time.Minute
	DefaultTombstoneTTL = 2 * time.Minute
	DefaultLogicalTTL   = 30 * time.Minute
	DefaultLockTTL      = 10 * time.Second
	DefaultRetryBackoff = 50 * time.Millisecond
	DefaultMaxRetries   = 100
)

// minDerivedTTL keeps the default tombstone TTL, TTL/2, at one millisecond
// or more.
const minDerivedTTL = 2 * time.Millisecond

// Loader fetches key from the source of truth. found=false with a nil error
// means the key does not exist there.
type Loader[V any] func(ctx context.Context, key string) (v V, found bool, err error)

// Reader is the common shape of the three read strategies.
// ok=false with a nil error is a (possibly cached) "not found".
type Reader[V any] interface {
	Read(ctx context.Context, key string, load Loader[V]) (v V, ok bool, err error)
}

var (
	_ Reader[int] = (*AsideReader[int])(nil)
	_ Reader[int] = (*MutexReader[int])(nil)
	_ Reader[int] = (*LogicalReader[int])(nil)
)

type Options[V any] struct {
	Namespace string         // logical namespace; required
	Store     store.Store    // shared byte store; required
	Codec     codec.Codec[V] // value codec; required

	TTL          time.Duration // physical ttl of value entries; 0 => 30m
	TombstoneTTL time.Duration // physical ttl of "not found" markers; must be < TTL; 0 => min(2m, TTL/2)
	LogicalTTL   time.Duration // logical lifetime of Logical entries; 0 => 30m

	// LockTTL bounds one rebuild. It must exceed the slowest expected loader
	// call, otherwise a second rebuilder may start while the first still runs.
	LockTTL      time.Duration // 0 => 10s
	RetryBackoff time.Duration // mutex reader wait between lock attempts; 0 => 50ms
	MaxRetries   int           // mutex reader lock attempts after the first; 0 => 100, <0 => until ctx ends

	// DisableCoalescing turns off in-process request coalescing in the mutex
	// reader. Cross-process exclusion through the lock is unaffected.
	DisableCoalescing bool

	// Executor runs logical rebuilds. If nil the cache owns a pool sized by
	// RebuildWorkers/RebuildQueue and closes it in Close.
	Executor       *rebuild.Executor
	RebuildWorkers int // 0 => 10
	RebuildQueue   int // 0 => 1024

	// Locker overrides the rebuild lock. nil => lock.New(Store).
	Locker *lock.Locker

	// Disabled bypasses the cache: every read goes to the loader.
	Disabled bool

	Logger Logger           // nil => NopLogger
	Hooks  Hooks            // nil => NopHooks
	Tracer trace.Tracer     // nil => global otel tracer
	Now    func() time.Time // nil => time.Now
}

func (o *Options[V]) validate() error {
	if o.Namespace == "" {
		return errors.New("cacheguard: Namespace is required")
	}
	if o.Store == nil {
		return errors.New("cacheguard: Store is required")
	}
	if o.Codec == nil {
		return errors.New("cacheguard: Codec is required")
	}
	if o.TTL < 0 || o.TombstoneTTL < 0 || o.LogicalTTL < 0 || o.LockTTL < 0 || o.RetryBackoff < 0 {
		return errors.New("cacheguard: durations must not be negative")
	}
	if o.TombstoneTTL == 0 && coalesce(o.TTL, DefaultTTL) < minDerivedTTL {
		// the derived tombstone TTL would round to no expiry
		return fmt.Errorf("cacheguard: TTL must be at least %v unless TombstoneTTL is set", minDerivedTTL)
	}
	if o.TombstoneTTL > 0 && o.TombstoneTTL >= coalesce(o.TTL, DefaultTTL) {
		return errors.New("cacheguard: TombstoneTTL must be shorter than TTL")
	}
	return nil
}
