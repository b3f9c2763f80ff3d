package cacheguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/cacheguard/codec"
	"github.com/unkn0wn-root/cacheguard/internal/keys"
	"github.com/unkn0wn-root/cacheguard/internal/wire"
	"github.com/unkn0wn-root/cacheguard/lock"
	"github.com/unkn0wn-root/cacheguard/rebuild"
	"github.com/unkn0wn-root/cacheguard/store"
)

const tracerName = "github.com/unkn0wn-root/cacheguard"

// releaseTimeout caps a lock release issued after the caller's ctx ended.
const releaseTimeout = 2 * time.Second

// Cache binds a namespace, a store and a codec. It is safe for concurrent use.
// Reads go through one of its readers: Aside, Mutex or Logical.
type Cache[V any] struct {
	ns     string
	store  store.Store
	codec  codec.Codec[V]
	locker *lock.Locker

	exec    *rebuild.Executor
	ownExec bool

	ttl          time.Duration
	tombstoneTTL time.Duration
	logicalTTL   time.Duration
	lockTTL      time.Duration
	backoff      time.Duration
	maxRetries   int
	coalesce     bool
	disabled     bool

	log    Logger
	hooks  Hooks
	tracer trace.Tracer
	now    func() time.Time

	flights singleflight.Group

	aside   *AsideReader[V]
	mutex   *MutexReader[V]
	logical *LogicalReader[V]

	closeOnce sync.Once
	closeErr  error
}

func New[V any](opts Options[V]) (*Cache[V], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}

	ttl := coalesce(opts.TTL, DefaultTTL)
	tomb := opts.TombstoneTTL
	if tomb == 0 {
		tomb = min(DefaultTombstoneTTL, ttl/2)
	}

	maxRetries := opts.MaxRetries
	if maxRetries == 0 {
		maxRetries = DefaultMaxRetries
	}

	c := &Cache[V]{
		ns:           opts.Namespace,
		store:        opts.Store,
		codec:        opts.Codec,
		locker:       opts.Locker,
		exec:         opts.Executor,
		ttl:          ttl,
		tombstoneTTL: tomb,
		logicalTTL:   coalesce(opts.LogicalTTL, DefaultLogicalTTL),
		lockTTL:      coalesce(opts.LockTTL, DefaultLockTTL),
		backoff:      coalesce(opts.RetryBackoff, DefaultRetryBackoff),
		maxRetries:   maxRetries,
		coalesce:     !opts.DisableCoalescing,
		disabled:     opts.Disabled,
		log:          opts.Logger,
		hooks:        opts.Hooks,
		tracer:       opts.Tracer,
		now:          opts.Now,
	}
	if c.locker == nil {
		c.locker = lock.New(opts.Store, lock.Options{})
	}
	if c.exec == nil {
		c.exec = rebuild.New(rebuild.Options{Workers: opts.RebuildWorkers, Queue: opts.RebuildQueue})
		c.ownExec = true
	}
	if c.log == nil {
		c.log = NopLogger{}
	}
	if c.hooks == nil {
		c.hooks = NopHooks{}
	}
	if c.tracer == nil {
		c.tracer = otel.Tracer(tracerName)
	}
	if c.now == nil {
		c.now = time.Now
	}

	c.aside = &AsideReader[V]{c: c}
	c.mutex = &MutexReader[V]{c: c}
	c.logical = &LogicalReader[V]{c: c}
	return c, nil
}

func (c *Cache[V]) Namespace() string { return c.ns }

// Aside returns the cache-aside reader with negative caching.
func (c *Cache[V]) Aside() *AsideReader[V] { return c.aside }

// Mutex returns the stampede-safe reader.
func (c *Cache[V]) Mutex() *MutexReader[V] { return c.mutex }

// Logical returns the stale-while-rebuild reader.
func (c *Cache[V]) Logical() *LogicalReader[V] { return c.logical }

// Set writes v as a plain value entry. ttl <= 0 uses the configured TTL.
func (c *Cache[V]) Set(ctx context.Context, key string, v V, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.writeValue(ctx, keys.Storage(c.ns, key), v, ttl)
}

// SetLogical writes v as a logically expiring entry with no physical expiry.
// ttl <= 0 uses the configured LogicalTTL.
func (c *Cache[V]) SetLogical(ctx context.Context, key string, v V, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.logicalTTL
	}
	return c.writeLogical(ctx, keys.Storage(c.ns, key), v, ttl)
}

// Warm loads key and stores it as a logically expiring entry. Logical reads
// only serve keys that were warmed (or SetLogical'd) first. A "not found"
// from the loader removes the entry.
func (c *Cache[V]) Warm(ctx context.Context, key string, load Loader[V]) error {
	return c.refreshLogical(ctx, key, keys.Storage(c.ns, key), load)
}

// Invalidate removes the entry for key. The next read rebuilds it.
func (c *Cache[V]) Invalidate(ctx context.Context, key string) error {
	sk := keys.Storage(c.ns, key)
	if err := c.store.Del(ctx, sk); err != nil {
		return &StoreError{Op: "del", Key: sk, Err: err}
	}
	return nil
}

// Close drains pending logical rebuilds if the cache owns its executor. The
// store is not closed.
func (c *Cache[V]) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		if c.ownExec {
			c.closeErr = c.exec.Close(ctx)
		}
	})
	return c.closeErr
}

// cached is a decoded store entry.
type cached[V any] struct {
	kind     wire.Kind
	v        V
	expireAt time.Time
}

// result maps an entry to reader output; tombstones are "not found".
func (e cached[V]) result() (V, bool, error) {
	if e.kind == wire.KindTombstone {
		var zero V
		return zero, false, nil
	}
	return e.v, true, nil
}

// lookup reads and decodes sk. Undecodable entries are removed and reported
// as a miss.
func (c *Cache[V]) lookup(ctx context.Context, sk string) (cached[V], bool, error) {
	var e cached[V]
	raw, ok, err := c.store.Get(ctx, sk)
	if err != nil {
		return e, false, &StoreError{Op: "get", Key: sk, Err: err}
	}
	if !ok {
		return e, false, nil
	}
	ent, err := wire.Decode(raw)
	if err != nil {
		c.selfHeal(ctx, sk, raw, "corrupt", err)
		return e, false, nil
	}
	e.kind = ent.Kind
	e.expireAt = ent.ExpireAt
	if ent.Kind == wire.KindTombstone {
		return e, true, nil
	}
	v, err := c.codec.Decode(ent.Payload)
	if err != nil {
		c.selfHeal(ctx, sk, raw, "value_decode", err)
		return e, false, nil
	}
	e.v = v
	return e, true, nil
}

// selfHeal deletes sk only if it still holds the bad bytes, so a fresh entry
// written meanwhile survives.
func (c *Cache[V]) selfHeal(ctx context.Context, sk string, raw []byte, reason string, cause error) {
	_, err := c.store.CompareAndDelete(ctx, sk, raw)
	c.hooks.CorruptEntry(sk, reason)
	f := Fields{"key": sk, "reason": reason, "cause": cause.Error()}
	if err != nil {
		f["del_err"] = err.Error()
	}
	c.log.Warn("cacheguard: dropped undecodable entry", f)
}

func (c *Cache[V]) writeValue(ctx context.Context, sk string, v V, ttl time.Duration) error {
	payload, err := c.codec.Encode(v)
	if err != nil {
		return &EncodeError{Key: sk, Err: err}
	}
	if err := c.store.Set(ctx, sk, wire.EncodeValue(payload), ttl); err != nil {
		return &StoreError{Op: "set", Key: sk, Err: err}
	}
	return nil
}

func (c *Cache[V]) writeLogical(ctx context.Context, sk string, v V, lifetime time.Duration) error {
	payload, err := c.codec.Encode(v)
	if err != nil {
		return &EncodeError{Key: sk, Err: err}
	}
	b := wire.EncodeLogical(c.now().Add(lifetime), payload)
	if err := c.store.Set(ctx, sk, b, 0); err != nil {
		return &StoreError{Op: "set", Key: sk, Err: err}
	}
	return nil
}

func (c *Cache[V]) writeTombstone(ctx context.Context, sk string) error {
	if err := c.store.Set(ctx, sk, wire.EncodeTombstone(), c.tombstoneTTL); err != nil {
		return &StoreError{Op: "set", Key: sk, Err: err}
	}
	c.hooks.TombstoneWritten(sk)
	c.log.Debug("cacheguard: cached not-found", Fields{"key": sk, "ttl": c.tombstoneTTL})
	return nil
}

// load runs the caller's loader inside a span. Loader failures come back as
// *LoadError.
func (c *Cache[V]) load(ctx context.Context, key, sk string, load Loader[V]) (V, bool, error) {
	ctx, span := c.tracer.Start(ctx, "cacheguard.load",
		trace.WithAttributes(attribute.String("cache.key", sk)))
	defer span.End()

	v, found, err := callLoader(ctx, key, load)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		var zero V
		return zero, false, &LoadError{Key: key, Err: err}
	}
	span.SetAttributes(attribute.Bool("cache.found", found))
	return v, found, nil
}

// callLoader turns a panicking loader into an error so that no read path,
// foreground or background, can take the process down.
func callLoader[V any](ctx context.Context, key string, load Loader[V]) (v V, found bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			var zero V
			v, found, err = zero, false, fmt.Errorf("loader panicked: %v", p)
		}
	}()
	return load(ctx, key)
}

// fill loads key and writes the outcome: a value entry, or a tombstone for
// "not found".
func (c *Cache[V]) fill(ctx context.Context, key, sk string, load Loader[V]) (V, bool, error) {
	var zero V
	v, found, err := c.load(ctx, key, sk, load)
	if err != nil {
		return zero, false, err
	}
	if !found {
		if err := c.writeTombstone(ctx, sk); err != nil {
			return zero, false, err
		}
		return zero, false, nil
	}
	if err := c.writeValue(ctx, sk, v, c.ttl); err != nil {
		var ee *EncodeError
		if !errors.As(err, &ee) {
			return zero, false, err
		}
		c.log.Error("cacheguard: loaded value not cached", Fields{"key": sk, "err": err.Error()})
	}
	return v, true, nil
}

// refreshLogical loads key and rewrites its logical entry. "not found" drops
// the entry so logical reads report a miss.
func (c *Cache[V]) refreshLogical(ctx context.Context, key, sk string, load Loader[V]) error {
	v, found, err := c.load(ctx, key, sk, load)
	if err != nil {
		return err
	}
	if !found {
		if err := c.store.Del(ctx, sk); err != nil {
			return &StoreError{Op: "del", Key: sk, Err: err}
		}
		return nil
	}
	return c.writeLogical(ctx, sk, v, c.logicalTTL)
}

// release gives the lease back even if ctx is already done.
func (c *Cache[V]) release(ctx context.Context, lease *lock.Lease) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	released, err := lease.Release(rctx)
	if err != nil {
		c.hooks.LockReleaseFailed(lease.Key(), err)
		c.log.Warn("cacheguard: lock release failed", Fields{"lock": lease.Key(), "err": err.Error()})
		return
	}
	if !released {
		// the lock outlived its TTL; another rebuilder may have overlapped
		c.log.Warn("cacheguard: lock expired before release", Fields{"lock": lease.Key(), "lock_ttl": c.lockTTL})
	}
}

func (c *Cache[V]) tryLock(ctx context.Context, key string) (*lock.Lease, bool, error) {
	name := keys.Lock(c.ns, key)
	lease, ok, err := c.locker.TryAcquire(ctx, name, c.lockTTL)
	if err != nil {
		return nil, false, &StoreError{Op: "lock", Key: c.locker.Key(name), Err: err}
	}
	return lease, ok, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
