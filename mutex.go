package cacheguard

import (
	"context"
	"fmt"
	"time"

	"github.com/unkn0wn-root/cacheguard/internal/keys"
	"github.com/unkn0wn-root/cacheguard/lock"
)

// MutexReader rebuilds a missing entry under a per-key lock so that at most
// one caller across all processes sharing the store runs the loader at a
// time. Callers that lose the lock wait RetryBackoff and re-read, up to
// MaxRetries times.
//
// Within one process concurrent reads of the same key are also coalesced
// into a single flight unless DisableCoalescing is set. Coalesced callers
// share the returned V; treat it as read-only if V holds references.
type MutexReader[V any] struct{ c *Cache[V] }

type flight[V any] struct {
	v  V
	ok bool
}

func (r *MutexReader[V]) Read(ctx context.Context, key string, load Loader[V]) (V, bool, error) {
	c := r.c
	sk := keys.Storage(c.ns, key)
	if c.disabled {
		return c.load(ctx, key, sk, load)
	}
	if !c.coalesce {
		return r.read(ctx, key, sk, load)
	}

	ch := c.flights.DoChan(sk, func() (_ any, err error) {
		// singleflight re-panics on a fresh goroutine where no caller can
		// recover, so a panic must end here
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("cacheguard: read %q panicked: %v", key, p)
			}
		}()
		// the flight outlives any single caller; bound it by its own budget
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.flightBudget())
		defer cancel()
		v, ok, err := r.read(fctx, key, sk, load)
		return flight[V]{v: v, ok: ok}, err
	})

	var zero V
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, false, res.Err
		}
		f := res.Val.(flight[V])
		return f.v, f.ok, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

func (r *MutexReader[V]) flightBudget() time.Duration {
	c := r.c
	if c.maxRetries < 0 {
		return c.lockTTL * 10
	}
	return c.lockTTL + time.Duration(c.maxRetries+1)*c.backoff
}

func (r *MutexReader[V]) read(ctx context.Context, key, sk string, load Loader[V]) (V, bool, error) {
	c := r.c
	var zero V
	for attempt := 0; ; attempt++ {
		e, hit, err := c.lookup(ctx, sk)
		if err != nil {
			return zero, false, err
		}
		if hit {
			return e.result()
		}

		lease, ok, err := c.tryLock(ctx, key)
		if err != nil {
			return zero, false, err
		}
		if ok {
			return r.rebuild(ctx, key, sk, lease, load)
		}

		if c.maxRetries >= 0 && attempt >= c.maxRetries {
			c.log.Warn("cacheguard: gave up waiting for rebuild lock", Fields{"key": sk, "attempts": attempt + 1})
			return zero, false, fmt.Errorf("%w: %q after %d attempts", ErrRetriesExhausted, key, attempt+1)
		}
		c.hooks.LockContended(sk, attempt+1)
		if err := sleepCtx(ctx, c.backoff); err != nil {
			return zero, false, err
		}
	}
}

// rebuild runs with the lock held. The lock is released on every exit path,
// including a panicking loader.
func (r *MutexReader[V]) rebuild(ctx context.Context, key, sk string, lease *lock.Lease, load Loader[V]) (V, bool, error) {
	c := r.c
	defer c.release(ctx, lease)

	// another holder may have rebuilt between our miss and our acquire
	e, hit, err := c.lookup(ctx, sk)
	if err != nil {
		var zero V
		return zero, false, err
	}
	if hit {
		return e.result()
	}
	return c.fill(ctx, key, sk, load)
}
