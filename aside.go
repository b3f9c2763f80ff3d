package cacheguard

import (
	"context"

	"github.com/unkn0wn-root/cacheguard/internal/keys"
)

// AsideReader is plain cache-aside with negative caching. Concurrent misses
// on the same key each call the loader; use MutexReader for hot keys.
type AsideReader[V any] struct{ c *Cache[V] }

// Read returns the cached value, or loads, caches and returns it. A loader
// "not found" is cached as a tombstone for TombstoneTTL and reported as
// ok=false until then.
func (r *AsideReader[V]) Read(ctx context.Context, key string, load Loader[V]) (V, bool, error) {
	c := r.c
	sk := keys.Storage(c.ns, key)
	if c.disabled {
		return c.load(ctx, key, sk, load)
	}

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
