package cacheguard

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/cacheguard/internal/keys"
	"github.com/unkn0wn-root/cacheguard/internal/wire"
	"github.com/unkn0wn-root/cacheguard/lock"
	"github.com/unkn0wn-root/cacheguard/rebuild"
)

// LogicalReader serves entries written by Warm or SetLogical. It never calls
// the loader on the read path: a missing key is a miss, and an expired entry
// is returned as-is while one caller hands a rebuild to the executor.
//
// Plain value entries found under the key are returned unchanged and
// tombstones read as "not found".
type LogicalReader[V any] struct{ c *Cache[V] }

func (r *LogicalReader[V]) Read(ctx context.Context, key string, load Loader[V]) (V, bool, error) {
	v, ok, _, err := r.ReadTask(ctx, key, load)
	return v, ok, err
}

// ReadTask is Read that also returns the rebuild task when this call started
// one, nil otherwise.
func (r *LogicalReader[V]) ReadTask(ctx context.Context, key string, load Loader[V]) (V, bool, *rebuild.Task, error) {
	c := r.c
	sk := keys.Storage(c.ns, key)
	var zero V
	if c.disabled {
		v, ok, err := c.load(ctx, key, sk, load)
		return v, ok, nil, err
	}

	e, hit, err := c.lookup(ctx, sk)
	if err != nil {
		return zero, false, nil, err
	}
	if !hit {
		return zero, false, nil, nil
	}
	if e.kind != wire.KindLogical || !c.now().After(e.expireAt) {
		v, ok, _ := e.result()
		return v, ok, nil, nil
	}

	lease, ok, err := c.tryLock(ctx, key)
	if err != nil {
		return zero, false, nil, err
	}
	c.hooks.StaleServed(sk)
	if !ok {
		return e.v, true, nil, nil
	}
	return e.v, true, r.submit(ctx, key, sk, lease, load), nil
}

// submit hands the rebuild to the executor. The job owns lease from here on;
// if the executor refuses the job, the lease is released immediately.
func (r *LogicalReader[V]) submit(ctx context.Context, key, sk string, lease *lock.Lease, load Loader[V]) *rebuild.Task {
	c := r.c
	link := trace.LinkFromContext(ctx)

	job := func(jctx context.Context) (err error) {
		start := time.Now()
		jctx, cancel := context.WithTimeout(jctx, c.lockTTL)
		defer cancel()
		jctx, span := c.tracer.Start(jctx, "cacheguard.rebuild",
			trace.WithLinks(link),
			trace.WithAttributes(attribute.String("cache.key", sk)))

		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("cacheguard: rebuild %q panicked: %v", key, p)
			}
			c.release(jctx, lease)
			took := time.Since(start)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "rebuild failed")
				c.hooks.RebuildFailed(sk, err)
				c.log.Error("cacheguard: rebuild failed", Fields{"key": sk, "err": err.Error(), "took": took})
			} else {
				c.hooks.RebuildCompleted(sk, took)
				c.log.Debug("cacheguard: rebuild done", Fields{"key": sk, "took": took})
			}
			span.End()
		}()

		// skip if a previous holder refreshed it after our stale read
		e, hit, err := c.lookup(jctx, sk)
		if err != nil {
			return err
		}
		if hit && e.kind == wire.KindLogical && !c.now().After(e.expireAt) {
			return nil
		}
		return c.refreshLogical(jctx, key, sk, load)
	}

	task, err := c.exec.Submit(sk, job)
	if err != nil {
		c.release(ctx, lease)
		c.hooks.RebuildRejected(sk, err)
		c.log.Warn("cacheguard: rebuild not scheduled", Fields{"key": sk, "err": err.Error()})
		return nil
	}
	c.hooks.RebuildSubmitted(sk)
	return task
}
