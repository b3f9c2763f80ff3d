// Package asynchook moves cacheguard hook calls off the caller's goroutine.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{ContendedEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	cache, _ := cacheguard.New[Shop](cacheguard.Options[Shop]{
//	    Namespace: "app:prod:shop",
//	    Store:     store,
//	    Codec:     codec.JSON[Shop]{},
//	    Hooks:     hooks, // or raw if the sink is cheap enough
//	})
//
// Events are dropped when the queue is full; Dropped reports how many.
package asynchook

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/cacheguard"
)

type Hooks struct {
	inner   cacheguard.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ cacheguard.Hooks = (*Hooks)(nil)

func New(inner cacheguard.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close delivers queued events and stops the workers. Events fired after
// Close are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		close(h.q)
		h.mu.Unlock()
		h.wg.Wait()
	})
}

func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) CorruptEntry(k, r string)          { h.try(func() { h.inner.CorruptEntry(k, r) }) }
func (h *Hooks) TombstoneWritten(k string)         { h.try(func() { h.inner.TombstoneWritten(k) }) }
func (h *Hooks) LockContended(k string, n int)     { h.try(func() { h.inner.LockContended(k, n) }) }
func (h *Hooks) StaleServed(k string)              { h.try(func() { h.inner.StaleServed(k) }) }
func (h *Hooks) RebuildSubmitted(k string)         { h.try(func() { h.inner.RebuildSubmitted(k) }) }
func (h *Hooks) RebuildFailed(k string, err error) { h.try(func() { h.inner.RebuildFailed(k, err) }) }
func (h *Hooks) LockReleaseFailed(k string, err error) {
	h.try(func() { h.inner.LockReleaseFailed(k, err) })
}
func (h *Hooks) RebuildRejected(k string, err error) {
	h.try(func() { h.inner.RebuildRejected(k, err) })
}
func (h *Hooks) RebuildCompleted(k string, took time.Duration) {
	h.try(func() { h.inner.RebuildCompleted(k, took) })
}
