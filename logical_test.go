package cacheguard

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/cacheguard/codec"
	"github.com/unkn0wn-root/cacheguard/rebuild"
	"github.com/unkn0wn-root/cacheguard/store/memory"
)

func TestLogicalMissDoesNotLoad(t *testing.T) {
	e := newEnv(t, nil)
	l := &countingLoader{shop: &Shop{ID: 1}}
	_, ok, err := e.c.Logical().Read(context.Background(), "1", l.Load)
	if ok || err != nil || l.calls.Load() != 0 {
		t.Fatalf("ok=%v err=%v calls=%d", ok, err, l.calls.Load())
	}
}

func TestLogicalWarmWritesWithoutPhysicalTTL(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	l := &countingLoader{shop: &Shop{ID: 1, Name: "A"}}
	if err := e.c.Warm(ctx, "1", l.Load); err != nil {
		t.Fatalf("Warm: %v", err)
	}
	if ttl, ok := e.s.TTL("cache:shop:1"); !ok || ttl != 0 {
		t.Fatalf("logical entry must not expire physically: ttl=%v ok=%v", ttl, ok)
	}
	v, ok, task, err := e.c.Logical().ReadTask(ctx, "1", l.Load)
	if err != nil || !ok || v.Name != "A" || task != nil || l.calls.Load() != 1 {
		t.Fatalf("fresh read: v=%+v ok=%v task=%v err=%v calls=%d", v, ok, task, err, l.calls.Load())
	}
}

// gatedLoader blocks in Load until the gate is opened.
type gatedLoader struct {
	gate  chan struct{}
	calls atomic.Int32
	name  atomic.Value
}

func (g *gatedLoader) Load(ctx context.Context, key string) (Shop, bool, error) {
	g.calls.Add(1)
	select {
	case <-g.gate:
	case <-ctx.Done():
		return Shop{}, false, ctx.Err()
	}
	return Shop{ID: 1, Name: g.name.Load().(string)}, true, nil
}

func TestLogicalServesStaleAndRebuildsOnce(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	if err := e.c.SetLogical(ctx, "1", Shop{ID: 1, Name: "old"}, time.Minute); err != nil {
		t.Fatal(err)
	}
	e.clk.Advance(2 * time.Minute)

	g := &gatedLoader{gate: make(chan struct{})}
	g.name.Store("new")

	const n = 32
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		tasks []*rebuild.Task
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, ok, task, err := e.c.Logical().ReadTask(ctx, "1", g.Load)
			if err != nil || !ok || v.Name != "old" {
				t.Errorf("stale read: v=%+v ok=%v err=%v", v, ok, err)
			}
			if task != nil {
				mu.Lock()
				tasks = append(tasks, task)
				mu.Unlock()
			}
		}()
	}
	// every reader returned while the rebuild is still blocked in the loader
	wg.Wait()
	if len(tasks) != 1 {
		t.Fatalf("rebuilds started=%d want 1", len(tasks))
	}
	if e.hooks.stale.Load() != n {
		t.Fatalf("stale served=%d want %d", e.hooks.stale.Load(), n)
	}

	close(g.gate)
	if err := tasks[0].Wait(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if g.calls.Load() != 1 || e.hooks.completed.Load() != 1 {
		t.Fatalf("calls=%d completed=%d", g.calls.Load(), e.hooks.completed.Load())
	}
	if _, held := e.s.TTL("lock:shop:1"); held {
		t.Fatalf("rebuild lock not released")
	}

	v, ok, task, err := e.c.Logical().ReadTask(ctx, "1", g.Load)
	if err != nil || !ok || v.Name != "new" || task != nil {
		t.Fatalf("after rebuild: v=%+v ok=%v task=%v err=%v", v, ok, task, err)
	}
}

func TestLogicalRebuildFailureKeepsStale(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	_ = e.c.SetLogical(ctx, "1", Shop{ID: 1, Name: "old"}, time.Minute)
	e.clk.Advance(2 * time.Minute)

	boom := errors.New("db down")
	l := &countingLoader{err: boom}
	v, ok, task, err := e.c.Logical().ReadTask(ctx, "1", l.Load)
	if err != nil || !ok || v.Name != "old" || task == nil {
		t.Fatalf("v=%+v ok=%v task=%v err=%v", v, ok, task, err)
	}
	if err := task.Wait(ctx); !errors.Is(err, boom) {
		t.Fatalf("task err=%v", err)
	}
	if e.hooks.failed.Load() != 1 {
		t.Fatalf("failed hook=%d", e.hooks.failed.Load())
	}
	if _, held := e.s.TTL("lock:shop:1"); held {
		t.Fatalf("lock held after failed rebuild")
	}

	// still stale, and the next reader retries the rebuild
	v, ok, task, _ = e.c.Logical().ReadTask(ctx, "1", l.Load)
	if !ok || v.Name != "old" || task == nil {
		t.Fatalf("second read: v=%+v ok=%v task=%v", v, ok, task)
	}
	_ = task.Wait(ctx)
}

func TestLogicalRebuildPanicIsContained(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	_ = e.c.SetLogical(ctx, "1", Shop{ID: 1, Name: "old"}, time.Minute)
	e.clk.Advance(2 * time.Minute)

	_, _, task, _ := e.c.Logical().ReadTask(ctx, "1", func(context.Context, string) (Shop, bool, error) {
		panic("loader bug")
	})
	if err := task.Wait(ctx); err == nil {
		t.Fatalf("panic not reported")
	}
	if _, held := e.s.TTL("lock:shop:1"); held {
		t.Fatalf("lock held after panicking rebuild")
	}
	if e.hooks.failed.Load() != 1 {
		t.Fatalf("failed hook=%d", e.hooks.failed.Load())
	}
}

func TestLogicalRejectedRebuildReleasesLock(t *testing.T) {
	ctx := context.Background()
	exec := rebuild.New(rebuild.Options{Workers: 1})
	_ = exec.Close(ctx)
	e := newEnv(t, func(o *Options[Shop]) { o.Executor = exec })
	_ = e.c.SetLogical(ctx, "1", Shop{ID: 1, Name: "old"}, time.Minute)
	e.clk.Advance(2 * time.Minute)

	v, ok, task, err := e.c.Logical().ReadTask(ctx, "1", (&countingLoader{}).Load)
	if err != nil || !ok || v.Name != "old" || task != nil {
		t.Fatalf("v=%+v ok=%v task=%v err=%v", v, ok, task, err)
	}
	if e.hooks.rejected.Load() != 1 {
		t.Fatalf("rejected hook=%d", e.hooks.rejected.Load())
	}
	if _, held := e.s.TTL("lock:shop:1"); held {
		t.Fatalf("lock held after rejected submit")
	}
}

func TestLogicalRebuildNotFoundRemovesEntry(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	_ = e.c.SetLogical(ctx, "1", Shop{ID: 1, Name: "old"}, time.Minute)
	e.clk.Advance(2 * time.Minute)

	_, _, task, _ := e.c.Logical().ReadTask(ctx, "1", (&countingLoader{}).Load)
	if err := task.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := e.c.Logical().Read(ctx, "1", (&countingLoader{}).Load); ok {
		t.Fatalf("deleted entity still served")
	}
}

func TestLogicalTreatsPlainEntries(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	l := &countingLoader{}
	_, _, _ = e.c.Aside().Read(ctx, "gone", l.Load) // tombstone
	_ = e.c.Set(ctx, "plain", Shop{ID: 2, Name: "plain"}, 0)

	if _, ok, err := e.c.Logical().Read(ctx, "gone", l.Load); ok || err != nil {
		t.Fatalf("tombstone: ok=%v err=%v", ok, err)
	}
	if v, ok, _ := e.c.Logical().Read(ctx, "plain", l.Load); !ok || v.Name != "plain" {
		t.Fatalf("plain: v=%+v ok=%v", v, ok)
	}
	if l.calls.Load() != 1 {
		t.Fatalf("logical reads called the loader")
	}
}

// Two processes sharing one store: the lock admits one rebuild between them.
func TestLogicalOneRebuildAcrossProcesses(t *testing.T) {
	ctx := context.Background()
	clk := &clock{now: time.Unix(1700000000, 0)}
	shared := memory.New(memory.Options{Now: clk.Now})
	mk := func() *Cache[Shop] {
		c, err := New(Options[Shop]{Namespace: "shop", Store: shared, Codec: codec.JSON[Shop]{}, Now: clk.Now})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { _ = c.Close(ctx) })
		return c
	}
	a, b := mk(), mk()
	_ = a.SetLogical(ctx, "1", Shop{ID: 1, Name: "old"}, time.Minute)
	clk.Advance(2 * time.Minute)

	g := &gatedLoader{gate: make(chan struct{})}
	g.name.Store("new")
	_, _, ta, _ := a.Logical().ReadTask(ctx, "1", g.Load)
	_, _, tb, _ := b.Logical().ReadTask(ctx, "1", g.Load)
	if (ta == nil) == (tb == nil) {
		t.Fatalf("expected exactly one rebuild, a=%v b=%v", ta, tb)
	}
	close(g.gate)
	if ta != nil {
		_ = ta.Wait(ctx)
	} else {
		_ = tb.Wait(ctx)
	}
	if g.calls.Load() != 1 {
		t.Fatalf("loader calls=%d", g.calls.Load())
	}
}

// Two rebuilds racing past an expired lock write the same bytes as one.
func TestConcurrentRebuildWritesAreIdempotent(t *testing.T) {
	ctx := context.Background()
	load := func(context.Context, string) (Shop, bool, error) { return Shop{ID: 1, Name: "A"}, true, nil }

	once := newEnv(t, nil)
	if err := once.c.Warm(ctx, "1", load); err != nil {
		t.Fatal(err)
	}
	want, _, _ := once.s.Get(ctx, "cache:shop:1")

	twice := newEnv(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := twice.c.Warm(ctx, "1", load); err != nil {
				t.Errorf("Warm: %v", err)
			}
		}()
	}
	wg.Wait()
	got, _, _ := twice.s.Get(ctx, "cache:shop:1")
	if !bytes.Equal(got, want) {
		t.Fatalf("double rebuild differs from single: %x vs %x", got, want)
	}

	// same for the value path
	for i := 0; i < 2; i++ {
		_, _, _ = twice.c.fill(ctx, "2", "cache:shop:2", load)
	}
	_, _, _ = once.c.fill(ctx, "2", "cache:shop:2", load)
	g1, _, _ := once.s.Get(ctx, "cache:shop:2")
	g2, _, _ := twice.s.Get(ctx, "cache:shop:2")
	if !bytes.Equal(g1, g2) {
		t.Fatalf("value entries differ")
	}
}
