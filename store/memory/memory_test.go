package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/cacheguard/store"
	"github.com/unkn0wn-root/cacheguard/store/storetest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestConformance(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	storetest.Run(t, storetest.Harness{
		New: func(t *testing.T) store.Store {
			s := New(Options{Now: clock.Now})
			t.Cleanup(func() { _ = s.Close(context.Background()) })
			return s
		},
		Advance: clock.Advance,
	})
}

func TestSweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := New(Options{Now: clock.Now})
	t.Cleanup(func() { _ = s.Close(ctx) })

	_ = s.Set(ctx, "short", []byte("x"), time.Second)
	_ = s.Set(ctx, "long", []byte("y"), time.Hour)
	_ = s.Set(ctx, "forever", []byte("z"), 0)
	clock.Advance(time.Minute)
	s.Sweep()

	s.mu.Lock()
	_, shortPresent := s.m["short"]
	n := len(s.m)
	s.mu.Unlock()
	if shortPresent || n != 2 {
		t.Fatalf("sweep left %d entries (short present=%v)", n, shortPresent)
	}
}

func TestTTLReportsRemaining(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Unix(0, 0)}
	s := New(Options{Now: clock.Now})
	t.Cleanup(func() { _ = s.Close(ctx) })

	_ = s.Set(ctx, "k", []byte("v"), 2*time.Minute)
	clock.Advance(30 * time.Second)
	if ttl, ok := s.TTL("k"); !ok || ttl != 90*time.Second {
		t.Fatalf("TTL=%v ok=%v", ttl, ok)
	}
	_ = s.Set(ctx, "p", []byte("v"), 0)
	if ttl, ok := s.TTL("p"); !ok || ttl != 0 {
		t.Fatalf("persistent TTL=%v ok=%v", ttl, ok)
	}
	if _, ok := s.TTL("none"); ok {
		t.Fatalf("TTL on missing key reported ok")
	}
}

func TestStoredBytesAreCopied(t *testing.T) {
	ctx := context.Background()
	s := New(Options{})
	t.Cleanup(func() { _ = s.Close(ctx) })

	in := []byte("abc")
	_ = s.Set(ctx, "k", in, 0)
	in[0] = 'X'
	got, _, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("store aliased caller buffer: %q", got)
	}
	got[1] = 'Y'
	again, _, _ := s.Get(ctx, "k")
	if string(again) != "abc" {
		t.Fatalf("store returned aliased buffer: %q", again)
	}
}

func TestClosedStoreFails(t *testing.T) {
	ctx := context.Background()
	s := New(Options{CleanupInterval: time.Millisecond})
	if err := s.Close(ctx); err != nil {
		t.Fatal(err)
	}
	_ = s.Close(ctx) // idempotent
	if _, _, err := s.Get(ctx, "k"); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("Get after close: %v", err)
	}
	if _, err := s.SetNX(ctx, "k", nil, time.Second); !errors.Is(err, store.ErrClosed) {
		t.Fatalf("SetNX after close: %v", err)
	}
}
