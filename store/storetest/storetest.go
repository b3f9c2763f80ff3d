// Package storetest is a conformance suite for store.Store implementations.
package storetest

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/cacheguard/store"
)

// Harness builds a fresh store for one subtest. Advance moves the store's
// clock forward so that TTLs can be tested without sleeping.
type Harness struct {
	New     func(t *testing.T) store.Store
	Advance func(d time.Duration)
}

// Run executes the suite.
func Run(t *testing.T, h Harness) {
	t.Run("get_miss", func(t *testing.T) { testGetMiss(t, h) })
	t.Run("set_get", func(t *testing.T) { testSetGet(t, h) })
	t.Run("set_ttl_expires", func(t *testing.T) { testSetTTL(t, h) })
	t.Run("set_no_ttl", func(t *testing.T) { testSetNoTTL(t, h) })
	t.Run("setnx", func(t *testing.T) { testSetNX(t, h) })
	t.Run("setnx_after_expiry", func(t *testing.T) { testSetNXAfterExpiry(t, h) })
	t.Run("setnx_concurrent_single_winner", func(t *testing.T) { testSetNXConcurrent(t, h) })
	t.Run("del", func(t *testing.T) { testDel(t, h) })
	t.Run("compare_and_delete", func(t *testing.T) { testCompareAndDelete(t, h) })
}

func testGetMiss(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	v, ok, err := s.Get(ctx, "missing")
	if err != nil || ok || v != nil {
		t.Fatalf("Get miss: v=%q ok=%v err=%v", v, ok, err)
	}
}

func testSetGet(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	in := []byte{0, 'a', 0xFF}
	if err := s.Set(ctx, "k", in, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || !bytes.Equal(got, in) {
		t.Fatalf("Get: got=%x ok=%v err=%v", got, ok, err)
	}
	// overwrite
	if err := s.Set(ctx, "k", []byte("b"), time.Minute); err != nil {
		t.Fatalf("Set overwrite: %v", err)
	}
	if got, _, _ := s.Get(ctx, "k"); string(got) != "b" {
		t.Fatalf("overwrite not visible, got %q", got)
	}
}

func testSetTTL(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	if err := s.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatal(err)
	}
	h.Advance(2 * time.Second)
	if _, ok, err := s.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected expiry, ok=%v err=%v", ok, err)
	}
}

func testSetNoTTL(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	if err := s.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatal(err)
	}
	h.Advance(24 * time.Hour)
	if _, ok, err := s.Get(ctx, "k"); err != nil || !ok {
		t.Fatalf("ttl=0 must not expire, ok=%v err=%v", ok, err)
	}
}

func testSetNX(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	ok, err := s.SetNX(ctx, "lock:a", []byte("t1"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("first SetNX: ok=%v err=%v", ok, err)
	}
	ok, err = s.SetNX(ctx, "lock:a", []byte("t2"), time.Minute)
	if err != nil || ok {
		t.Fatalf("second SetNX must fail: ok=%v err=%v", ok, err)
	}
	got, _, _ := s.Get(ctx, "lock:a")
	if string(got) != "t1" {
		t.Fatalf("holder value overwritten: %q", got)
	}
}

func testSetNXAfterExpiry(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	if ok, _ := s.SetNX(ctx, "lock:a", []byte("t1"), time.Second); !ok {
		t.Fatal("first SetNX failed")
	}
	h.Advance(2 * time.Second)
	ok, err := s.SetNX(ctx, "lock:a", []byte("t2"), time.Second)
	if err != nil || !ok {
		t.Fatalf("SetNX after expiry: ok=%v err=%v", ok, err)
	}
}

func testSetNXConcurrent(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	const n = 32
	var wins atomic.Int32
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			ok, err := s.SetNX(ctx, "lock:hot", []byte{byte(i)}, time.Minute)
			if err != nil {
				t.Errorf("SetNX: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	if got := wins.Load(); got != 1 {
		t.Fatalf("expected exactly one winner, got %d", got)
	}
}

func testDel(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	_ = s.Set(ctx, "k", []byte("v"), time.Minute)
	if err := s.Del(ctx, "k"); err != nil {
		t.Fatalf("Del: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatalf("key still present after Del")
	}
	if err := s.Del(ctx, "never-existed"); err != nil {
		t.Fatalf("Del missing key must not fail: %v", err)
	}
}

func testCompareAndDelete(t *testing.T, h Harness) {
	ctx := context.Background()
	s := h.New(t)
	_, _ = s.SetNX(ctx, "lock:a", []byte("owner-1"), time.Minute)

	ok, err := s.CompareAndDelete(ctx, "lock:a", []byte("owner-2"))
	if err != nil || ok {
		t.Fatalf("foreign token must not delete: ok=%v err=%v", ok, err)
	}
	if _, present, _ := s.Get(ctx, "lock:a"); !present {
		t.Fatalf("lock deleted by foreign token")
	}

	ok, err = s.CompareAndDelete(ctx, "lock:a", []byte("owner-1"))
	if err != nil || !ok {
		t.Fatalf("owner must delete: ok=%v err=%v", ok, err)
	}
	if _, present, _ := s.Get(ctx, "lock:a"); present {
		t.Fatalf("lock still present after owner delete")
	}

	ok, err = s.CompareAndDelete(ctx, "lock:a", []byte("owner-1"))
	if err != nil || ok {
		t.Fatalf("delete of missing key must report false: ok=%v err=%v", ok, err)
	}
}
