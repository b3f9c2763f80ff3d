// Package memory is an in-process store.Store.
//
// It gives the same atomicity guarantees as a shared store but only within
// one process, so it fits single-replica deployments, local development and
// tests. Multi-replica deployments need store/redis.
package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/unkn0wn-root/cacheguard/store"
)

type entry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

func (e entry) expired(now time.Time) bool {
	return !e.exp.IsZero() && !now.Before(e.exp)
}

// Options configure a Store. The zero value is valid.
type Options struct {
	// CleanupInterval runs a sweep of expired keys. 0 disables the sweep;
	// expired keys are then dropped lazily on access.
	CleanupInterval time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time
}

// Store keeps entries in a map guarded by one mutex, which makes every
// operation (including SetNX and CompareAndDelete) atomic.
type Store struct {
	mu     sync.Mutex
	m      map[string]entry
	now    func() time.Time
	closed bool

	ticker   *time.Ticker
	stopCh   chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

var _ store.Store = (*Store)(nil)

func New(opts Options) *Store {
	s := &Store{
		m:   make(map[string]entry),
		now: opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.CleanupInterval > 0 {
		s.ticker = time.NewTicker(opts.CleanupInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Sweep()
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

// get must be called with mu held.
func (s *Store) get(key string) (entry, bool) {
	e, ok := s.m[key]
	if !ok {
		return entry{}, false
	}
	if e.expired(s.now()) {
		delete(s.m, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, store.ErrClosed
	}
	e, ok := s.get(key)
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(e.v), true, nil
}

func (s *Store) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	s.m[key] = entry{v: bytes.Clone(value), exp: s.expiry(ttl)}
	return nil
}

func (s *Store) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, store.ErrClosed
	}
	if _, ok := s.get(key); ok {
		return false, nil
	}
	s.m[key] = entry{v: bytes.Clone(value), exp: s.expiry(ttl)}
	return true, nil
}

func (s *Store) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	delete(s.m, key)
	return nil
}

func (s *Store) CompareAndDelete(_ context.Context, key string, expected []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, store.ErrClosed
	}
	e, ok := s.get(key)
	if !ok || !bytes.Equal(e.v, expected) {
		return false, nil
	}
	delete(s.m, key)
	return true, nil
}

// TTL reports the remaining physical lifetime of key. ok=false on miss;
// ttl=0 with ok=true means the key never expires.
func (s *Store) TTL(key string) (ttl time.Duration, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	if !ok {
		return 0, false
	}
	if e.exp.IsZero() {
		return 0, true
	}
	return e.exp.Sub(s.now()), true
}

// Len returns the number of live keys.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for _, e := range s.m {
		if !e.expired(now) {
			n++
		}
	}
	return n
}

// Sweep drops every expired key.
func (s *Store) Sweep() {
	s.mu.Lock()
	now := s.now()
	for k, e := range s.m {
		if e.expired(now) {
			delete(s.m, k)
		}
	}
	s.mu.Unlock()
}

func (s *Store) Close(_ context.Context) error {
	s.stopOnce.Do(func() {
		if s.stopCh != nil {
			s.ticker.Stop()
			close(s.stopCh)
			s.wg.Wait()
		}
		s.mu.Lock()
		s.closed = true
		s.m = make(map[string]entry)
		s.mu.Unlock()
	})
	return nil
}
