// Package near puts a process-local L1 in front of a shared store.Store.
//
// Reads are served from L1 while its copy is younger than L1TTL; everything
// else goes to the shared store. Conditional operations (SetNX,
// CompareAndDelete) always run against the shared store because they carry
// the cross-process locking, and they evict the L1 copy of their key.
//
// A write made by another process is not visible here until the local copy
// ages out, so L1TTL is the extra staleness this layer adds. Keep it short
// (seconds) and well below the cache TTLs.
package near

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/unkn0wn-root/cacheguard/store"
)

// Local is a process-local byte cache. Implementations may drop entries at
// any time (eviction, admission) and may ignore ttl; near enforces ttl
// itself through a stamp stored with every value.
type Local interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration)
	Del(key string)
	Close() error
}

type Options struct {
	// L1TTL caps how long a local copy is served. 0 => 2s.
	L1TTL time.Duration
	// CloseShared closes Shared on Close. Leave false when the shared store
	// is used elsewhere.
	CloseShared bool
	// Now overrides the clock (tests).
	Now func() time.Time
}

type Store struct {
	shared      store.Store
	l1          Local
	l1TTL       time.Duration
	closeShared bool
	now         func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(shared store.Store, l1 Local, opts Options) *Store {
	s := &Store{
		shared:      shared,
		l1:          l1,
		l1TTL:       opts.L1TTL,
		closeShared: opts.CloseShared,
		now:         opts.Now,
	}
	if s.l1TTL <= 0 {
		s.l1TTL = 2 * time.Second
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// local TTL: min(ttl, l1TTL); ttl <= 0 means the shared key never expires.
func (s *Store) localTTL(ttl time.Duration) time.Duration {
	if ttl > 0 && ttl < s.l1TTL {
		return ttl
	}
	return s.l1TTL
}

// stamp(8, unix nanos be) | value
func (s *Store) stamp(value []byte, ttl time.Duration) []byte {
	out := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(out[:8], uint64(s.now().Add(ttl).UnixNano()))
	copy(out[8:], value)
	return out
}

func (s *Store) unstamp(b []byte) ([]byte, bool) {
	if len(b) < 8 {
		return nil, false
	}
	exp := int64(binary.BigEndian.Uint64(b[:8]))
	if s.now().UnixNano() >= exp {
		return nil, false
	}
	v := make([]byte, len(b)-8)
	copy(v, b[8:])
	return v, true
}

func (s *Store) fill(key string, value []byte, ttl time.Duration) {
	lt := s.localTTL(ttl)
	s.l1.Set(key, s.stamp(value, lt), lt)
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if raw, ok := s.l1.Get(key); ok {
		if v, fresh := s.unstamp(raw); fresh {
			return v, true, nil
		}
		s.l1.Del(key)
	}
	v, ok, err := s.shared.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	// the shared key's remaining TTL is unknown here; l1TTL bounds the copy
	s.fill(key, v, 0)
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.shared.Set(ctx, key, value, ttl); err != nil {
		s.l1.Del(key)
		return err
	}
	s.fill(key, value, ttl)
	return nil
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.l1.Del(key)
	return s.shared.SetNX(ctx, key, value, ttl)
}

func (s *Store) Del(ctx context.Context, key string) error {
	s.l1.Del(key)
	return s.shared.Del(ctx, key)
}

func (s *Store) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	s.l1.Del(key)
	return s.shared.CompareAndDelete(ctx, key, expected)
}

func (s *Store) Close(ctx context.Context) error {
	err := s.l1.Close()
	if s.closeShared {
		if serr := s.shared.Close(ctx); serr != nil {
			return serr
		}
	}
	return err
}
