package ristretto

import (
	"errors"
	"time"

	rc "github.com/dgraph-io/ristretto"

	"github.com/unkn0wn-root/cacheguard/store/near"
)

// Local is a near.Local on ristretto. Cost is the value size in bytes, so
// MaxCost is a memory budget.
type Local struct {
	c *rc.Cache
}

var _ near.Local = (*Local)(nil)

type Config struct {
	NumCounters int64 // ~10x expected entries
	MaxCost     int64 // bytes
	BufferItems int64 // 64 is the ristretto recommendation
	Metrics     bool
}

func New(cfg Config) (*Local, error) {
	if cfg.NumCounters <= 0 || cfg.MaxCost <= 0 || cfg.BufferItems <= 0 {
		return nil, errors.New("ristretto: invalid config")
	}
	c, err := rc.NewCache(&rc.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
		Metrics:     cfg.Metrics,
	})
	if err != nil {
		return nil, err
	}
	return &Local{c: c}, nil
}

func (l *Local) Get(key string) ([]byte, bool) {
	v, ok := l.c.Get(key)
	if !ok {
		return nil, false
	}
	b, _ := v.([]byte)
	if b == nil {
		l.c.Del(key)
		return nil, false
	}
	return b, true
}

// Set is asynchronous in ristretto: a Get right after Set may still miss,
// which near treats as an L1 miss.
func (l *Local) Set(key string, value []byte, ttl time.Duration) {
	l.c.SetWithTTL(key, value, int64(len(value)), ttl)
}

func (l *Local) Del(key string) { l.c.Del(key) }

// Wait blocks until buffered writes are applied (tests, warmup).
func (l *Local) Wait() { l.c.Wait() }

func (l *Local) Close() error {
	l.c.Wait()
	l.c.Close()
	return nil
}

// Metrics exposes ristretto's counters when Config.Metrics is set.
func (l *Local) Metrics() *rc.Metrics { return l.c.Metrics }
