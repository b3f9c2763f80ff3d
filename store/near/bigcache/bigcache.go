package bigcache

import (
	"context"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/unkn0wn-root/cacheguard/store/near"
)

// Local is a near.Local on bigcache. BigCache has one life window for all
// entries; per-entry ttl is enforced by near's stamp, LifeWindow only bounds
// memory held by entries nobody reads again.
type Local struct {
	c *bc.BigCache
}

var _ near.Local = (*Local)(nil)

type Config struct {
	LifeWindow         time.Duration // 0 => 10s
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(ctx context.Context, cfg Config) (*Local, error) {
	life := cfg.LifeWindow
	if life <= 0 {
		life = 10 * time.Second
	}
	conf := bc.DefaultConfig(life)
	conf.Verbose = false
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.New(ctx, conf)
	if err != nil {
		return nil, err
	}
	return &Local{c: c}, nil
}

func (l *Local) Get(key string) ([]byte, bool) {
	b, err := l.c.Get(key)
	if err != nil {
		// ErrEntryNotFound or an internal error: both are an L1 miss
		return nil, false
	}
	return b, true
}

func (l *Local) Set(key string, value []byte, _ time.Duration) {
	// entries larger than a shard can hold are rejected; the shared store still has them
	_ = l.c.Set(key, value)
}

func (l *Local) Del(key string) { _ = l.c.Delete(key) }

func (l *Local) Close() error {
	return l.c.Close()
}
