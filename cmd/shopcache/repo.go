package main

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type Shop struct {
	ID   int    `json:"id" msgpack:"id" cbor:"id"`
	Name string `json:"name" msgpack:"name" cbor:"name"`
}

// shopRepo stands in for the database: a map behind a fixed latency.
type shopRepo struct {
	mu      sync.RWMutex
	shops   map[int]Shop
	latency time.Duration
	queries atomic.Int64
}

func newShopRepo(latency time.Duration, seed int) *shopRepo {
	r := &shopRepo{shops: make(map[int]Shop, seed), latency: latency}
	for i := 1; i <= seed; i++ {
		r.shops[i] = Shop{ID: i, Name: "shop " + strconv.Itoa(i)}
	}
	return r
}

// Load matches cacheguard.Loader[Shop]. Non-numeric ids are "not found".
func (r *shopRepo) Load(ctx context.Context, key string) (Shop, bool, error) {
	r.queries.Add(1)
	if r.latency > 0 {
		t := time.NewTimer(r.latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return Shop{}, false, ctx.Err()
		}
	}
	id, err := strconv.Atoi(key)
	if err != nil {
		return Shop{}, false, nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.shops[id]
	return s, ok, nil
}

func (r *shopRepo) Put(s Shop) {
	r.mu.Lock()
	r.shops[s.ID] = s
	r.mu.Unlock()
}

func (r *shopRepo) Queries() int64 { return r.queries.Load() }
