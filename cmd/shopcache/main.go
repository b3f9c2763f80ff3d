// Command shopcache serves shops from an in-memory repository through a
// cacheguard cache backed by memory or Redis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/cacheguard"
	"github.com/unkn0wn-root/cacheguard/breaker"
	"github.com/unkn0wn-root/cacheguard/codec"
	"github.com/unkn0wn-root/cacheguard/hooks/prom"
	"github.com/unkn0wn-root/cacheguard/internal/config"
	zaplog "github.com/unkn0wn-root/cacheguard/log/zap"
	"github.com/unkn0wn-root/cacheguard/rebuild"
	"github.com/unkn0wn-root/cacheguard/store"
	"github.com/unkn0wn-root/cacheguard/store/memory"
	"github.com/unkn0wn-root/cacheguard/store/near"
	"github.com/unkn0wn-root/cacheguard/store/near/bigcache"
	"github.com/unkn0wn-root/cacheguard/store/near/ristretto"
	redisstore "github.com/unkn0wn-root/cacheguard/store/redis"
)

func main() {
	path := flag.String("config", os.Getenv("CACHEGUARD_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("shopcache stopped", zap.Error(err))
	}
}

func newLogger(c config.Log) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func run(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	st, err := openStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close(context.Background()) }()

	hooks, err := prom.New(reg, "shopcache")
	if err != nil {
		return err
	}

	repo := newShopRepo(cfg.Source.Latency, cfg.Source.Seed)
	srv, closeCache, err := newServer(cfg, st, repo, hooks, log)
	if err != nil {
		return err
	}

	hs := &http.Server{Addr: cfg.Server.Addr, Handler: srv.routes(reg)}
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.Server.Addr), zap.String("mode", cfg.Cache.Mode), zap.String("store", cfg.Store.Backend))
		errc <- hs.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(sctx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	return closeCache(sctx)
}

// newServer wires the cache for cfg. The returned func drains rebuilds.
func newServer(cfg config.Config, st store.Store, repo *shopRepo, hooks cacheguard.Hooks, log *zap.Logger) (*server, func(context.Context) error, error) {
	cdc, err := shopCodec(cfg.Cache.Codec, cfg.Cache.MaxDecode)
	if err != nil {
		return nil, nil, err
	}

	exec := rebuild.New(rebuild.Options{
		Workers: cfg.Cache.RebuildWorkers,
		Queue:   cfg.Cache.RebuildQueue,
		Report: func(t *rebuild.Task) {
			log.Debug("rebuild finished",
				zap.String("key", t.Name()),
				zap.Duration("queued", t.QueueDelay()),
				zap.Duration("took", t.Duration()))
		},
	})

	c, err := cacheguard.New(cacheguard.Options[Shop]{
		Namespace:    cfg.Cache.Namespace,
		Store:        st,
		Codec:        cdc,
		TTL:          cfg.Cache.TTL,
		TombstoneTTL: cfg.Cache.TombstoneTTL,
		LogicalTTL:   cfg.Cache.LogicalTTL,
		LockTTL:      cfg.Cache.LockTTL,
		RetryBackoff: cfg.Cache.RetryBackoff,
		MaxRetries:   cfg.Cache.MaxRetries,
		Executor:     exec,
		Logger:       zaplog.New(log),
		Hooks:        hooks,
	})
	if err != nil {
		_ = exec.Close(context.Background())
		return nil, nil, err
	}

	load := cacheguard.Loader[Shop](repo.Load)
	if cfg.Breaker.Enabled {
		bc := breaker.DefaultConfig("shop-repo")
		bc.FailureThreshold = cfg.Breaker.FailureThreshold
		bc.MinRequests = cfg.Breaker.MinRequests
		bc.Timeout = cfg.Breaker.Timeout
		bc.Logger = zaplog.New(log)
		load = breaker.Wrap(breaker.New(bc), load)
	}

	srv := &server{cache: c, repo: repo, load: load, mode: cfg.Cache.Mode, log: log}
	closeAll := func(ctx context.Context) error {
		return errors.Join(c.Close(ctx), exec.Close(ctx))
	}
	return srv, closeAll, nil
}

// shopCodec picks the entity codec. maxDecode > 0 caps the payload size a
// read will decode; larger entries are dropped as corrupt.
func shopCodec(name string, maxDecode int) (codec.Codec[Shop], error) {
	var inner codec.Codec[Shop]
	switch name {
	case "json":
		inner = codec.JSON[Shop]{}
	case "msgpack":
		inner = codec.Msgpack[Shop]{}
	case "cbor":
		c, err := codec.NewCBOR[Shop](true)
		if err != nil {
			return nil, err
		}
		inner = c
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
	if maxDecode <= 0 {
		return inner, nil
	}
	return codec.Limit[Shop]{Inner: inner, MaxDecode: maxDecode}, nil
}

func openStore(ctx context.Context, c config.Store, log *zap.Logger) (store.Store, error) {
	var shared store.Store
	switch c.Backend {
	case "memory":
		shared = memory.New(memory.Options{CleanupInterval: time.Minute})
	case "redis":
		rdb := goredis.NewClient(&goredis.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("redis %s: %w", c.RedisAddr, err)
		}
		rs, err := redisstore.New(redisstore.Config{Client: rdb, CloseClient: true})
		if err != nil {
			_ = rdb.Close()
			return nil, err
		}
		shared = rs
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Backend)
	}

	var l1 near.Local
	switch c.Near {
	case "":
		return shared, nil
	case "ristretto":
		maxCost := int64(c.NearMaxMiB) << 20
		l, err := ristretto.New(ristretto.Config{NumCounters: maxCost / 100, MaxCost: maxCost, BufferItems: 64})
		if err != nil {
			_ = shared.Close(ctx)
			return nil, err
		}
		l1 = l
	case "bigcache":
		l, err := bigcache.New(ctx, bigcache.Config{LifeWindow: c.NearL1TTL, HardMaxCacheSizeMB: c.NearMaxMiB})
		if err != nil {
			_ = shared.Close(ctx)
			return nil, err
		}
		l1 = l
	default:
		_ = shared.Close(ctx)
		return nil, fmt.Errorf("unknown near engine %q", c.Near)
	}
	log.Info("near cache enabled", zap.String("engine", c.Near), zap.Duration("l1_ttl", c.NearL1TTL))
	return near.New(shared, l1, near.Options{L1TTL: c.NearL1TTL, CloseShared: true}), nil
}
