// Package config loads the shopcache service configuration.
//
// Sources, lowest priority first: defaults, an optional YAML file,
// CACHEGUARD_* environment variables. The result is validated with struct
// tags before use.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const envPrefix = "CACHEGUARD_"

type Config struct {
	Server  Server  `yaml:"server"`
	Store   Store   `yaml:"store"`
	Cache   Cache   `yaml:"cache"`
	Source  Source  `yaml:"source"`
	Breaker Breaker `yaml:"breaker"`
	Log     Log     `yaml:"log"`
}

type Server struct {
	Addr            string        `yaml:"addr" validate:"required"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
}

type Store struct {
	Backend string `yaml:"backend" validate:"oneof=memory redis"`

	RedisAddr     string `yaml:"redis_addr" validate:"required_if=Backend redis"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db" validate:"gte=0"`

	// Near puts an in-process L1 in front of the shared store.
	Near       string        `yaml:"near" validate:"omitempty,oneof=ristretto bigcache"`
	NearL1TTL  time.Duration `yaml:"near_l1_ttl" validate:"gte=0"`
	NearMaxMiB int           `yaml:"near_max_mib" validate:"gte=0"`
}

type Cache struct {
	Namespace    string        `yaml:"namespace" validate:"required"`
	Mode         string        `yaml:"mode" validate:"oneof=aside mutex logical"`
	Codec        string        `yaml:"codec" validate:"oneof=json msgpack cbor"`
	MaxDecode    int           `yaml:"max_decode" validate:"gte=0"`
	TTL          time.Duration `yaml:"ttl" validate:"gt=0"`
	TombstoneTTL time.Duration `yaml:"tombstone_ttl" validate:"gt=0,ltfield=TTL"`
	LogicalTTL   time.Duration `yaml:"logical_ttl" validate:"gt=0"`
	LockTTL      time.Duration `yaml:"lock_ttl" validate:"gt=0"`
	RetryBackoff time.Duration `yaml:"retry_backoff" validate:"gt=0"`
	MaxRetries   int           `yaml:"max_retries"`

	RebuildWorkers int `yaml:"rebuild_workers" validate:"gte=1"`
	RebuildQueue   int `yaml:"rebuild_queue" validate:"gte=1"`
}

// Source configures the demo backing repository.
type Source struct {
	Latency time.Duration `yaml:"latency" validate:"gte=0"`
	Seed    int           `yaml:"seed" validate:"gte=0"`
}

type Breaker struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold float64       `yaml:"failure_threshold" validate:"gte=0,lte=1"`
	MinRequests      uint32        `yaml:"min_requests"`
	Timeout          time.Duration `yaml:"timeout" validate:"gte=0"`
}

type Log struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

func Default() Config {
	return Config{
		Server: Server{Addr: ":8080", ShutdownTimeout: 10 * time.Second},
		Store:  Store{Backend: "memory", NearL1TTL: 2 * time.Second, NearMaxMiB: 64},
		Cache: Cache{
			Namespace:      "shop",
			Mode:           "mutex",
			Codec:          "json",
			MaxDecode:      1 << 20,
			TTL:            30 * time.Minute,
			TombstoneTTL:   2 * time.Minute,
			LogicalTTL:     30 * time.Minute,
			LockTTL:        10 * time.Second,
			RetryBackoff:   50 * time.Millisecond,
			MaxRetries:     100,
			RebuildWorkers: 10,
			RebuildQueue:   1024,
		},
		Source:  Source{Latency: 50 * time.Millisecond, Seed: 10},
		Breaker: Breaker{FailureThreshold: 0.8, MinRequests: 5, Timeout: 30 * time.Second},
		Log:     Log{Level: "info"},
	}
}

// Load reads path (if non-empty), applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := decode(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("config: invalid: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func applyEnv(cfg *Config, lookup lookupFunc) error {
	e := envReader{lookup: lookup}
	e.str("SERVER_ADDR", &cfg.Server.Addr)
	e.str("STORE", &cfg.Store.Backend)
	e.str("REDIS_ADDR", &cfg.Store.RedisAddr)
	e.str("REDIS_PASSWORD", &cfg.Store.RedisPassword)
	e.num("REDIS_DB", &cfg.Store.RedisDB)
	e.str("NEAR", &cfg.Store.Near)
	e.str("NAMESPACE", &cfg.Cache.Namespace)
	e.str("MODE", &cfg.Cache.Mode)
	e.str("CODEC", &cfg.Cache.Codec)
	e.num("MAX_DECODE", &cfg.Cache.MaxDecode)
	e.dur("TTL", &cfg.Cache.TTL)
	e.dur("TOMBSTONE_TTL", &cfg.Cache.TombstoneTTL)
	e.dur("LOGICAL_TTL", &cfg.Cache.LogicalTTL)
	e.dur("LOCK_TTL", &cfg.Cache.LockTTL)
	e.num("MAX_RETRIES", &cfg.Cache.MaxRetries)
	e.dur("SOURCE_LATENCY", &cfg.Source.Latency)
	e.flag("BREAKER", &cfg.Breaker.Enabled)
	e.str("LOG_LEVEL", &cfg.Log.Level)
	return e.err
}

// envReader records the first malformed variable.
type envReader struct {
	lookup lookupFunc
	err    error
}

func (e *envReader) get(name string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	return e.lookup(envPrefix + name)
}

func (e *envReader) fail(name, v string, err error) {
	e.err = fmt.Errorf("config: %s%s=%q: %w", envPrefix, name, v, err)
}

func (e *envReader) str(name string, dst *string) {
	if v, ok := e.get(name); ok {
		*dst = v
	}
}

func (e *envReader) num(name string, dst *int) {
	if v, ok := e.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) dur(name string, dst *time.Duration) {
	if v, ok := e.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = d
	}
}

func (e *envReader) flag(name string, dst *bool) {
	if v, ok := e.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(name, v, err)
			return
		}
		*dst = b
	}
}
