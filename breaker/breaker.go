// Package breaker guards a cacheguard Loader with a circuit breaker, so a
// failing source of truth is not hammered by every cache miss.
package breaker

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"github.com/unkn0wn-root/cacheguard"
)

var (
	// ErrOpen is returned while the breaker rejects calls.
	ErrOpen = gobreaker.ErrOpenState
	// ErrTooManyRequests is returned when a half-open breaker is already probing.
	ErrTooManyRequests = gobreaker.ErrTooManyRequests
)

type Config struct {
	Name             string
	MaxRequests      uint32        // probes allowed while half-open
	Interval         time.Duration // closed-state counter reset period
	Timeout          time.Duration // open -> half-open delay
	FailureThreshold float64       // trip when failures/requests >= this
	MinRequests      uint32        // never trip below this many requests

	Logger cacheguard.Logger
}

func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		FailureThreshold: 0.8,
		MinRequests:      5,
	}
}

func New(cfg Config) *gobreaker.CircuitBreaker {
	log := cfg.Logger
	if log == nil {
		log = cacheguard.NopLogger{}
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < cfg.MinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("breaker: state change", cacheguard.Fields{"breaker": name, "from": from.String(), "to": to.String()})
		},
		// a caller giving up says nothing about the source's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// Wrap returns a Loader that runs load through cb. "not found" is a success.
func Wrap[V any](cb *gobreaker.CircuitBreaker, load cacheguard.Loader[V]) cacheguard.Loader[V] {
	type result struct {
		v     V
		found bool
	}
	return func(ctx context.Context, key string) (V, bool, error) {
		out, err := cb.Execute(func() (any, error) {
			v, found, err := load(ctx, key)
			return result{v, found}, err
		})
		if err != nil {
			var zero V
			return zero, false, err
		}
		r := out.(result)
		return r.v, r.found, nil
	}
}
