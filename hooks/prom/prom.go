// Package prom exports cacheguard hook events as Prometheus metrics.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unkn0wn-root/cacheguard"
)

type Hooks struct {
	events   *prometheus.CounterVec
	rebuilds *prometheus.HistogramVec
}

var _ cacheguard.Hooks = (*Hooks)(nil)

// New registers the collectors on reg. Keys are never used as labels.
func New(reg prometheus.Registerer, namespace string) (*Hooks, error) {
	h := &Hooks{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "cacheguard",
				Name:      "events_total",
				Help:      "Cache consistency events by type",
			},
			[]string{"event"},
		),
		rebuilds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "cacheguard",
				Name:      "rebuild_duration_seconds",
				Help:      "Background rebuild duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
	}
	for _, c := range []prometheus.Collector{h.events, h.rebuilds} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return h, nil
}

func (h *Hooks) inc(event string) { h.events.WithLabelValues(event).Inc() }

func (h *Hooks) CorruptEntry(_, reason string)   { h.inc("corrupt_" + reason) }
func (h *Hooks) TombstoneWritten(string)         { h.inc("tombstone_written") }
func (h *Hooks) LockContended(string, int)       { h.inc("lock_contended") }
func (h *Hooks) LockReleaseFailed(string, error) { h.inc("lock_release_failed") }
func (h *Hooks) StaleServed(string)              { h.inc("stale_served") }
func (h *Hooks) RebuildSubmitted(string)         { h.inc("rebuild_submitted") }
func (h *Hooks) RebuildRejected(string, error)   { h.inc("rebuild_rejected") }

func (h *Hooks) RebuildFailed(string, error) {
	h.inc("rebuild_failed")
}

func (h *Hooks) RebuildCompleted(_ string, took time.Duration) {
	h.inc("rebuild_completed")
	h.rebuilds.WithLabelValues("ok").Observe(took.Seconds())
}
