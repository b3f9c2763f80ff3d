// Package sloghooks logs cacheguard hook events to a *slog.Logger.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/unkn0wn-root/cacheguard"
)

type Options struct {
	// Sampling to avoid floods on hot keys; 0/1 = log all.
	ContendedEvery uint64
	StaleEvery     uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	contendedCtr atomic.Uint64
	staleCtr     atomic.Uint64
}

var _ cacheguard.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) CorruptEntry(storageKey, reason string) {
	if h.l == nil {
		return
	}
	h.l.Warn("cacheguard.corrupt_entry",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) TombstoneWritten(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Debug("cacheguard.tombstone_written", "key", h.redact(storageKey))
}

func (h *Hooks) LockContended(storageKey string, attempt int) {
	if h.l == nil || !sample(h.opts.ContendedEvery, &h.contendedCtr) {
		return
	}
	h.l.Debug("cacheguard.lock_contended",
		"key", h.redact(storageKey),
		"attempt", attempt)
}

func (h *Hooks) LockReleaseFailed(lockKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("cacheguard.lock_release_failed",
		"lock", h.redact(lockKey),
		"err", err)
}

func (h *Hooks) StaleServed(storageKey string) {
	if h.l == nil || !sample(h.opts.StaleEvery, &h.staleCtr) {
		return
	}
	h.l.Debug("cacheguard.stale_served", "key", h.redact(storageKey))
}

func (h *Hooks) RebuildSubmitted(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Debug("cacheguard.rebuild_submitted", "key", h.redact(storageKey))
}

func (h *Hooks) RebuildRejected(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("cacheguard.rebuild_rejected",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) RebuildFailed(storageKey string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("cacheguard.rebuild_failed",
		"key", h.redact(storageKey),
		"err", err)
}

func (h *Hooks) RebuildCompleted(storageKey string, took time.Duration) {
	if h.l == nil {
		return
	}
	h.l.Info("cacheguard.rebuild_completed",
		"key", h.redact(storageKey),
		"took", took)
}
