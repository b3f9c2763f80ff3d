package sloghooks

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestRedactsKeysAndSamples(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	h := New(l, Options{ContendedEvery: 5})

	for i := 1; i <= 10; i++ {
		h.LockContended("cache:shop:secret", i)
	}
	h.RebuildFailed("cache:shop:secret", errors.New("db down"))

	out := buf.String()
	if strings.Contains(out, "secret") {
		t.Fatalf("raw key leaked: %s", out)
	}
	if n := strings.Count(out, "cacheguard.lock_contended"); n != 2 {
		t.Fatalf("sampled contended lines=%d want 2", n)
	}
	if !strings.Contains(out, "cacheguard.rebuild_failed") || !strings.Contains(out, "db down") {
		t.Fatalf("missing failure line: %s", out)
	}
}

func TestNilLoggerIsNoop(t *testing.T) {
	h := New(nil, Options{})
	h.CorruptEntry("k", "corrupt")
	h.RebuildCompleted("k", 0)
}
