package slog

import (
	"bytes"
	"encoding/json"
	stdslog "log/slog"
	"testing"

	"github.com/unkn0wn-root/cacheguard"
)

func TestGroupedJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(stdslog.New(stdslog.NewJSONHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo})))

	l.Debug("dropped", nil)
	l.Warn("cacheguard: dropped undecodable entry", cacheguard.Fields{"key": "cache:shop:1", "reason": "corrupt"})

	var rec struct {
		Msg        string            `json:"msg"`
		Level      string            `json:"level"`
		Cacheguard map[string]string `json:"cacheguard"`
	}
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("want exactly one JSON record, got %q: %v", buf.String(), err)
	}
	if rec.Level != "WARN" || rec.Cacheguard["key"] != "cache:shop:1" || rec.Cacheguard["reason"] != "corrupt" {
		t.Fatalf("record=%+v", rec)
	}
}
