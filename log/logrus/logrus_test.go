package logrus

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/unkn0wn-root/cacheguard"
)

func TestFieldsAndLevels(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.InfoLevel)
	l := New(base)

	l.Debug("dropped", cacheguard.Fields{"key": "x"})
	l.Error("cacheguard: rebuild failed", cacheguard.Fields{"key": "cache:shop:1", "took": 2 * time.Second})

	if len(hook.AllEntries()) != 1 {
		t.Fatalf("entries=%d want 1", len(hook.AllEntries()))
	}
	e := hook.LastEntry()
	if e.Level != logrus.ErrorLevel || e.Message != "cacheguard: rebuild failed" {
		t.Fatalf("level=%v msg=%q", e.Level, e.Message)
	}
	if e.Data["component"] != "cacheguard" || e.Data["key"] != "cache:shop:1" || e.Data["took"] != "2s" {
		t.Fatalf("data=%v", e.Data)
	}
}
