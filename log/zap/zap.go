// Package zap adapts a *zap.Logger to cacheguard.Logger.
package zap

import (
	"sort"
	"time"

	"github.com/unkn0wn-root/cacheguard"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var _ cacheguard.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// New names l "cacheguard" so cache events can be filtered by logger name.
func New(l *zap.Logger) Logger { return Logger{L: l.Named("cacheguard")} }

func (z Logger) Debug(msg string, f cacheguard.Fields) { z.log(zapcore.DebugLevel, msg, f) }
func (z Logger) Info(msg string, f cacheguard.Fields)  { z.log(zapcore.InfoLevel, msg, f) }
func (z Logger) Warn(msg string, f cacheguard.Fields)  { z.log(zapcore.WarnLevel, msg, f) }
func (z Logger) Error(msg string, f cacheguard.Fields) { z.log(zapcore.ErrorLevel, msg, f) }

func (z Logger) log(lvl zapcore.Level, msg string, f cacheguard.Fields) {
	if ce := z.L.Check(lvl, msg); ce != nil {
		ce.Write(zf(f)...)
	}
}

func zf(f cacheguard.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		switch v := f[k].(type) {
		case string:
			out = append(out, zap.String(k, v))
		case int:
			out = append(out, zap.Int(k, v))
		case time.Duration:
			out = append(out, zap.Duration(k, v))
		case error:
			out = append(out, zap.NamedError(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
