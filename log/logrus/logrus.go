// Package logrus adapts a *logrus.Entry to cacheguard.Logger.
package logrus

import (
	"time"

	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/cacheguard"
)

var _ cacheguard.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New tags every entry with component=cacheguard.
func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "cacheguard")}
}

func (l Logger) Debug(msg string, f cacheguard.Fields) { l.log(logrus.DebugLevel, msg, f) }
func (l Logger) Info(msg string, f cacheguard.Fields)  { l.log(logrus.InfoLevel, msg, f) }
func (l Logger) Warn(msg string, f cacheguard.Fields)  { l.log(logrus.WarnLevel, msg, f) }
func (l Logger) Error(msg string, f cacheguard.Fields) { l.log(logrus.ErrorLevel, msg, f) }

func (l Logger) log(lvl logrus.Level, msg string, f cacheguard.Fields) {
	if !l.E.Logger.IsLevelEnabled(lvl) {
		return
	}
	fields := make(logrus.Fields, len(f))
	for k, v := range f {
		// text formatter prints Duration as an integer otherwise
		if d, ok := v.(time.Duration); ok {
			v = d.String()
		}
		fields[k] = v
	}
	l.E.WithFields(fields).Log(lvl, msg)
}
