// Package logrus adapts a *logrus.Entry to gqlcache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/gqlcache"
)

type Logger struct{ E *logrus.Entry }

var _ gqlcache.Logger = Logger{}

// New tags every line with component=gqlcache.
func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "gqlcache")}
}

func (l Logger) entry(f gqlcache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	return l.E.WithFields(logrus.Fields(f))
}

func (l Logger) Debug(msg string, f gqlcache.Fields) { l.entry(f).Debug(msg) }
func (l Logger) Info(msg string, f gqlcache.Fields)  { l.entry(f).Info(msg) }
func (l Logger) Warn(msg string, f gqlcache.Fields)  { l.entry(f).Warn(msg) }
func (l Logger) Error(msg string, f gqlcache.Fields) { l.entry(f).Error(msg) }
