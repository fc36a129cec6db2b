package pstate

import "github.com/sirupsen/logrus"

// Logger is the structured logging facade every pstate component writes
// through. It wraps a logrus.FieldLogger so an embedder can hand in an
// already-configured instance (shared with the rest of the broker) instead
// of this module creating its own.
type Logger struct {
	fl logrus.FieldLogger
}

// NewLogger wraps fl. A nil fl falls back to a logrus.New() with the
// package default formatter, so the zero Logger is always usable.
func NewLogger(fl logrus.FieldLogger) Logger {
	if fl == nil {
		fl = logrus.New()
	}
	return Logger{fl: fl}
}

// With returns a Logger that always includes the given fields.
func (l Logger) With(fields logrus.Fields) Logger {
	if l.fl == nil {
		l = NewLogger(nil)
	}
	return Logger{fl: l.fl.WithFields(fields)}
}

func (l Logger) logger() logrus.FieldLogger {
	if l.fl == nil {
		return logrus.New()
	}
	return l.fl
}

func (l Logger) Debugf(format string, args ...any) { l.logger().Debugf(format, args...) }
func (l Logger) Infof(format string, args ...any)  { l.logger().Infof(format, args...) }
func (l Logger) Warnf(format string, args ...any)  { l.logger().Warnf(format, args...) }
func (l Logger) Errorf(format string, args ...any) { l.logger().Errorf(format, args...) }
