// Package definition holds the small interfaces shared across the core
// packages (Logger, Invoker) plus their default implementations, mirroring
// the teacher's pkg/mcast/definition package.
package definition

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the logging surface every core component depends on. Callers
// never depend on a concrete logging library directly.
type Logger interface {
	Info(v ...interface{})
	Infof(format string, v ...interface{})
	Warn(v ...interface{})
	Warnf(format string, v ...interface{})
	Error(v ...interface{})
	Errorf(format string, v ...interface{})
	Debug(v ...interface{})
	Debugf(format string, v ...interface{})
	ToggleDebug(value bool) bool
	Fatal(v ...interface{})
	Fatalf(format string, v ...interface{})
	Panic(v ...interface{})
	Panicf(format string, v ...interface{})

	// WithSite returns a derived logger carrying a structured "site" field,
	// mirroring the original implementation's short log-site tags (LS_CTR,
	// LS_SEL, LS_TRX, ...).
	WithSite(site string) Logger
}

// Verbosity is the CLI-facing -v/--verbosity level.
type Verbosity string

const (
	VerbosityOff   Verbosity = "off"
	VerbosityTrace Verbosity = "trace"
	VerbosityInfo  Verbosity = "info"
	VerbosityWarn  Verbosity = "warn"
	VerbosityErr   Verbosity = "err"
)

// ToLogrusLevel maps the CLI's verbosity vocabulary onto logrus levels.
func ToLogrusLevel(v Verbosity) logrus.Level {
	switch v {
	case VerbosityOff:
		return logrus.PanicLevel
	case VerbosityTrace:
		return logrus.TraceLevel
	case VerbosityWarn:
		return logrus.WarnLevel
	case VerbosityErr:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// DefaultLogger is the logrus-backed implementation used unless the caller
// supplies its own Logger.
type DefaultLogger struct {
	entry *logrus.Entry
	base  *logrus.Logger
}

// NewDefaultLogger builds a console logger at info level.
func NewDefaultLogger() *DefaultLogger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetLevel(logrus.InfoLevel)
	return &DefaultLogger{base: base, entry: logrus.NewEntry(base)}
}

// NewLoggerWithSink builds a logger writing to sink (a file, or os.Stdout for
// "console") at the given verbosity, per the -l/-v CLI flags.
func NewLoggerWithSink(sink io.Writer, verbosity Verbosity) *DefaultLogger {
	base := logrus.New()
	base.SetOutput(sink)
	base.SetLevel(ToLogrusLevel(verbosity))
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &DefaultLogger{base: base, entry: logrus.NewEntry(base)}
}

func (l *DefaultLogger) WithSite(site string) Logger {
	return &DefaultLogger{base: l.base, entry: l.entry.WithField("site", site)}
}

func (l *DefaultLogger) Info(v ...interface{})                   { l.entry.Info(v...) }
func (l *DefaultLogger) Infof(format string, v ...interface{})   { l.entry.Infof(format, v...) }
func (l *DefaultLogger) Warn(v ...interface{})                   { l.entry.Warn(v...) }
func (l *DefaultLogger) Warnf(format string, v ...interface{})   { l.entry.Warnf(format, v...) }
func (l *DefaultLogger) Error(v ...interface{})                  { l.entry.Error(v...) }
func (l *DefaultLogger) Errorf(format string, v ...interface{})  { l.entry.Errorf(format, v...) }
func (l *DefaultLogger) Fatal(v ...interface{})                  { l.entry.Fatal(v...) }
func (l *DefaultLogger) Fatalf(format string, v ...interface{})  { l.entry.Fatalf(format, v...) }
func (l *DefaultLogger) Panic(v ...interface{})                  { l.entry.Panic(v...) }
func (l *DefaultLogger) Panicf(format string, v ...interface{})  { l.entry.Panicf(format, v...) }

func (l *DefaultLogger) Debug(v ...interface{}) {
	if l.base.IsLevelEnabled(logrus.DebugLevel) {
		l.entry.Debug(v...)
	}
}

func (l *DefaultLogger) Debugf(format string, v ...interface{}) {
	if l.base.IsLevelEnabled(logrus.DebugLevel) {
		l.entry.Debugf(format, v...)
	}
}

// ToggleDebug flips between info and debug/trace level, mirroring the
// teacher's boolean toggle while layering onto logrus's richer level set.
func (l *DefaultLogger) ToggleDebug(value bool) bool {
	if value {
		l.base.SetLevel(logrus.DebugLevel)
	} else {
		l.base.SetLevel(logrus.InfoLevel)
	}
	return value
}
