package gobbledegook

import (
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// LogReceiver is a callback that receives one formatted log line. The line is
// never empty and never nil. Receivers must be re-entrant; they may be called
// from any of the server's threads.
type LogReceiver func(line string)

// Logger fans log output out to logrus and to any registered per-level
// receivers. The receiver levels mirror the embedding API: debug, info,
// status, warn, error, fatal, always, and trace.
type Logger struct {
	log *logrus.Logger

	mu       sync.RWMutex
	debugRx  LogReceiver
	infoRx   LogReceiver
	statusRx LogReceiver
	warnRx   LogReceiver
	errorRx  LogReceiver
	fatalRx  LogReceiver
	alwaysRx LogReceiver
	traceRx  LogReceiver
}

// Log is the framework-wide logger. Library output is discarded unless the
// host installs receivers or redirects it with SetOutput.
var Log = newLogger()

func newLogger() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.TraceLevel)
	return &Logger{log: l}
}

// SetOutput directs the underlying logrus logger at w.
func (l *Logger) SetOutput(w io.Writer) { l.log.SetOutput(w) }

// SetLevel adjusts the logrus level; receivers are unaffected.
func (l *Logger) SetLevel(level logrus.Level) { l.log.SetLevel(level) }

// Logrus exposes the underlying logrus logger so hosts can install
// formatters or hooks of their own.
func (l *Logger) Logrus() *logrus.Logger { return l.log }

// RegisterDebugReceiver installs fn as the debug sink; nil removes it.
func (l *Logger) RegisterDebugReceiver(fn LogReceiver) { l.setRx(&l.debugRx, fn) }

// RegisterInfoReceiver installs fn as the info sink; nil removes it.
func (l *Logger) RegisterInfoReceiver(fn LogReceiver) { l.setRx(&l.infoRx, fn) }

// RegisterStatusReceiver installs fn as the status sink; nil removes it.
func (l *Logger) RegisterStatusReceiver(fn LogReceiver) { l.setRx(&l.statusRx, fn) }

// RegisterWarnReceiver installs fn as the warning sink; nil removes it.
func (l *Logger) RegisterWarnReceiver(fn LogReceiver) { l.setRx(&l.warnRx, fn) }

// RegisterErrorReceiver installs fn as the error sink; nil removes it.
func (l *Logger) RegisterErrorReceiver(fn LogReceiver) { l.setRx(&l.errorRx, fn) }

// RegisterFatalReceiver installs fn as the fatal sink; nil removes it.
func (l *Logger) RegisterFatalReceiver(fn LogReceiver) { l.setRx(&l.fatalRx, fn) }

// RegisterAlwaysReceiver installs fn as the always sink; nil removes it.
func (l *Logger) RegisterAlwaysReceiver(fn LogReceiver) { l.setRx(&l.alwaysRx, fn) }

// RegisterTraceReceiver installs fn as the trace sink; nil removes it.
func (l *Logger) RegisterTraceReceiver(fn LogReceiver) { l.setRx(&l.traceRx, fn) }

func (l *Logger) setRx(slot *LogReceiver, fn LogReceiver) {
	l.mu.Lock()
	*slot = fn
	l.mu.Unlock()
}

func (l *Logger) deliver(slot *LogReceiver, line string) {
	l.mu.RLock()
	fn := *slot
	l.mu.RUnlock()
	if fn != nil {
		fn(line)
	}
}

func (l *Logger) Trace(args ...interface{}) {
	l.log.Trace(args...)
	l.deliver(&l.traceRx, fmt.Sprint(args...))
}

func (l *Logger) Tracef(format string, args ...interface{}) {
	l.log.Tracef(format, args...)
	l.deliver(&l.traceRx, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(args ...interface{}) {
	l.log.Debug(args...)
	l.deliver(&l.debugRx, fmt.Sprint(args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.log.Debugf(format, args...)
	l.deliver(&l.debugRx, fmt.Sprintf(format, args...))
}

func (l *Logger) Info(args ...interface{}) {
	l.log.Info(args...)
	l.deliver(&l.infoRx, fmt.Sprint(args...))
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.log.Infof(format, args...)
	l.deliver(&l.infoRx, fmt.Sprintf(format, args...))
}

// Status reports a server life-cycle milestone. It logs at logrus info level
// with a status marker and feeds the status receiver.
func (l *Logger) Status(args ...interface{}) {
	l.log.WithField("status", true).Info(args...)
	l.deliver(&l.statusRx, fmt.Sprint(args...))
}

func (l *Logger) Statusf(format string, args ...interface{}) {
	l.log.WithField("status", true).Infof(format, args...)
	l.deliver(&l.statusRx, fmt.Sprintf(format, args...))
}

func (l *Logger) Warn(args ...interface{}) {
	l.log.Warn(args...)
	l.deliver(&l.warnRx, fmt.Sprint(args...))
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.log.Warnf(format, args...)
	l.deliver(&l.warnRx, fmt.Sprintf(format, args...))
}

func (l *Logger) Error(args ...interface{}) {
	l.log.Error(args...)
	l.deliver(&l.errorRx, fmt.Sprint(args...))
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.log.Errorf(format, args...)
	l.deliver(&l.errorRx, fmt.Sprintf(format, args...))
}

// Fatal logs at error level and feeds the fatal receiver. Unlike logrus.Fatal
// it does not exit; terminal conditions are handled by the lifecycle engine.
func (l *Logger) Fatal(args ...interface{}) {
	l.log.WithField("fatal", true).Error(args...)
	l.deliver(&l.fatalRx, fmt.Sprint(args...))
}

func (l *Logger) Fatalf(format string, args ...interface{}) {
	l.log.WithField("fatal", true).Errorf(format, args...)
	l.deliver(&l.fatalRx, fmt.Sprintf(format, args...))
}

// Always logs at logrus info level (subject to the logger's level) and always
// feeds the always receiver.
func (l *Logger) Always(args ...interface{}) {
	l.log.Info(args...)
	l.deliver(&l.alwaysRx, fmt.Sprint(args...))
}

func (l *Logger) Alwaysf(format string, args ...interface{}) {
	l.log.Infof(format, args...)
	l.deliver(&l.alwaysRx, fmt.Sprintf(format, args...))
}
