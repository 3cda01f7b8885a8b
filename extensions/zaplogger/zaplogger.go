// Package zaplogger adapts a zap.Logger to mauzr.Logger.
package zaplogger

import (
	"sort"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/eqrx/mauzr"
)

// Logger forwards mauzr log calls to zap.
type Logger struct {
	log   *zap.Logger
	level atomic.Int32
}

var _ mauzr.Logger = (*Logger)(nil)

// New wraps log. Messages below level are dropped before zap sees them.
func New(log *zap.Logger, level mauzr.LogLevel) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Logger{log: log}
	l.level.Store(int32(level))
	return l
}

// NewProduction returns a JSON logger on stderr.
func NewProduction(level mauzr.LogLevel) (*Logger, error) {
	log, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return New(log, level), nil
}

// Zap returns the wrapped logger.
func (l *Logger) Zap() *zap.Logger {
	return l.log
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields mauzr.LogFields) {
	if l.enabled(mauzr.LogLevelDebug) {
		l.log.Debug(msg, toZap(fields)...)
	}
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields mauzr.LogFields) {
	if l.enabled(mauzr.LogLevelInfo) {
		l.log.Info(msg, toZap(fields)...)
	}
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields mauzr.LogFields) {
	if l.enabled(mauzr.LogLevelWarn) {
		l.log.Warn(msg, toZap(fields)...)
	}
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields mauzr.LogFields) {
	if l.enabled(mauzr.LogLevelError) {
		l.log.Error(msg, toZap(fields)...)
	}
}

// WithFields returns a logger that adds fields to every message.
func (l *Logger) WithFields(fields mauzr.LogFields) mauzr.Logger {
	return New(l.log.With(toZap(fields)...), l.Level())
}

// Level returns the current log level.
func (l *Logger) Level() mauzr.LogLevel {
	return mauzr.LogLevel(l.level.Load())
}

// SetLevel sets the log level.
func (l *Logger) SetLevel(level mauzr.LogLevel) {
	l.level.Store(int32(level))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.log.Sync()
}

func (l *Logger) enabled(level mauzr.LogLevel) bool {
	return level >= l.Level()
}

// toZap converts fields in key order so output is stable.
func toZap(fields mauzr.LogFields) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}
