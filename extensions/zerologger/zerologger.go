// Package zerologger adapts a zerolog.Logger to mauzr.Logger.
package zerologger

import (
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/eqrx/mauzr"
)

// Logger forwards mauzr log calls to zerolog.
type Logger struct {
	log   zerolog.Logger
	level atomic.Int32
}

var _ mauzr.Logger = (*Logger)(nil)

// New wraps log. Messages below level are dropped before zerolog sees them.
func New(log zerolog.Logger, level mauzr.LogLevel) *Logger {
	l := &Logger{log: log}
	l.level.Store(int32(level))
	return l
}

// NewConsole returns a logger writing human readable lines to w, or stderr
// when w is nil.
func NewConsole(w io.Writer, level mauzr.LogLevel) *Logger {
	if w == nil {
		w = os.Stderr
	}
	writer := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339Nano}
	return New(zerolog.New(writer).With().Timestamp().Logger(), level)
}

// NewJSON returns a logger writing one JSON object per line to w, or stderr
// when w is nil.
func NewJSON(w io.Writer, level mauzr.LogLevel) *Logger {
	if w == nil {
		w = os.Stderr
	}
	return New(zerolog.New(w).With().Timestamp().Logger(), level)
}

// Zerolog returns the wrapped logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.log
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields mauzr.LogFields) {
	l.emit(mauzr.LogLevelDebug, zerolog.DebugLevel, msg, fields)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields mauzr.LogFields) {
	l.emit(mauzr.LogLevelInfo, zerolog.InfoLevel, msg, fields)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields mauzr.LogFields) {
	l.emit(mauzr.LogLevelWarn, zerolog.WarnLevel, msg, fields)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields mauzr.LogFields) {
	l.emit(mauzr.LogLevelError, zerolog.ErrorLevel, msg, fields)
}

// WithFields returns a logger that adds fields to every message.
func (l *Logger) WithFields(fields mauzr.LogFields) mauzr.Logger {
	return New(l.log.With().Fields(map[string]any(fields)).Logger(), l.Level())
}

// Level returns the current log level.
func (l *Logger) Level() mauzr.LogLevel {
	return mauzr.LogLevel(l.level.Load())
}

// SetLevel sets the log level.
func (l *Logger) SetLevel(level mauzr.LogLevel) {
	l.level.Store(int32(level))
}

func (l *Logger) emit(level mauzr.LogLevel, zl zerolog.Level, msg string, fields mauzr.LogFields) {
	if level < l.Level() {
		return
	}

	event := l.log.WithLevel(zl)
	if len(fields) > 0 {
		event = event.Fields(map[string]any(fields))
	}
	event.Msg(msg)
}
