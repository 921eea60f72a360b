// Package logging provides the application's leveled structured logger.
// It is a thin wrapper over zerolog that keeps call sites down to
// logger.Info("message", logging.WithField("key", value)).
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Level controls the minimum severity that gets emitted.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return LevelDebug
	case "warn":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Field is a single structured key/value pair attached to a log line.
type Field struct {
	Key   string
	Value interface{}
}

// WithField builds a single structured field.
func WithField(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// WithFields expands a map into fields. Iteration order is not guaranteed;
// zerolog sorts keys in console mode, JSON consumers do not care.
func WithFields(m map[string]interface{}) []Field {
	fields := make([]Field, 0, len(m))
	for k, v := range m {
		fields = append(fields, Field{Key: k, Value: v})
	}
	return fields
}

// Logger wraps a zerolog.Logger behind the level/field API used throughout
// the codebase.
type Logger struct {
	zl zerolog.Logger
}

// New creates a logger writing JSON to stderr at the given level.
func New(level Level) *Logger {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter creates a logger writing to an arbitrary writer. Tests use
// this with io.Discard or a buffer.
func NewWithWriter(level Level, w io.Writer) *Logger {
	zl := zerolog.New(w).Level(toZerolog(level)).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

func toZerolog(level Level) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l *Logger) Debug(msg string, fields ...interface{}) {
	l.emit(l.zl.Debug(), msg, fields)
}

func (l *Logger) Info(msg string, fields ...interface{}) {
	l.emit(l.zl.Info(), msg, fields)
}

func (l *Logger) Warn(msg string, fields ...interface{}) {
	l.emit(l.zl.Warn(), msg, fields)
}

func (l *Logger) Error(msg string, fields ...interface{}) {
	l.emit(l.zl.Error(), msg, fields)
}

// emit accepts both Field and []Field arguments so call sites can pass
// WithField(...) and WithFields(...) interchangeably.
func (l *Logger) emit(ev *zerolog.Event, msg string, args []interface{}) {
	for _, arg := range args {
		switch f := arg.(type) {
		case Field:
			ev = ev.Interface(f.Key, f.Value)
		case []Field:
			for _, inner := range f {
				ev = ev.Interface(inner.Key, inner.Value)
			}
		}
	}
	ev.Msg(msg)
}
