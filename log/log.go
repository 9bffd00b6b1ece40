// Package log provides the narrow structured-logging interface used by
// every consensus component. Production code backs it with zap; tests
// use the no-op implementation.
package log

import "go.uber.org/zap"

// Logger is the logging surface consensus components depend on. It is
// intentionally narrow: components must not reach for a concrete logging
// library directly.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)

	// With returns a logger that always includes the given fields.
	With(fields ...Field) Logger
}

// Field is a single structured logging key/value pair.
type Field = zap.Field

// Convenience constructors mirroring zap's, kept local so callers never
// import zap directly.
var (
	String = zap.String
	Int64  = zap.Int64
	Uint64 = zap.Uint64
	Bool   = zap.Bool
	Err    = zap.Error
)

// zapLogger adapts *zap.SugaredLogger-free *zap.Logger to Logger.
type zapLogger struct {
	l *zap.Logger
}

// NewZap wraps an existing *zap.Logger.
func NewZap(l *zap.Logger) Logger {
	return &zapLogger{l: l}
}

// NewProduction builds a zap production logger wrapped as Logger.
func NewProduction() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return NewZap(l), nil
}

func (z *zapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, fields...) }

func (z *zapLogger) With(fields ...Field) Logger {
	return &zapLogger{l: z.l.With(fields...)}
}

// NopLogger discards everything. Used as the default in tests and in any
// context that has not been wired to a real sink.
type NopLogger struct{}

// Nop returns a no-op Logger.
func Nop() Logger { return NopLogger{} }

func (NopLogger) Debug(string, ...Field)  {}
func (NopLogger) Info(string, ...Field)   {}
func (NopLogger) Warn(string, ...Field)   {}
func (NopLogger) Error(string, ...Field)  {}
func (n NopLogger) With(...Field) Logger  { return n }
