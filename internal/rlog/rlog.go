// File: internal/rlog/rlog.go
// Package rlog is the narrow structured-logging facade every other
// internal package depends on instead of importing go.uber.org/zap
// directly, mirroring the teacher's api.Control/api.Affinity style of
// small capability interfaces (spec_full.md 10.1). The runtime never
// blocks on logging and a logging failure never affects I/O: every method
// here is best-effort and returns nothing to check.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package rlog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Field is a structured log field, a thin re-export of zap.Field so
// callers never import zap themselves.
type Field = zap.Field

func String(k, v string) Field   { return zap.String(k, v) }
func Int(k string, v int) Field  { return zap.Int(k, v) }
func Int64(k string, v int64) Field { return zap.Int64(k, v) }
func Bool(k string, v bool) Field   { return zap.Bool(k, v) }
func Error(err error) Field         { return zap.Error(err) }

// Logger is the capability surface the reactor, dispatch, and pool
// packages depend on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Fatal(msg string, fields ...Field)
	// With returns a Logger that always includes the given fields,
	// used to bind fd/loop_id context once per connection or loop.
	With(fields ...Field) Logger
	// Sync flushes any buffered log entries.
	Sync() error
}

type zapLogger struct {
	l *zap.Logger
}

// Options configures the production logger. LogFilePath, when non-empty,
// adds a rotating lumberjack sink alongside stderr (spec_full.md 10.1).
type Options struct {
	Level       zapcore.Level
	LogFilePath string
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
}

// DefaultOptions matches the teacher's zap.NewProduction defaults with
// info-level severity and no file sink.
func DefaultOptions() Options {
	return Options{
		Level:      zapcore.InfoLevel,
		MaxSizeMB:  100,
		MaxBackups: 3,
		MaxAgeDays: 28,
	}
}

// New builds a production-style Logger. min_log_level (spec.md 6) sets
// Options.Level.
func New(opts Options) (Logger, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), opts.Level),
	}
	if opts.LogFilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   opts.LogFilePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotator), opts.Level))
	}

	core := zapcore.NewTee(cores...)
	l := zap.New(core, zap.AddCaller())
	return &zapLogger{l: l}, nil
}

// Nop returns a Logger that discards everything, for tests that don't
// care about log output.
func Nop() Logger { return &zapLogger{l: zap.NewNop()} }

func (z *zapLogger) Debug(msg string, fields ...Field) { z.l.Debug(msg, fields...) }
func (z *zapLogger) Info(msg string, fields ...Field)  { z.l.Info(msg, fields...) }
func (z *zapLogger) Warn(msg string, fields ...Field)  { z.l.Warn(msg, fields...) }
func (z *zapLogger) Error(msg string, fields ...Field) { z.l.Error(msg, fields...) }
func (z *zapLogger) Fatal(msg string, fields ...Field) { z.l.Fatal(msg, fields...) }
func (z *zapLogger) With(fields ...Field) Logger       { return &zapLogger{l: z.l.With(fields...)} }
func (z *zapLogger) Sync() error                       { return z.l.Sync() }
