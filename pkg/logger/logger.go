// Package logger wraps zap with the key-value call shape the rest of
// the engine uses (logger.Info("message", "key", value, ...)), and
// picks an encoder based on environment the way the application's
// startup sequence expects.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a *zap.Logger with a sugared, key-value call surface.
type Logger struct {
	sugar *zap.SugaredLogger
	zap   *zap.Logger
}

// New builds a Logger for the given level ("debug", "info", "warn",
// "error") and environment ("production" gets JSON output and
// sampling; anything else gets a human-readable console encoder).
func New(level, environment string) *Logger {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	var cfg zap.Config
	if environment == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	z, err := cfg.Build()
	if err != nil {
		z = zap.NewExample()
	}

	return &Logger{sugar: z.Sugar(), zap: z}
}

// Zap exposes the underlying *zap.Logger for packages (tracing,
// circuit breakers) that want a structured logger directly.
func (l *Logger) Zap() *zap.Logger { return l.zap }

func (l *Logger) Debug(msg string, kv ...interface{}) { l.sugar.Debugw(msg, kv...) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.sugar.Infow(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.sugar.Warnw(msg, kv...) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.sugar.Errorw(msg, kv...) }
func (l *Logger) Fatal(msg string, kv ...interface{}) { l.sugar.Fatalw(msg, kv...) }

// With returns a child Logger carrying the given key-value pairs on
// every subsequent call.
func (l *Logger) With(kv ...interface{}) *Logger {
	s := l.sugar.With(kv...)
	return &Logger{sugar: s, zap: s.Desugar()}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.zap.Sync() }
