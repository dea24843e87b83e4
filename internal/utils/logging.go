package utils

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin key/value facade over zap used across the service.
type Logger struct {
	s *zap.SugaredLogger
}

// NewLogger builds a production zap logger at the given level ("debug",
// "info", "warn", "error"); unknown levels fall back to info.
func NewLogger(level ...string) *Logger {
	cfg := zap.NewProductionConfig()
	if len(level) > 0 {
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(level[0]))
	}
	l, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	return &Logger{s: l.Sugar()}
}

func NewNopLogger() *Logger { return &Logger{s: zap.NewNop().Sugar()} }

// FromZap wraps an existing zap logger (tests use zaptest/observer cores).
func FromZap(l *zap.Logger) *Logger { return &Logger{s: l.Sugar()} }

func (lg *Logger) Debug(msg string, kv ...any) { lg.s.Debugw(msg, kv...) }
func (lg *Logger) Info(msg string, kv ...any)  { lg.s.Infow(msg, kv...) }
func (lg *Logger) Warn(msg string, kv ...any)  { lg.s.Warnw(msg, kv...) }
func (lg *Logger) Error(msg string, kv ...any) { lg.s.Errorw(msg, kv...) }

func (lg *Logger) With(kv ...any) *Logger { return &Logger{s: lg.s.With(kv...)} }

func (lg *Logger) Zap() *zap.Logger { return lg.s.Desugar() }

func (lg *Logger) Sync() error { return lg.s.Sync() }

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
