// Package logging provides structured logging for supersonic, backed by
// zap (go.uber.org/zap) the way sakateka-yanet2's control-plane packages
// log every ring/worker event. go-ublk's own internal/logging wrapped the
// stdlib log.Logger; this keeps its API shape (Default(), level methods,
// a Config, per-context With* helpers) but swaps the backing
// implementation for the ecosystem logger the rest of the retrieval
// corpus actually uses.
package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the available log levels.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zapLevel() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config holds logging configuration.
type Config struct {
	Level   LogLevel
	Format  string // "json" or "text"; default "text"
	Output  io.Writer
	Sync    bool // flush after every call; useful for tests and short-lived CLIs
	NoColor bool // has no effect: neither the "text" nor the "json" encoder emits ANSI color
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: "text",
		Output: os.Stderr,
	}
}

// Logger wraps a zap.SugaredLogger with supersonic's domain context
// helpers, kept from go-ublk's per-request logger so call sites that
// attach request context read the same way.
type Logger struct {
	sugar *zap.SugaredLogger
	sync  bool
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// NewLogger creates a new logger from config.
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	if config.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = newKVEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(output), config.Level.zapLevel())
	return &Logger{sugar: zap.New(core).Sugar(), sync: config.Sync}
}

// Default returns the default logger, creating it if necessary.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

func (l *Logger) maybeSync() {
	if l.sync {
		_ = l.sugar.Sync()
	}
}

func (l *Logger) Debug(msg string, args ...any) { l.sugar.Debugw(msg, args...); l.maybeSync() }
func (l *Logger) Info(msg string, args ...any)  { l.sugar.Infow(msg, args...); l.maybeSync() }
func (l *Logger) Warn(msg string, args ...any)  { l.sugar.Warnw(msg, args...); l.maybeSync() }
func (l *Logger) Error(msg string, args ...any) { l.sugar.Errorw(msg, args...); l.maybeSync() }

func (l *Logger) Debugf(format string, args ...any) { l.sugar.Debugf(format, args...); l.maybeSync() }
func (l *Logger) Infof(format string, args ...any)  { l.sugar.Infof(format, args...); l.maybeSync() }
func (l *Logger) Warnf(format string, args ...any)  { l.sugar.Warnf(format, args...); l.maybeSync() }
func (l *Logger) Errorf(format string, args ...any) { l.sugar.Errorf(format, args...); l.maybeSync() }

// Printf is kept for compatibility with go-ublk's Logger interface
// (callers that expect a printf-style sink).
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

func (l *Logger) with(kv ...any) *Logger {
	return &Logger{sugar: l.sugar.With(kv...), sync: l.sync}
}

// WithDevice attaches a producer source_id (spec.md §3.2) to every
// subsequent log line.
func (l *Logger) WithDevice(sourceID uint32) *Logger {
	return l.with("device_id", sourceID)
}

// WithQueue attaches a ring index to every subsequent log line.
func (l *Logger) WithQueue(queueID uint32) *Logger {
	return l.with("queue_id", queueID)
}

// WithRequest attaches a (tag, op) pair identifying the bundle or message
// currently being classified, written, or released.
func (l *Logger) WithRequest(tag uint64, op string) *Logger {
	return l.with("tag", tag, "op", op)
}

// WithError attaches an error to every subsequent log line.
func (l *Logger) WithError(err error) *Logger {
	return l.with("error", err)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error { return l.sugar.Sync() }

// Global convenience functions operating on the default logger.
func Debug(msg string, args ...any) { Default().Debug(msg, args...) }
func Info(msg string, args ...any)  { Default().Info(msg, args...) }
func Warn(msg string, args ...any)  { Default().Warn(msg, args...) }
func Error(msg string, args ...any) { Default().Error(msg, args...) }
