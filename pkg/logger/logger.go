// Package logger provides the application-wide structured logger.
// It wraps zap behind a small set of leveled helpers so packages can log
// without carrying a logger handle through every constructor.
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu  sync.RWMutex
	log *zap.SugaredLogger = newZapLogger(false).Sugar()
)

// Initialize configures the global logger. When debug is true the logger
// emits human-readable output at debug level; otherwise it emits JSON at
// info level. Safe to call more than once; the last call wins.
func Initialize(debug bool) {
	mu.Lock()
	defer mu.Unlock()
	log = newZapLogger(debug).Sugar()
}

func newZapLogger(debug bool) *zap.Logger {
	level := zapcore.InfoLevel
	if debug || isDebugEnv() {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if debug {
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	return zap.New(core, zap.AddCallerSkip(1))
}

func isDebugEnv() bool {
	v := strings.ToLower(os.Getenv("DATAHUB_DEBUG"))
	return v == "1" || v == "true"
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) { current().Debugf(format, args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { current().Infof(format, args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { current().Warnf(format, args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { current().Errorf(format, args...) }

// Fatalf logs a formatted message at fatal level and exits.
func Fatalf(format string, args ...any) { current().Fatalf(format, args...) }

// Debugw logs a message with structured key-value fields at debug level.
func Debugw(msg string, keysAndValues ...any) { current().Debugw(msg, keysAndValues...) }

// Infow logs a message with structured key-value fields at info level.
func Infow(msg string, keysAndValues ...any) { current().Infow(msg, keysAndValues...) }

// Errorw logs a message with structured key-value fields at error level.
func Errorw(msg string, keysAndValues ...any) { current().Errorw(msg, keysAndValues...) }
