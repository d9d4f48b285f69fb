// Package logger provides the process-global logging sink.
//
// The API follows the key-value convention: every logging function takes a
// message followed by alternating keys and values. The sink is a zap
// console core; colorized level output can be switched off at runtime once
// the configuration has been read.
package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu            sync.RWMutex
	defaultLogger *zap.SugaredLogger
	once          sync.Once
)

// Init initializes the global logger with colorized output enabled.
// DEBUG=true in the environment lowers the level to debug and adds caller
// information.
func Init() {
	once.Do(func() {
		mu.Lock()
		defaultLogger = build(true)
		mu.Unlock()
	})
}

// Reconfigure rebuilds the sink, toggling colorized level output.
func Reconfigure(color bool) {
	Init()
	mu.Lock()
	defaultLogger = build(color)
	mu.Unlock()
}

func build(color bool) *zap.SugaredLogger {
	level := zapcore.InfoLevel
	debug := os.Getenv("DEBUG") == "true"
	if debug {
		level = zapcore.DebugLevel
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	if color {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		zap.NewAtomicLevelAt(level),
	)

	opts := []zap.Option{zap.AddStacktrace(zapcore.FatalLevel)}
	if debug {
		// Add source information if in debug mode
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	return zap.New(core, opts...).Sugar()
}

func get() *zap.SugaredLogger {
	mu.RLock()
	lg := defaultLogger
	mu.RUnlock()
	if lg == nil {
		Init()
		mu.RLock()
		lg = defaultLogger
		mu.RUnlock()
	}
	return lg
}

// Debug logs at Debug level.
func Debug(msg string, args ...any) {
	get().Debugw(msg, args...)
}

// Info logs at Info level.
func Info(msg string, args ...any) {
	get().Infow(msg, args...)
}

// Warn logs at Warn level.
func Warn(msg string, args ...any) {
	get().Warnw(msg, args...)
}

// Error logs at Error level.
func Error(msg string, args ...any) {
	get().Errorw(msg, args...)
}

// Fatal logs at Fatal level and then exits.
func Fatal(msg string, args ...any) {
	get().Fatalw(msg, args...)
}

// With returns a new logger with the given attributes.
func With(args ...any) *zap.SugaredLogger {
	return get().With(args...)
}
