// Package logger is a centralized zap wrapper used across the module. It
// supports a dynamic level via zap.AtomicLevel and lets the output target be
// swapped at runtime (console, or a rotating file via lumberjack) without
// re-plumbing every call site.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	// mu guards the package-level logger state against concurrent Init/SetWriters calls.
	mu sync.Mutex
	// log is the current *zap.Logger shared by the whole process.
	log *zap.Logger
	// logLevel allows the level to change without rebuilding the core from scratch.
	logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	// encoderCfg holds the current message formatting, rebuilt on Init.
	encoderCfg = defaultEncoderConfig()
	// stdoutWriter is the destination for normal log output.
	stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	// stderrWriter is the destination for zap's own internal errors.
	stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
)

// defaultEncoderConfig builds a console encoder with colorized levels and a
// short caller. Time format is fixed (YYYY-MM-DD HH:MM:SS); switch to a JSON
// encoder if this ever needs to feed a log pipeline instead of a terminal.
func defaultEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

// rebuildLoggerLocked rebuilds the global logger from the current writer and
// level settings. Caller must hold mu. AddCallerSkip(1) hides this package's
// own wrapper functions from the reported caller. The previous logger is
// synced first to flush any buffered output.
func rebuildLoggerLocked() {
	encoder := zapcore.NewConsoleEncoder(encoderCfg)
	core := zapcore.NewCore(encoder, stdoutWriter, logLevel)
	if log != nil {
		_ = log.Sync()
	}
	log = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.ErrorOutput(stderrWriter))
}

// Init (re)initializes the global logger at the given level. Valid levels:
// debug, info (default), warn, error — compared case-insensitively.
func Init(level string) {
	mu.Lock()
	defer mu.Unlock()

	switch strings.ToLower(level) {
	case "debug":
		logLevel.SetLevel(zap.DebugLevel)
	case "warn":
		logLevel.SetLevel(zap.WarnLevel)
	case "error":
		logLevel.SetLevel(zap.ErrorLevel)
	default:
		logLevel.SetLevel(zap.InfoLevel)
	}

	encoderCfg = defaultEncoderConfig()
	rebuildLoggerLocked()
}

// SetWriters redirects the logger's output streams and rebuilds its core.
// Passing nil for either argument resets that stream to its OS default.
func SetWriters(stdout, stderr io.Writer) {
	mu.Lock()
	defer mu.Unlock()

	if stdout == nil {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(os.Stdout))
	} else {
		stdoutWriter = zapcore.Lock(zapcore.AddSync(stdout))
	}
	if stderr == nil {
		stderrWriter = zapcore.Lock(zapcore.AddSync(os.Stderr))
	} else {
		stderrWriter = zapcore.Lock(zapcore.AddSync(stderr))
	}

	rebuildLoggerLocked()
}

// RotatingFileOptions configures SetRotatingFile.
type RotatingFileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// SetRotatingFile points log output at a lumberjack-managed rotating file
// instead of stdout. Errors still go to stderr. The demo binary calls it when
// run with --log-file, for runs where a terminal may not be attached.
func SetRotatingFile(opts RotatingFileOptions) {
	w := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	SetWriters(w, os.Stderr)
}

// Logger returns the current *zap.Logger, lazily building it on first use.
// This is the raw (non-sugared) API; prefer passing structured zap.Field
// values over formatting strings.
func Logger() *zap.Logger {
	mu.Lock()
	defer mu.Unlock()

	if log == nil {
		rebuildLoggerLocked()
	}
	return log
}

// IsDebugEnabled reports whether the debug level is currently enabled.
func IsDebugEnabled() bool {
	return Logger().Level() <= zap.DebugLevel
}

// Debug writes a structured Debug-level message.
func Debug(msg string, fields ...zap.Field) { Logger().Debug(msg, fields...) }

// Info writes a structured Info-level message.
func Info(msg string, fields ...zap.Field) { Logger().Info(msg, fields...) }

// Warn writes a structured Warn-level message.
func Warn(msg string, fields ...zap.Field) { Logger().Warn(msg, fields...) }

// Error writes a structured Error-level message.
func Error(msg string, fields ...zap.Field) { Logger().Error(msg, fields...) }

// Fatal writes a structured Fatal-level message and terminates the process.
func Fatal(msg string, fields ...zap.Field) {
	Logger().Fatal(msg, fields...)
	_ = Logger().Sync() // flush buffers before os.Exit
	os.Exit(1)
}

// Debugf formats msg via fmt.Sprintf. Use sparingly on hot paths — prefer
// structured fields, which avoid the formatting allocation.
func Debugf(msg string, a ...any) { Logger().Debug(fmt.Sprintf(msg, a...)) }

// Infof formats msg via fmt.Sprintf.
func Infof(msg string, a ...any) { Logger().Info(fmt.Sprintf(msg, a...)) }

// Warnf formats msg via fmt.Sprintf.
func Warnf(msg string, a ...any) { Logger().Warn(fmt.Sprintf(msg, a...)) }

// Errorf formats msg via fmt.Sprintf.
func Errorf(msg string, a ...any) { Logger().Error(fmt.Sprintf(msg, a...)) }
