// Package logger provides the process-wide structured logger.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Log is the global logger instance. Nil until Init is called.
var Log *slog.Logger

// level backs the runtime-adjustable log level set through SetLevel.
// slog.LevelVar is atomic.Int64-backed, so SetLevel is safe to call while
// handlers on other goroutines are logging.
var level slog.LevelVar

// Init creates the global logger at the given level, writing text-formatted
// records to stdout without source file:line attribution.
func Init(levelStr string) {
	SetLevel(levelStr)
	Log = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:     &level,
		AddSource: false,
	}))
	slog.SetDefault(Log)
}

// SetLevel changes the active log level at runtime. Unrecognized values fall
// back to info rather than erroring, since this is most often driven by a
// user-editable config field.
func SetLevel(levelStr string) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	level.Set(lvl)
}

// CurrentLevel returns the active level as the lowercase string accepted by SetLevel.
func CurrentLevel() string {
	switch level.Level() {
	case slog.LevelDebug:
		return "debug"
	case slog.LevelWarn:
		return "warn"
	case slog.LevelError:
		return "error"
	default:
		return "info"
	}
}

// Debug logs at debug level. A no-op before Init.
func Debug(msg string, args ...any) {
	if Log != nil {
		Log.Debug(msg, args...)
	}
}

// Info logs at info level. A no-op before Init.
func Info(msg string, args ...any) {
	if Log != nil {
		Log.Info(msg, args...)
	}
}

// Warn logs at warn level. A no-op before Init.
func Warn(msg string, args ...any) {
	if Log != nil {
		Log.Warn(msg, args...)
	}
}

// Error logs at error level. A no-op before Init.
func Error(msg string, args ...any) {
	if Log != nil {
		Log.Error(msg, args...)
	}
}

// With returns a logger carrying the given attributes (e.g. a job_id, so
// every line for a job can be grepped together), built on slog.Default
// before Init. ctx is not consulted.
func With(ctx context.Context, args ...any) *slog.Logger {
	l := Log
	if l == nil {
		l = slog.Default()
	}
	if len(args) == 0 {
		return l
	}
	return l.With(args...)
}
