// Package logger provides the process-wide structured logger.
package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Log is the global structured logger
	Log *slog.Logger
	// logWriter is the rotating log writer, nil when logging to stdout
	logWriter *lumberjack.Logger
)

// ParseLevel maps a config string to a slog level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init configures the global logger. With an empty path it writes text to
// stdout; otherwise JSON lines go to a rotating file at path.
func Init(level string, path string) {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}

	var handler slog.Handler
	if path == "" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		_ = os.MkdirAll(filepath.Dir(path), 0755)
		logWriter = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   true,
		}
		handler = slog.NewJSONHandler(logWriter, opts)
	}

	Log = slog.New(handler)
	slog.SetDefault(Log)
}

// InitWriter points the global logger at w. Used by tests and the CLI.
func InitWriter(w io.Writer, level string) {
	Log = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// Close closes the log file
func Close() {
	if logWriter != nil {
		logWriter.Close()
	}
}

func getLogger() *slog.Logger {
	if Log != nil {
		return Log
	}
	return slog.Default()
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	getLogger().Debug(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	getLogger().Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	getLogger().Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	getLogger().Error(msg, args...)
}

// With creates a new logger with additional attributes
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}
