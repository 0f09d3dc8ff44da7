// Package logger provides the global structured logger for sqlbridge.
// Logs are written as JSON to a rotating file so that they never interleave
// with query results on stdout.
package logger

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Log is the global structured logger
	Log *slog.Logger
	// logWriter is the rotating log writer
	logWriter *lumberjack.Logger
	// LogPath is the path to the current log file
	LogPath string
)

// LogLevel represents the logging level
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel converts a config-file level string to a LogLevel.
// Unrecognized values fall back to info.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// InitLogger initializes the global logger with the specified level and optional path.
// If logPath is empty, defaults to ~/.config/sqlbridge/sqlbridge.log
func InitLogger(level LogLevel, logPath string) {
	var slogLevel slog.Level
	switch level {
	case LevelDebug:
		slogLevel = slog.LevelDebug
	case LevelInfo:
		slogLevel = slog.LevelInfo
	case LevelWarn:
		slogLevel = slog.LevelWarn
	case LevelError:
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: slogLevel,
	}

	if logPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = os.TempDir()
		}
		logDir := filepath.Join(homeDir, ".config", "sqlbridge")
		_ = os.MkdirAll(logDir, 0755)
		logPath = filepath.Join(logDir, "sqlbridge.log")
	}

	LogPath = logPath

	// Use lumberjack for log rotation
	logWriter = &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
		Compress:   true,
	}

	Log = slog.New(slog.NewJSONHandler(logWriter, opts))
	slog.SetDefault(Log)
}

// Close closes the log file
func Close() {
	if logWriter != nil {
		logWriter.Close()
	}
}

// getLogger returns the global logger, or the default slog logger if not initialized.
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
