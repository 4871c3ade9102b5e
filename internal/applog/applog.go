// Package applog builds the run's structured logger: a slog.Handler over a
// multi-writer of the rotating log file and stderr, with per-component
// attribution via slog.Logger.With instead of a parallel logger hierarchy.
package applog

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Format is the log output format.
type Format string

const (
	FormatLogfmt Format = "logfmt"
	FormatJSON   Format = "json"
)

var (
	ErrUnknownLogLevel  = errors.New("unknown log level")
	ErrUnknownLogFormat = errors.New("unknown log format")
)

// GetLevel parses a log level string into a slog.Level.
func GetLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "error":
		return slog.LevelError, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLogLevel, level)
}

// GetFormat parses a log format string into a Format.
func GetFormat(format string) (Format, error) {
	f := Format(strings.ToLower(format))
	if slices.Contains([]Format{FormatJSON, FormatLogfmt}, f) {
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLogFormat, format)
}

// CreateHandler builds a slog.Handler writing to w at the given level and
// format.
func CreateHandler(w io.Writer, level slog.Level, format Format) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == FormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// New opens (creating directories as needed) LOG_PATH/import_<timestamp>.log,
// builds a logger that writes to both that file and stderr, and returns the
// logger along with the open file so the caller can close it on shutdown.
func New(logPath, levelStr, formatStr string) (*slog.Logger, *os.File, error) {
	level, err := GetLevel(levelStr)
	if err != nil {
		return nil, nil, err
	}
	format, err := GetFormat(formatStr)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(logPath, 0o755); err != nil {
		return nil, nil, fmt.Errorf("applog: create log directory %q: %w", logPath, err)
	}

	name := fmt.Sprintf("import_%s.log", time.Now().Format("20060102_150405"))
	f, err := os.OpenFile(filepath.Join(logPath, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("applog: open log file: %w", err)
	}

	handler := CreateHandler(io.MultiWriter(f, os.Stderr), level, format)
	return slog.New(handler), f, nil
}

// WithComponent tags a logger with the given component name, the slog
// equivalent of the original's per-subsystem child loggers
// (analysis_logger, batch_logger, memory_logger, db_logger, progress_logger).
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With("component", component)
}
