// Package logging configures structured diagnostic logging for the core.
//
// On the stdio MCP transport stdout is reserved exclusively for
// protocol frames (see internal/mcpserver), so every logger built here
// writes to stderr and/or a rotating file, never stdout.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config controls where and how verbosely diagnostics are written.
type Config struct {
	Level         string // debug, info, warn, error
	FilePath      string // empty disables file logging
	MaxSizeMB     int
	MaxFiles      int
	WriteToStderr bool
}

// DefaultConfig returns the default logging configuration rooted at
// base/.chunkhound/logs/chunkhound.log.
func DefaultConfig(base string) Config {
	return Config{
		Level:         "info",
		FilePath:      filepath.Join(base, ".chunkhound", "logs", "chunkhound.log"),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// Setup builds a slog.Logger per cfg and returns a cleanup function that
// flushes and closes the underlying file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	var writers []io.Writer
	var closer func() error

	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return nil, nil, err
		}
		w, err := newRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
		if err != nil {
			return nil, nil, err
		}
		writers = append(writers, w)
		closer = w.Close
	}
	if cfg.WriteToStderr || len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	handler := slog.NewJSONHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	})
	logger := slog.New(handler)

	cleanup := func() {
		if closer != nil {
			_ = closer()
		}
	}
	return logger, cleanup, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
