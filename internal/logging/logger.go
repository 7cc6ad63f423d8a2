// Package logging wires log/slog to the console and to rotating log files.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/o2r-project/o2r-finder/internal/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	mainLogName  = "finder.log"
	errorLogName = "errors.log"
)

var (
	logFiles   []*lumberjack.Logger
	logFilesMu sync.Mutex
)

// Initialize sets up the global logger based on configuration
func Initialize(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	slog.SetDefault(logger)

	slog.Info("Logging initialized",
		"level", cfg.Level,
		"format", cfg.Format,
		"dir", cfg.Dir,
		"console_enabled", cfg.Console.Enabled,
		"file_enabled", cfg.File.Enabled,
	)
	return nil
}

// NewLogger creates a logger writing to every enabled sink. The error file
// only receives warnings and errors.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var branches []branch

	if cfg.Console.Enabled {
		level := ParseLevel(cfg.Console.Level)
		branches = append(branches, branch{
			handler: newFormatHandler(os.Stdout, cfg.Console.Format, level),
			min:     level,
		})
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		level := ParseLevel(cfg.File.Level)
		mainFile := openRotating(filepath.Join(cfg.Dir, mainLogName), cfg.Rotation)
		branches = append(branches, branch{
			handler: newFormatHandler(mainFile, cfg.File.Format, level),
			min:     level,
		})

		errorFile := openRotating(filepath.Join(cfg.Dir, errorLogName), cfg.Rotation)
		branches = append(branches, branch{
			handler: newFormatHandler(errorFile, cfg.File.Format, slog.LevelWarn),
			min:     slog.LevelWarn,
		})
	}

	switch len(branches) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	case 1:
		return slog.New(branches[0].handler), nil
	default:
		return slog.New(&fanoutHandler{branches: branches}), nil
	}
}

// Shutdown closes all rotating log files.
func Shutdown() error {
	logFilesMu.Lock()
	defer logFilesMu.Unlock()

	var firstErr error
	for _, f := range logFiles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close log file %s: %w", f.Filename, err)
		}
	}
	logFiles = nil
	return firstErr
}

// ParseLevel maps a configured level name to a slog level. Unknown names fall back to info.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openRotating(path string, rot config.RotationConfig) *lumberjack.Logger {
	f := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    rot.MaxSize,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAge,
		Compress:   rot.Compress,
	}
	logFilesMu.Lock()
	logFiles = append(logFiles, f)
	logFilesMu.Unlock()
	return f
}

func newFormatHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
