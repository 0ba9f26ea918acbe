// Package logging builds the process logger from LoggingConfig.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/syntrixbase/slotwatch/internal/config"
)

const (
	mainLogFile  = "slotwatch.log"
	errorLogFile = "errors.log"
)

var (
	// Everything Shutdown must close, in creation order
	closers   []io.Closer
	closersMu sync.Mutex
)

// Initialize sets up the global logger based on configuration
func Initialize(cfg config.LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	slog.SetDefault(logger)
	slog.Debug("logging initialized",
		"level", cfg.Level,
		"format", cfg.Format,
		"dir", cfg.Dir,
		"console_enabled", cfg.Console.Enabled,
		"file_enabled", cfg.File.Enabled,
		"dedup_enabled", cfg.Dedup.Enabled,
	)
	return nil
}

// NewLogger creates a logger writing the console output to stderr.
func NewLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg config.LoggingConfig, console io.Writer) (*slog.Logger, error) {
	var handlers []slog.Handler

	if cfg.Console.Enabled {
		handlers = append(handlers, createHandler(console, cfg.Console.Format, parseLevel(cfg.Console.Level)))
	}

	if cfg.File.Enabled {
		if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		mainFile := rotatingFile(cfg, mainLogFile)
		errorFile := rotatingFile(cfg, errorLogFile)

		var files slog.Handler = NewMultiHandler(
			createHandler(mainFile, cfg.File.Format, parseLevel(cfg.File.Level)),
			NewLevelFilter(createHandler(errorFile, cfg.File.Format, slog.LevelWarn), slog.LevelWarn),
		)
		if cfg.Dedup.Enabled {
			dedup := NewDedupHandler(files, cfg.Dedup.Window)
			register(dedup)
			files = dedup
		}
		handlers = append(handlers, files)
	}

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil)), nil
	case 1:
		return slog.New(handlers[0]), nil
	}
	return slog.New(NewMultiHandler(handlers...)), nil
}

// Shutdown flushes and closes every log output, newest first, so dedup
// summaries still reach the files.
func Shutdown() error {
	closersMu.Lock()
	defer closersMu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close log output: %w", err))
		}
	}
	closers = nil
	return errors.Join(errs...)
}

func rotatingFile(cfg config.LoggingConfig, name string) *AsyncWriter {
	w := NewAsyncWriter(&lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, name),
		MaxSize:    cfg.Rotation.MaxSize,
		MaxBackups: cfg.Rotation.MaxBackups,
		MaxAge:     cfg.Rotation.MaxAge,
		Compress:   cfg.Rotation.Compress,
	})
	register(w)
	return w
}

func register(c io.Closer) {
	closersMu.Lock()
	defer closersMu.Unlock()
	closers = append(closers, c)
}

func parseLevel(level string) slog.Level {
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

func createHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return NewTextHandler(w, opts)
}
