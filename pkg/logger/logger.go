package logger

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes how the application logger should behave.
type Config struct {
	Level       string
	Format      string
	OutputPaths []string
	Report      ReportConfig
}

// ReportConfig controls the rotating file that receives one line per transfer cycle.
type ReportConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu            sync.Mutex
	defaultLogger *slog.Logger
	reportWriter  io.Writer
	closers       []io.Closer
)

// Init configures the process loggers. It may be called again to reconfigure,
// which closes files opened by the previous call.
func Init(cfg Config) error {
	mu.Lock()
	defer mu.Unlock()

	if err := closeAll(); err != nil {
		return err
	}

	handlerOpts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	handler, err := buildHandler(cfg.Format, cfg.OutputPaths, handlerOpts)
	if err != nil {
		return err
	}
	defaultLogger = slog.New(handler)

	reportWriter = nil
	if cfg.Report.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Report.Path), 0o755); err != nil {
			return fmt.Errorf("create report log directory: %w", err)
		}
		rotating := &lumberjack.Logger{
			Filename:   cfg.Report.Path,
			MaxSize:    positiveOr(cfg.Report.MaxSizeMB, 100),
			MaxBackups: positiveOr(cfg.Report.MaxBackups, 7),
			MaxAge:     positiveOr(cfg.Report.MaxAgeDays, 30),
		}
		closers = append(closers, rotating)
		reportWriter = rotating
	}
	return nil
}

func buildHandler(format string, outputs []string, opts *slog.HandlerOptions) (slog.Handler, error) {
	writers := make([]io.Writer, 0, len(outputs))
	for _, out := range outputs {
		if strings.TrimSpace(out) == "" {
			continue
		}
		writer, closer, err := openWriter(out)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			closers = append(closers, closer)
		}
		writers = append(writers, writer)
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	var writer io.Writer
	if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = io.MultiWriter(writers...)
	}

	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(writer, opts), nil
	}
	return slog.NewTextHandler(writer, opts), nil
}

func openWriter(path string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(strings.TrimSpace(path)) {
	case "stdout":
		return os.Stdout, nil, nil
	case "stderr":
		return os.Stderr, nil, nil
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %s: %w", path, err)
		}
		return file, file, nil
	}
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

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// L returns the structured logger instance.
func L() *slog.Logger {
	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return defaultLogger
}

// Named returns a child logger tagged with the component name.
func Named(name string) *slog.Logger {
	return L().With(slog.String("component", name))
}

// ReportWriter returns the rotating report file, or nil when none is configured.
func ReportWriter() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return reportWriter
}

// Sync closes every file opened by Init.
func Sync() error {
	mu.Lock()
	defer mu.Unlock()
	return closeAll()
}

func closeAll() error {
	var err error
	for _, closer := range closers {
		err = errors.Join(err, closer.Close())
	}
	closers = nil
	return err
}
