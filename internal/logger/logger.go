// Package logger builds the process-wide slog.Logger from models.LoggingConfig.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"edgelimit/internal/models"
	"edgelimit/internal/version"
)

// Setup opens the configured output and returns a logger carrying the build
// fields on every record. The returned Closer is non-nil only for file output
// and must be closed by the caller.
func Setup(cfg models.LoggingConfig, ver version.Info) (*slog.Logger, io.Closer, error) {
	writer, closer, err := openWriter(cfg.Output, cfg.FilePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log output: %w", err)
	}

	logger, err := New(writer, cfg, ver)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, nil, err
	}
	return logger, closer, nil
}

// New returns a logger writing to w with the level and format from cfg.
func New(w io.Writer, cfg models.LoggingConfig, ver version.Info) (*slog.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler).With(ver.LogAttrs()...), nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level: %q", level)
	}
}

// openWriter resolves stdout, stderr or file output. Only files get a closer.
func openWriter(output, filePath string) (io.Writer, io.Closer, error) {
	switch strings.ToLower(output) {
	case "stderr":
		return os.Stderr, nil, nil
	case "file":
		if filePath == "" {
			return nil, nil, fmt.Errorf("file path is required when output is file")
		}
		f, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
		}
		return f, f, nil
	default:
		return os.Stdout, nil, nil
	}
}
