/*
Package logging configures structured logging with file rotation.

Logs always go to stderr in text format. When a log directory is
configured they are also written as JSON to a file rotated by
lumberjack, so collection history survives container restarts.
*/
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultFilename is the log file created inside Config.LogDir.
const DefaultFilename = "usermetrics.log"

// Config holds logging configuration.
type Config struct {
	// LogDir is the directory for log files. If empty, file logging is disabled.
	LogDir string
	// Filename overrides DefaultFilename.
	Filename string
	// Verbose enables DEBUG-level logging. Default is INFO.
	Verbose bool
	// Stderr receives the text output. Nil uses os.Stderr.
	Stderr io.Writer
}

// Setup creates a logger that writes to stderr and optionally to a rotated
// log file. Returns the logger and a cleanup function to close the file.
func Setup(cfg Config) (logger *slog.Logger, cleanup func()) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}

	out := cfg.Stderr
	if out == nil {
		out = os.Stderr
	}
	textHandler := slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})

	if cfg.LogDir == "" {
		return slog.New(textHandler), func() {}
	}

	if err := os.MkdirAll(cfg.LogDir, 0o750); err != nil { //nolint:gosec // log directory
		slog.New(textHandler).Warn("failed to create log directory, file logging disabled",
			"dir", cfg.LogDir,
			"error", err,
		)
		return slog.New(textHandler), func() {}
	}

	name := cfg.Filename
	if name == "" {
		name = DefaultFilename
	}

	lj := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, name),
		MaxSize:    10, // MB per file
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}

	jsonHandler := slog.NewJSONHandler(lj, &slog.HandlerOptions{Level: level})

	return slog.New(fanout(textHandler, jsonHandler)), func() { _ = lj.Close() }
}

// multiHandler fans out log records to multiple slog.Handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func fanout(handlers ...slog.Handler) slog.Handler {
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	var first error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		// A failing file must not silence stderr.
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
