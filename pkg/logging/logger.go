// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package logging provides structured logging for Meridian components.
//
// The package is a thin layer over the standard library slog package.
// Services log JSON to stdout so the entries can be shipped as-is;
// when stdout is a terminal the handler switches to human-readable
// text so local runs stay legible. The CLI uses the same package with
// an explicit text configuration.
//
// # Basic Usage
//
// Services call Setup once at startup, which also installs the result
// as the slog default so package-level slog.Info etc. flow through it:
//
//	logger := logging.Setup(logging.Config{Service: "portal"})
//	logger.Info("starting", "port", port)
//
// # File Logging
//
// Setting LogDir writes a JSON copy of every entry to
// {service}_{YYYY-MM-DD}.log in that directory (created on demand,
// ~ expanded). Close the logger on shutdown to flush the file.
//
// # Log Levels
//
// The minimum level comes from Config.Level, or from the LOG_LEVEL
// environment variable ("debug", "info", "warn", "error") when the
// config leaves it empty.
//
// # Security Considerations
//
// Nothing here redacts payloads. Callers must keep tokens, secrets,
// and upstream error bodies out of log attributes; log presence flags
// ("token_present", true) instead of values.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

// Level names accepted by ParseLevel and the LOG_LEVEL variable.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Config controls logger construction. The zero value produces an
// Info-level logger writing to stdout, JSON unless stdout is a TTY.
type Config struct {
	// Service is attached to every entry as the "service" attribute.
	Service string

	// Level is the minimum level name ("debug", "info", "warn",
	// "error"). Empty falls back to LOG_LEVEL, then to "info".
	Level string

	// LogDir enables an additional JSON log file in this directory.
	// Supports ~ expansion. Empty disables file logging.
	LogDir string

	// ForceJSON emits JSON even on a TTY. Services that pipe stdout
	// through a collector in development set this.
	ForceJSON bool

	// ForceText emits text regardless of TTY detection. The CLI sets
	// this so piped output stays readable.
	ForceText bool
}

// Logger wraps slog.Logger with the optional file destination.
type Logger struct {
	*slog.Logger

	file *os.File
}

// Setup builds a Logger from cfg and installs it as the slog default.
//
// Call once at process startup. The returned logger owns the optional
// log file; call Close during shutdown when LogDir is set.
func Setup(cfg Config) *Logger {
	logger := New(cfg)
	slog.SetDefault(logger.Logger)
	return logger
}

// New builds a Logger from cfg without touching the slog default.
func New(cfg Config) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(resolveLevel(cfg.Level))}

	var primary slog.Handler
	if useJSON(cfg) {
		primary = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		primary = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := &Logger{}
	handler := primary

	if cfg.LogDir != "" {
		if file, fileHandler, err := openLogFile(cfg, opts); err == nil {
			logger.file = file
			handler = &multiHandler{handlers: []slog.Handler{primary, fileHandler}}
		} else {
			// The primary destination still works, so degrade rather
			// than fail startup.
			fmt.Fprintf(os.Stderr, "logging: file destination disabled: %v\n", err)
		}
	}

	if cfg.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", cfg.Service)})
	}

	logger.Logger = slog.New(handler)
	return logger
}

// Close syncs and closes the log file, if one was opened.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("sync log file: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close log file: %w", err)
	}
	return nil
}

// ParseLevel maps a level name to its slog.Level. Unknown names map
// to Info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	case LevelInfo:
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

func resolveLevel(configured string) string {
	if configured != "" {
		return configured
	}
	return os.Getenv("LOG_LEVEL")
}

func useJSON(cfg Config) bool {
	if cfg.ForceText {
		return false
	}
	if cfg.ForceJSON {
		return true
	}
	return !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func openLogFile(cfg Config, opts *slog.HandlerOptions) (*os.File, slog.Handler, error) {
	dir := expandPath(cfg.LogDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}

	service := cfg.Service
	if service == "" {
		service = "meridian"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))

	file, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}

	// File entries are always JSON so they stay machine-parseable.
	return file, slog.NewJSONHandler(file, opts), nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans a record out to each destination handler.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
