// Package logging builds the daemon's *slog.Logger from config.Config:
// a stderr handler always, plus an optional file handler when
// config.LogFilePath is set. log/slog has no built-in fan-out handler,
// so multiHandler implements the small slog.Handler interface directly.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/beriberikix/usbipd-mac/config"
	"github.com/beriberikix/usbipd-mac/usbiperr"
)

// New builds the process logger per cfg: level gated by cfg.LogLevel,
// source locations included when cfg.DebugMode is set, and fanned out to
// cfg.LogFilePath in addition to stderr when non-empty.
func New(cfg config.Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level:     level(cfg.LogLevel),
		AddSource: cfg.DebugMode,
	}

	handlers := []slog.Handler{slog.NewJSONHandler(os.Stderr, opts)}

	if cfg.LogFilePath != "" {
		f, err := os.OpenFile(cfg.LogFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, usbiperr.Wrap(usbiperr.KindInitializationFailed, "failed to open log file "+cfg.LogFilePath, err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, opts))
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), nil
	}
	return slog.New(newMultiHandler(handlers...)), nil
}

func level(l config.LogLevel) slog.Level {
	switch l {
	case config.LogLevelDebug:
		return slog.LevelDebug
	case config.LogLevelWarning:
		return slog.LevelWarn
	case config.LogLevelError, config.LogLevelCritical:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// multiHandler fans every record out to each wrapped handler in order.
type multiHandler struct {
	handlers []slog.Handler
}

func newMultiHandler(handlers ...slog.Handler) *multiHandler {
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

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return newMultiHandler(next...)
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		next[i] = h.WithGroup(name)
	}
	return newMultiHandler(next...)
}
