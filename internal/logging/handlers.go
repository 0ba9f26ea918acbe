package logging

import (
	"context"
	"errors"
	"log/slog"
)

// LevelFilter passes only records at or above a minimum level to the
// wrapped handler.
type LevelFilter struct {
	next     slog.Handler
	minLevel slog.Level
}

func NewLevelFilter(next slog.Handler, minLevel slog.Level) *LevelFilter {
	return &LevelFilter{next: next, minLevel: minLevel}
}

func (f *LevelFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= f.minLevel && f.next.Enabled(ctx, level)
}

func (f *LevelFilter) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < f.minLevel {
		return nil
	}
	return f.next.Handle(ctx, r)
}

func (f *LevelFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &LevelFilter{next: f.next.WithAttrs(attrs), minLevel: f.minLevel}
}

func (f *LevelFilter) WithGroup(name string) slog.Handler {
	return &LevelFilter{next: f.next.WithGroup(name), minLevel: f.minLevel}
}

// MultiHandler fans records out to every enabled handler. A failing handler
// does not keep the record from the others; all errors are returned joined.
type MultiHandler struct {
	handlers []slog.Handler
}

func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		// Each handler gets its own copy; handlers may add attributes.
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return m.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (m *MultiHandler) WithGroup(name string) slog.Handler {
	return m.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (m *MultiHandler) each(fn func(slog.Handler) slog.Handler) *MultiHandler {
	out := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = fn(h)
	}
	return &MultiHandler{handlers: out}
}
