package logging

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

const timeFormat = "2006-01-02T15:04:05.000Z07:00"

// TextHandler writes one line per record:
//
//	2024-01-19T10:30:00.000Z INFO  [watcher] state changed from=connecting to=streaming
//
// A top-level "component" attribute is lifted into the bracketed prefix.
// Attributes bound with WithAttrs are formatted once, up front.
type TextHandler struct {
	w     io.Writer
	mu    *sync.Mutex
	level slog.Leveler

	component string
	pre       []byte // preformatted bound attributes
	prefix    string // open groups, dot-terminated
}

// NewTextHandler creates a text handler. A nil opts logs at info and above.
func NewTextHandler(w io.Writer, opts *slog.HandlerOptions) *TextHandler {
	h := &TextHandler{w: w, mu: &sync.Mutex{}, level: slog.LevelInfo}
	if opts != nil && opts.Level != nil {
		h.level = opts.Level
	}
	return h
}

func (h *TextHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *TextHandler) Handle(_ context.Context, r slog.Record) error {
	buf := make([]byte, 0, 256)
	if !r.Time.IsZero() {
		buf = r.Time.AppendFormat(buf, timeFormat)
		buf = append(buf, ' ')
	}
	buf = appendLevel(buf, r.Level)

	component := h.component
	var attrs []byte
	r.Attrs(func(a slog.Attr) bool {
		if h.prefix == "" && a.Key == "component" && a.Value.Kind() == slog.KindString {
			component = a.Value.String()
			return true
		}
		attrs = appendAttr(attrs, h.prefix, a)
		return true
	})

	if component != "" {
		buf = append(buf, '[')
		buf = append(buf, component...)
		buf = append(buf, "] "...)
	}
	buf = append(buf, r.Message...)
	buf = append(buf, h.pre...)
	buf = append(buf, attrs...)
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	h2 := h.clone()
	for _, a := range attrs {
		if h.prefix == "" && a.Key == "component" && a.Value.Kind() == slog.KindString {
			h2.component = a.Value.String()
			continue
		}
		h2.pre = appendAttr(h2.pre, h.prefix, a)
	}
	return h2
}

func (h *TextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := h.clone()
	h2.prefix = h.prefix + name + "."
	return h2
}

func (h *TextHandler) clone() *TextHandler {
	return &TextHandler{
		w:         h.w,
		mu:        h.mu,
		level:     h.level,
		component: h.component,
		pre:       append([]byte(nil), h.pre...),
		prefix:    h.prefix,
	}
}

// appendLevel pads the level name to a fixed width.
func appendLevel(buf []byte, level slog.Level) []byte {
	s := level.String()
	buf = append(buf, s...)
	for i := len(s); i < 6; i++ {
		buf = append(buf, ' ')
	}
	return buf
}

func appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		group := a.Value.Group()
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range group {
			buf = appendAttr(buf, prefix, ga)
		}
		return buf
	}
	buf = append(buf, ' ')
	buf = append(buf, prefix...)
	buf = append(buf, a.Key...)
	buf = append(buf, '=')
	return appendValue(buf, a.Value)
}

func appendValue(buf []byte, v slog.Value) []byte {
	switch v.Kind() {
	case slog.KindString:
		return appendString(buf, v.String())
	case slog.KindInt64:
		return strconv.AppendInt(buf, v.Int64(), 10)
	case slog.KindUint64:
		return strconv.AppendUint(buf, v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.AppendFloat(buf, v.Float64(), 'g', -1, 64)
	case slog.KindBool:
		return strconv.AppendBool(buf, v.Bool())
	case slog.KindDuration:
		return append(buf, v.Duration().String()...)
	case slog.KindTime:
		return v.Time().AppendFormat(buf, time.RFC3339)
	default:
		if err, ok := v.Any().(error); ok {
			return appendString(buf, err.Error())
		}
		return appendString(buf, v.String())
	}
}

func appendString(buf []byte, s string) []byte {
	if s == "" || strings.ContainsAny(s, " \t\n\r\"=\\") {
		return strconv.AppendQuote(buf, s)
	}
	return append(buf, s...)
}
