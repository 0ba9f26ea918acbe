package logging

import (
	"context"
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DedupHandler suppresses repeats of a record within a window. The first
// occurrence passes through immediately; if it repeated, one summary copy
// carrying repeated_count follows when the window closes. Two records are
// the same when level, message, attributes and bound attributes match;
// time is ignored.
type DedupHandler struct {
	next  slog.Handler
	scope uint64 // digest of bound attributes and groups
	state *dedupState
}

type dedupState struct {
	mu      sync.Mutex
	window  time.Duration
	now     func() time.Time
	entries map[uint64]*dedupEntry

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

type dedupEntry struct {
	first      time.Time
	suppressed int
	record     slog.Record
	handler    slog.Handler
}

// DefaultDedupWindow is used when NewDedupHandler gets a non-positive window.
const DefaultDedupWindow = 10 * time.Second

// NewDedupHandler wraps next. The sweep loop runs until Close.
func NewDedupHandler(next slog.Handler, window time.Duration) *DedupHandler {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	h := newDedupHandler(next, window, time.Now)
	go h.state.sweepLoop()
	return h
}

func newDedupHandler(next slog.Handler, window time.Duration, now func() time.Time) *DedupHandler {
	return &DedupHandler{
		next: next,
		state: &dedupState{
			window:  window,
			now:     now,
			entries: make(map[uint64]*dedupEntry),
			stop:    make(chan struct{}),
			done:    make(chan struct{}),
		},
	}
}

func (h *DedupHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *DedupHandler) Handle(ctx context.Context, r slog.Record) error {
	key := h.hash(r)
	s := h.state
	now := s.now()

	s.mu.Lock()
	e, ok := s.entries[key]
	if ok && now.Sub(e.first) < s.window {
		e.suppressed++
		s.mu.Unlock()
		return nil
	}
	var summary *dedupEntry
	if ok && e.suppressed > 0 {
		summary = e
	}
	s.entries[key] = &dedupEntry{first: now, record: r.Clone(), handler: h.next}
	s.mu.Unlock()

	if summary != nil {
		summary.emit(ctx, now)
	}
	return h.next.Handle(ctx, r)
}

func (h *DedupHandler) hash(r slog.Record) uint64 {
	d := seeded(h.scope)
	_, _ = d.WriteString(r.Level.String())
	_, _ = d.WriteString("\x00")
	_, _ = d.WriteString(r.Message)
	r.Attrs(func(a slog.Attr) bool {
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(a.Key)
		_, _ = d.WriteString("=")
		_, _ = d.WriteString(a.Value.Resolve().String())
		return true
	})
	return d.Sum64()
}

func (h *DedupHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	d := seeded(h.scope)
	for _, a := range attrs {
		_, _ = d.WriteString("\x00" + a.Key + "=" + a.Value.Resolve().String())
	}
	return &DedupHandler{next: h.next.WithAttrs(attrs), scope: d.Sum64(), state: h.state}
}

func (h *DedupHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	d := seeded(h.scope)
	_, _ = d.WriteString("\x01" + name)
	return &DedupHandler{next: h.next.WithGroup(name), scope: d.Sum64(), state: h.state}
}

func seeded(scope uint64) *xxhash.Digest {
	d := xxhash.New()
	_, _ = d.Write(binary.LittleEndian.AppendUint64(nil, scope))
	return d
}

// Close stops the sweep loop and emits every pending summary.
func (h *DedupHandler) Close() error {
	s := h.state
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.done
	})
	return nil
}

func (s *dedupState) sweepLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(false)
		case <-s.stop:
			s.sweep(true)
			return
		}
	}
}

// sweep drops closed windows, emitting summaries for those that repeated.
// With all set every window is treated as closed.
func (s *dedupState) sweep(all bool) {
	now := s.now()

	s.mu.Lock()
	var summaries []*dedupEntry
	for key, e := range s.entries {
		if !all && now.Sub(e.first) < s.window {
			continue
		}
		if e.suppressed > 0 {
			summaries = append(summaries, e)
		}
		delete(s.entries, key)
	}
	s.mu.Unlock()

	// Handlers are called outside the lock; they may log.
	for _, e := range summaries {
		e.emit(context.Background(), now)
	}
}

func (e *dedupEntry) emit(ctx context.Context, now time.Time) {
	r := e.record.Clone()
	r.Time = now
	r.AddAttrs(slog.Int("repeated_count", e.suppressed))
	_ = e.handler.Handle(ctx, r)
}
