package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/syntrixbase/slotwatch/internal/config"
	"github.com/syntrixbase/slotwatch/internal/filter"
	"github.com/syntrixbase/slotwatch/internal/health"
	"github.com/syntrixbase/slotwatch/internal/metrics"
	"github.com/syntrixbase/slotwatch/internal/watcher"
)

// update is one line of output.
type update struct {
	Watcher string          `json:"watcher"`
	Slot    uint64          `json:"slot"`
	Absent  bool            `json:"absent"`
	Value   json.RawMessage `json:"value"`
}

// session holds what a single watcher run needs besides its strategy.
type session struct {
	name     string
	filter   string
	out      io.Writer
	cfg      *config.Config
	defaults watcher.Config
	logger   *slog.Logger
}

func newSession(name string, out io.Writer, defaults watcher.Config) session {
	if nameFlag != "" {
		name = nameFlag
	}
	return session{
		name:     name,
		filter:   filterExpr,
		out:      out,
		cfg:      cfg,
		defaults: defaults,
		logger:   slog.Default().With("component", "slotwatch", "watcher", name),
	}
}

// run starts the watcher, serves health and metrics when enabled, and
// blocks until ctx is done or the watcher stops itself. An unrecoverable
// watcher failure is returned.
func run[R, T any](ctx context.Context, s session, strategy watcher.Strategy[R, T]) error {
	eval, err := filter.NewEvaluator()
	if err != nil {
		return fmt.Errorf("failed to create filter: %w", err)
	}
	if s.filter != "" {
		if err := eval.Compile(s.filter); err != nil {
			return fmt.Errorf("invalid --filter: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	checker := health.NewChecker(s.logger)

	var (
		mu    sync.Mutex
		fatal error
	)
	enc := json.NewEncoder(s.out)

	opts := watcher.Options[T]{
		Config: s.cfg.Watcher.Merge(s.defaults),
		Name:   s.name,
		Logger: s.logger,
		Observer: watcher.Observers(
			metrics.NewObserver(s.name),
			checker.Observe(s.name),
		),
		OnUpdate: func(slot watcher.Slot, value *T) {
			var v any
			if value != nil {
				v = value
			}
			ok, err := eval.Match(s.filter, uint64(slot), v)
			if err != nil {
				s.logger.Warn("failed to evaluate filter, dropping update", "slot", slot, "error", err)
				return
			}
			if !ok {
				return
			}
			line := update{Watcher: s.name, Slot: uint64(slot), Absent: value == nil, Value: json.RawMessage("null")}
			if value != nil {
				raw, err := json.Marshal(value)
				if err != nil {
					s.logger.Error("failed to encode update", "slot", slot, "error", err)
					return
				}
				line.Value = raw
			}
			if err := enc.Encode(line); err != nil {
				s.logger.Error("failed to write update", "slot", slot, "error", err)
			}
		},
		OnError: func(err error) {
			if watcher.IsUnrecoverable(err) {
				mu.Lock()
				fatal = err
				mu.Unlock()
				return
			}
			s.logger.Warn("watcher error", "error", err)
		},
	}

	g, gctx := errgroup.WithContext(ctx)

	h, err := watcher.Start(gctx, strategy, opts)
	if err != nil {
		return err
	}
	s.logger.Info("watcher started", "id", h.ID())

	if s.cfg.Server.Enabled {
		g.Go(func() error {
			return health.StartServer(gctx, s.cfg.Server.Addr, checker)
		})
	}

	g.Go(func() error {
		<-h.Done()
		// Stops the health server when the watcher stopped itself.
		cancel()

		mu.Lock()
		defer mu.Unlock()
		return fatal
	})

	err = g.Wait()
	if last, ok := h.LastSlot(); ok {
		s.logger.Info("watcher stopped", "last_slot", last)
	} else {
		s.logger.Info("watcher stopped")
	}
	return err
}
