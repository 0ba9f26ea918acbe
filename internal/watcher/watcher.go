package watcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Handle controls a running watcher.
type Handle struct {
	id     string
	cancel context.CancelFunc
	closed *atomic.Bool
	done   chan struct{}
	logger *slog.Logger

	stopOnce sync.Once
	onStop   func()
	state    func() State
	last     func() (Slot, bool)
}

// ID returns the watcher instance identifier.
func (h *Handle) ID() string { return h.id }

// Stop terminates the watcher. It cancels every in-flight subscribe, stream
// read and poll, waits for a callback that already passed its closed check,
// and leaves the watcher in StateStopped. No OnUpdate or OnError call starts
// after it returns. Calls after the first are no-ops. Stop may be called from
// within OnUpdate or OnError; it then returns without waiting. Done reports
// when the background goroutines have exited.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		h.closed.Store(true)
		h.cancel()
		if h.onStop != nil {
			h.onStop()
		}
		h.logger.Debug("watcher stop requested")
	})
}

// Done is closed once the watcher has fully shut down.
func (h *Handle) Done() <-chan struct{} { return h.done }

// State returns the current lifecycle state.
func (h *Handle) State() State { return h.state() }

// LastSlot returns the slot of the last accepted update, if any.
func (h *Handle) LastSlot() (Slot, bool) { return h.last() }

// watcher owns all mutable state of one Start/Stop cycle.
type watcher[R, T any] struct {
	strategy Strategy[R, T]
	cfg      Config
	onError  func(error)
	logger   *slog.Logger
	observer Observer

	handle *Handle
	closed *atomic.Bool
	gate   *slotGate[T]
	guard  *callbackGuard

	stateMu sync.RWMutex
	state   State
}

// Start validates the strategy and options and starts watching in the
// background. It fails only for invalid input; connection and poll failures
// are reported through OnError. Cancelling ctx stops the watcher like
// Handle.Stop.
func Start[R, T any](ctx context.Context, strategy Strategy[R, T], opts Options[T]) (*Handle, error) {
	if strategy.Subscribe == nil {
		return nil, fmt.Errorf("%w: strategy Subscribe is required", ErrInvalidOptions)
	}
	if strategy.Normalize == nil {
		return nil, fmt.Errorf("%w: strategy Normalize is required", ErrInvalidOptions)
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	cfg := opts.Config
	cfg.ApplyDefaults()

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New().String()
	logger = logger.With("component", "watcher", "watcher_id", id)
	if opts.Name != "" {
		logger = logger.With("watcher", opts.Name)
	}

	observer := Observers(opts.Observer)
	closed := &atomic.Bool{}
	ctx, cancel := context.WithCancel(ctx)

	w := &watcher[R, T]{
		strategy: strategy,
		cfg:      cfg,
		onError:  opts.OnError,
		logger:   logger,
		observer: observer,
		closed:   closed,
		guard:    &callbackGuard{closed: closed},
		state:    StateConnecting,
	}
	onUpdate := opts.OnUpdate
	w.gate = newSlotGate(closed, func(slot Slot, value *T) {
		w.guard.do(func() { onUpdate(slot, value) })
	}, observer, logger)
	w.handle = &Handle{
		id:     id,
		cancel: cancel,
		closed: closed,
		done:   make(chan struct{}),
		logger: logger,
		onStop: w.stopped,
		state:  w.currentState,
		last:   w.gate.lastSlot,
	}
	context.AfterFunc(ctx, w.handle.Stop)

	logger.Info("watcher starting",
		"connect_timeout", cfg.ConnectTimeout,
		"poll_interval", cfg.PollInterval,
		"max_retries", cfg.MaxRetries,
		"policy", cfg.Policy,
		"has_poll", strategy.Poll != nil,
	)

	go w.run(ctx)
	return w.handle, nil
}

func (w *watcher[R, T]) currentState() State {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

// setState records a transition. StateStopped is terminal.
func (w *watcher[R, T]) setState(state State) {
	w.stateMu.Lock()
	old := w.state
	if old == StateStopped {
		w.stateMu.Unlock()
		return
	}
	w.state = state
	w.stateMu.Unlock()

	if old != state {
		w.logger.Info("watcher state changed", "from", old.String(), "to", state.String())
		w.observer.StateChanged(old, state)
	}
}

// stopped runs once from Handle.Stop after the closed flag is set.
func (w *watcher[R, T]) stopped() {
	w.guard.drain()
	w.setState(StateStopped)
}

func (w *watcher[R, T]) hasPoll() bool {
	return w.strategy.Poll != nil
}

// run drives the state machine until the watcher is stopped.
func (w *watcher[R, T]) run(ctx context.Context) {
	defer close(w.handle.done)
	defer w.setState(StateStopped)
	defer w.handle.Stop()

	var c *conn[R]
	first := true
	for ctx.Err() == nil {
		if c == nil {
			var err error
			c, err = w.connect(ctx, first)
			first = false
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !w.hasPoll() {
					w.fail()
					return
				}
				c = w.pollLoop(ctx)
				continue
			}
		}

		err := w.consume(ctx, c)
		c = nil
		if ctx.Err() != nil || w.closed.Load() {
			return
		}
		if err != nil {
			w.report(&Error{Kind: KindStream, Err: err})
		} else {
			w.logger.Info("subscription ended")
		}

		if w.cfg.Policy == PolicyResubscribe {
			continue
		}
		if !w.hasPoll() {
			w.fail()
			return
		}
		c = w.pollLoop(ctx)
	}
}

// fail reports the unrecoverable condition and stops the watcher.
func (w *watcher[R, T]) fail() {
	w.report(&Error{Kind: KindUnrecoverable, Err: ErrNoPollStrategy})
	w.logger.Error("watcher stopped", "error", ErrNoPollStrategy)
	w.handle.Stop()
}

// report funnels a failure to OnError. OnError panics are contained.
func (w *watcher[R, T]) report(err *Error) {
	if w.closed.Load() {
		return
	}
	w.observer.Failure(err.Kind)
	w.logger.Warn("watcher failure", "kind", err.Kind.String(), "attempt", err.Attempt, "error", err.Err)

	if w.onError == nil {
		return
	}
	w.guard.do(func() {
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error("error callback panicked", "panic", r)
			}
		}()
		w.onError(err)
	})
}

// conn is an established subscription and the cancel func of its context.
type conn[R any] struct {
	stream Stream[R]
	cancel context.CancelFunc
}

func (c *conn[R]) close() {
	c.cancel()
	_ = c.stream.Close()
}

// connect makes up to 1+MaxRetries subscribe attempts, sleeping RetryDelay in
// between. Every failed attempt is reported before the next step.
func (w *watcher[R, T]) connect(ctx context.Context, first bool) (*conn[R], error) {
	for attempt := 1; ; attempt++ {
		if first && attempt == 1 {
			w.setState(StateConnecting)
		} else {
			w.setState(StateReconnecting)
		}

		c, err := w.attempt(ctx)
		if err == nil {
			return c, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		w.report(&Error{Kind: KindConnect, Attempt: attempt, Err: err})

		if attempt > w.cfg.MaxRetries {
			w.logger.Warn("connect attempts exhausted", "attempts", attempt)
			return nil, err
		}

		timer := time.NewTimer(w.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

type subscribeResult[R any] struct {
	stream Stream[R]
	err    error
}

// attempt races one Subscribe call against ConnectTimeout. The loser is
// discarded: a stream that arrives after the timeout is closed unused.
func (w *watcher[R, T]) attempt(ctx context.Context) (*conn[R], error) {
	connCtx, cancel := context.WithCancel(ctx)
	results := make(chan subscribeResult[R], 1)

	go func() {
		stream, err := w.strategy.Subscribe(connCtx)
		results <- subscribeResult[R]{stream: stream, err: err}
	}()

	timer := time.NewTimer(w.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case r := <-results:
		if r.err != nil {
			cancel()
			return nil, r.err
		}
		if r.stream == nil {
			cancel()
			return nil, ErrNilStream
		}
		return &conn[R]{stream: r.stream, cancel: cancel}, nil
	case <-timer.C:
		cancel()
		go discard(results)
		return nil, ErrConnectTimeout
	case <-ctx.Done():
		cancel()
		go discard(results)
		return nil, ctx.Err()
	}
}

func discard[R any](results <-chan subscribeResult[R]) {
	if r := <-results; r.stream != nil {
		_ = r.stream.Close()
	}
}

// consume seeds the current state with one poll, then delivers stream items
// until the stream ends. A heartbeat task polls alongside when configured and
// is joined before consume returns. A nil error means the stream ended
// gracefully or the watcher was stopped.
func (w *watcher[R, T]) consume(ctx context.Context, c *conn[R]) error {
	defer c.close()
	w.setState(StateStreaming)

	if w.hasPoll() {
		w.pollOnce(ctx)
	}
	if ctx.Err() != nil {
		return nil
	}

	// Unblock Recv on stop even if the strategy ignores its context.
	stopClose := context.AfterFunc(ctx, func() { _ = c.stream.Close() })
	defer stopClose()

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var g errgroup.Group
	if w.hasPoll() && w.cfg.HeartbeatInterval > 0 {
		g.Go(func() error {
			w.every(hbCtx, w.cfg.HeartbeatInterval, w.pollOnce)
			return nil
		})
	}
	defer func() {
		stopHeartbeat()
		_ = g.Wait()
	}()

	for {
		item, err := c.stream.Recv()
		if w.closed.Load() || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		slot, ok := item.Slot()
		normalized := w.strategy.Normalize(item.Value())
		if ok {
			w.gate.offer(Enveloped(slot, normalized))
		} else {
			w.gate.offer(Bare(normalized))
		}
	}
}

// every runs fn on each tick of interval until ctx is done.
func (w *watcher[R, T]) every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// pollOnce runs one poll cycle. Failures are reported and never stop polling.
func (w *watcher[R, T]) pollOnce(ctx context.Context) {
	if w.closed.Load() || ctx.Err() != nil {
		return
	}

	pollCtx := ctx
	if w.cfg.PollTimeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, w.cfg.PollTimeout)
		defer cancel()
	}

	err := w.strategy.Poll(pollCtx, func(item Item[*T]) { w.gate.offer(item) })
	if err != nil && ctx.Err() == nil {
		w.report(&Error{Kind: KindPoll, Err: err})
	}
}

// pollLoop polls immediately and then every PollInterval. Under
// PolicyResubscribe it also retries the subscription every
// ResubscribeInterval and returns the new connection once one succeeds.
// It returns nil when the watcher stops.
func (w *watcher[R, T]) pollLoop(ctx context.Context) *conn[R] {
	w.setState(StatePolling)
	w.pollOnce(ctx)

	var tick <-chan time.Time
	if w.cfg.PollInterval > 0 {
		ticker := time.NewTicker(w.cfg.PollInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	var resubscribe <-chan time.Time
	if w.cfg.Policy == PolicyResubscribe && w.cfg.ResubscribeInterval > 0 {
		ticker := time.NewTicker(w.cfg.ResubscribeInterval)
		defer ticker.Stop()
		resubscribe = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			w.pollOnce(ctx)
		case <-resubscribe:
			c, err := w.attempt(ctx)
			if err == nil {
				w.logger.Info("subscription restored while polling")
				return c
			}
			if ctx.Err() != nil {
				return nil
			}
			w.report(&Error{Kind: KindConnect, Err: err})
		}
	}
}
