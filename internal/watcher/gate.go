package watcher

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
)

// slotGate is the single synchronization point between the producers of a
// watcher. Acceptance and delivery happen under one lock so that concurrent
// producers cannot deliver out of order.
type slotGate[T any] struct {
	mu     sync.Mutex
	last   Slot
	seeded bool

	// published mirrors last for readers that must not take mu, such as
	// OnUpdate itself calling Handle.LastSlot.
	published      atomic.Uint64
	publishedValid atomic.Bool

	closed   *atomic.Bool
	deliver  func(Slot, *T)
	observer Observer
	logger   *slog.Logger
}

func newSlotGate[T any](closed *atomic.Bool, deliver func(Slot, *T), observer Observer, logger *slog.Logger) *slotGate[T] {
	return &slotGate[T]{
		closed:   closed,
		deliver:  deliver,
		observer: observer,
		logger:   logger,
	}
}

// offer delivers item if its slot is newer than everything accepted so far.
// Items without a slot get last+1, or 0 when nothing has been accepted yet.
func (g *slotGate[T]) offer(item Item[*T]) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed.Load() {
		return false
	}

	slot, ok := item.Slot()
	if !ok {
		if slot, ok = g.next(); !ok {
			g.logger.Warn("slot space exhausted, dropping item without slot", "last_slot", g.last)
			g.observer.UpdateDiscarded(g.last)
			return false
		}
	}
	if g.seeded && slot <= g.last {
		g.observer.UpdateDiscarded(slot)
		return false
	}

	g.last, g.seeded = slot, true
	g.published.Store(uint64(slot))
	g.publishedValid.Store(true)
	g.observer.UpdateAccepted(slot)
	g.deliver(slot, item.Value())
	return true
}

// next returns the slot for an item without one. It fails once last is the
// largest slot, since last+1 would wrap to 0.
func (g *slotGate[T]) next() (Slot, bool) {
	if !g.seeded {
		return 0, true
	}
	if g.last == math.MaxUint64 {
		return 0, false
	}
	return g.last + 1, true
}

// lastSlot returns the last accepted slot, if any.
func (g *slotGate[T]) lastSlot() (Slot, bool) {
	if !g.publishedValid.Load() {
		return 0, false
	}
	return Slot(g.published.Load()), true
}

// callbackGuard serializes OnUpdate and OnError with Handle.Stop. Every
// callback runs under mu after re-checking closed, and Stop takes mu once
// after setting closed, so no callback starts after Stop returns.
type callbackGuard struct {
	closed *atomic.Bool
	mu     sync.Mutex
	// running is set while a callback executes; Stop called from inside a
	// callback must not wait on mu.
	running atomic.Bool
}

// do runs fn unless the watcher is closed.
func (g *callbackGuard) do(fn func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed.Load() {
		return
	}
	g.running.Store(true)
	defer g.running.Store(false)
	fn()
}

// drain waits until no callback is between its closed check and its return.
// It returns immediately when called from within a callback.
func (g *callbackGuard) drain() {
	if g.running.Load() {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
}
