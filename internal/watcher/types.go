// Package watcher observes a remote change feed that offers both a push
// subscription and a pull poll, and delivers a single stream of updates that is
// deduplicated and strictly ordered by slot no matter which mode is active.
//
// Public types: Slot, Item, Stream, Strategy, Options, Handle, State
// Transport-specific adapters live in their own packages and plug in through Strategy.
package watcher

import (
	"context"
	"io"
	"sync"
)

// Slot is the monotonically increasing sequence number the remote source assigns
// to every state change. It is the only ordering key.
type Slot uint64

// Item is a value produced by a subscription stream or a poll cycle.
// It either carries the slot reported by the source (Enveloped) or no slot at
// all (Bare), in which case the engine synthesizes one.
type Item[V any] struct {
	slot    Slot
	hasSlot bool
	value   V
}

// Enveloped returns an item carrying an explicit slot.
func Enveloped[V any](slot Slot, value V) Item[V] {
	return Item[V]{slot: slot, hasSlot: true, value: value}
}

// Bare returns an item without a slot.
func Bare[V any](value V) Item[V] {
	return Item[V]{value: value}
}

// Slot returns the item's slot and whether the source reported one.
func (i Item[V]) Slot() (Slot, bool) {
	return i.slot, i.hasSlot
}

// Value returns the item's payload.
func (i Item[V]) Value() V {
	return i.value
}

// Stream is an established subscription.
type Stream[R any] interface {
	// Recv blocks until the next item arrives. It returns io.EOF when the
	// subscription ended gracefully.
	Recv() (Item[R], error)

	// Close releases the subscription. It may be called concurrently with Recv
	// and more than once.
	Close() error
}

// EmitFunc receives normalized items from a poll cycle. A nil value means the
// watched resource is absent.
type EmitFunc[T any] func(Item[*T])

// Strategy adapts a concrete data source to the engine.
type Strategy[R, T any] struct {
	// Subscribe opens the push channel. It must stop yielding items and release
	// its resources once ctx is cancelled. Required.
	Subscribe func(ctx context.Context) (Stream[R], error)

	// Poll performs one retrieval and reports what it found through emit.
	// It returns an error when the fetch failed. Optional: without it the
	// watcher has nothing to fall back to.
	Poll func(ctx context.Context, emit EmitFunc[T]) error

	// Normalize converts a raw payload. It must not panic; malformed input
	// normalizes to nil (absent). Required.
	Normalize func(raw R) *T
}

// State is a watcher lifecycle state.
type State int

const (
	// StateConnecting is the first subscribe attempt.
	StateConnecting State = iota
	// StateStreaming consumes an established subscription.
	StateStreaming
	// StateReconnecting waits between or performs subsequent subscribe attempts.
	StateReconnecting
	// StatePolling retrieves state with poll cycles.
	StatePolling
	// StateStopped is terminal.
	StateStopped
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// chanStream implements Stream on top of channels.
type chanStream[R any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	items  <-chan Item[R]
	errs   <-chan error

	closeOnce sync.Once
}

// NewChanStream returns a Stream reading from items. A closed items channel
// ends the stream gracefully; a value received on errs (which may be nil) fails
// it. Recv returns the context error once ctx is cancelled or Close is called.
func NewChanStream[R any](ctx context.Context, items <-chan Item[R], errs <-chan error) Stream[R] {
	ctx, cancel := context.WithCancel(ctx)
	return &chanStream[R]{
		ctx:    ctx,
		cancel: cancel,
		items:  items,
		errs:   errs,
	}
}

func (s *chanStream[R]) Recv() (Item[R], error) {
	var zero Item[R]
	select {
	case item, ok := <-s.items:
		if !ok {
			return zero, io.EOF
		}
		return item, nil
	case err := <-s.errs:
		if err == nil {
			return zero, io.EOF
		}
		return zero, err
	case <-s.ctx.Done():
		return zero, s.ctx.Err()
	}
}

func (s *chanStream[R]) Close() error {
	s.closeOnce.Do(s.cancel)
	return nil
}
