// Package kvwatch watches a single key of a NATS JetStream key-value bucket.
// The entry revision is the slot.
package kvwatch

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/syntrixbase/slotwatch/internal/watcher"
)

// Store is the part of jetstream.KeyValue the watcher needs.
type Store interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Watch(ctx context.Context, keys string, opts ...jetstream.WatchOpt) (jetstream.KeyWatcher, error)
	History(ctx context.Context, key string, opts ...jetstream.WatchOpt) ([]jetstream.KeyValueEntry, error)
}

var _ Store = (jetstream.KeyValue)(nil)

// Entry is the normalized value of a key.
type Entry struct {
	Bucket   string    `json:"bucket"`
	Key      string    `json:"key"`
	Value    []byte    `json:"value"`
	Revision uint64    `json:"revision"`
	Created  time.Time `json:"created"`
}

// Defaults returns the engine configuration used for key watchers.
func Defaults() watcher.Config {
	cfg := watcher.DefaultConfig()
	cfg.PollInterval = 5 * time.Second
	cfg.MaxRetries = 3
	return cfg
}

// NewStrategy watches key through Watch with UpdatesOnly and polls it with
// Get. A key that never existed makes the poll emit nothing. A deleted or
// purged key is reported as absent at the revision of its delete marker.
func NewStrategy(store Store, key string) watcher.Strategy[jetstream.KeyValueEntry, Entry] {
	return watcher.Strategy[jetstream.KeyValueEntry, Entry]{
		Subscribe: func(ctx context.Context) (watcher.Stream[jetstream.KeyValueEntry], error) {
			w, err := store.Watch(ctx, key, jetstream.UpdatesOnly())
			if err != nil {
				return nil, err
			}
			return &entryStream{w: w, done: make(chan struct{})}, nil
		},
		Poll: func(ctx context.Context, emit watcher.EmitFunc[Entry]) error {
			entry, err := store.Get(ctx, key)
			if errors.Is(err, jetstream.ErrKeyNotFound) {
				return pollDeleted(ctx, store, key, emit)
			}
			if err != nil {
				return err
			}
			emit(watcher.Enveloped(watcher.Slot(entry.Revision()), normalize(entry)))
			return nil
		},
		Normalize: normalize,
	}
}

// pollDeleted emits an absent update when the newest history entry of key
// is a delete or purge marker. Get hides those markers behind ErrKeyNotFound.
func pollDeleted(ctx context.Context, store Store, key string, emit watcher.EmitFunc[Entry]) error {
	history, err := store.History(ctx, key, jetstream.MetaOnly())
	if errors.Is(err, jetstream.ErrKeyNotFound) || (err == nil && len(history) == 0) {
		return nil
	}
	if err != nil {
		return err
	}
	last := history[len(history)-1]
	switch last.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		emit(watcher.Enveloped[*Entry](watcher.Slot(last.Revision()), nil))
	}
	return nil
}

func normalize(entry jetstream.KeyValueEntry) *Entry {
	if entry == nil {
		return nil
	}
	switch entry.Operation() {
	case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
		return nil
	}
	return &Entry{
		Bucket:   entry.Bucket(),
		Key:      entry.Key(),
		Value:    entry.Value(),
		Revision: entry.Revision(),
		Created:  entry.Created(),
	}
}

// entryStream adapts a KeyWatcher to watcher.Stream.
type entryStream struct {
	w    jetstream.KeyWatcher
	done chan struct{}
	once sync.Once
}

func (s *entryStream) Recv() (watcher.Item[jetstream.KeyValueEntry], error) {
	for {
		select {
		case entry, ok := <-s.w.Updates():
			if !ok {
				return watcher.Item[jetstream.KeyValueEntry]{}, io.EOF
			}
			// nil marks the end of the initial values.
			if entry == nil {
				continue
			}
			return watcher.Enveloped(watcher.Slot(entry.Revision()), entry), nil
		case <-s.done:
			return watcher.Item[jetstream.KeyValueEntry]{}, io.EOF
		}
	}
}

func (s *entryStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.w.Stop()
	})
	return err
}
