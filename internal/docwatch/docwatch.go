// Package docwatch watches a single MongoDB document. The cluster time of
// each change, packed as (T<<32)|I, is the slot.
package docwatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/syntrixbase/slotwatch/internal/watcher"
)

// ChangeEvent is the subset of a change stream event the watcher decodes.
type ChangeEvent struct {
	OperationType string              `bson:"operationType"`
	ClusterTime   primitive.Timestamp `bson:"clusterTime"`
	FullDocument  bson.M              `bson:"fullDocument,omitempty"`
	DocumentKey   bson.M              `bson:"documentKey"`
}

// Document is the normalized state of the watched document.
type Document struct {
	ID     any    `json:"id"`
	Fields bson.M `json:"fields"`
}

// SlotOf packs a cluster timestamp into a slot.
func SlotOf(ts primitive.Timestamp) watcher.Slot {
	return watcher.Slot(uint64(ts.T)<<32 | uint64(ts.I))
}

// Defaults returns the engine configuration used for document watchers.
func Defaults() watcher.Config {
	cfg := watcher.DefaultConfig()
	cfg.PollInterval = 5 * time.Second
	cfg.MaxRetries = 3
	return cfg
}

// NewStrategy watches the document with the given _id.
func NewStrategy(src Source, id any, logger *slog.Logger) watcher.Strategy[ChangeEvent, Document] {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "docwatch")

	return watcher.Strategy[ChangeEvent, Document]{
		Subscribe: func(ctx context.Context) (watcher.Stream[ChangeEvent], error) {
			cs, err := src.Watch(ctx, buildWatchPipeline(id))
			if err != nil {
				return nil, err
			}
			return newEventStream(ctx, cs, logger), nil
		},
		Poll: func(ctx context.Context, emit watcher.EmitFunc[Document]) error {
			fields, opTime, err := src.FindOne(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to read document: %w", err)
			}
			var doc *Document
			if fields != nil {
				doc = &Document{ID: id, Fields: fields}
			}
			if opTime == nil {
				emit(watcher.Bare(doc))
				return nil
			}
			emit(watcher.Enveloped(SlotOf(*opTime), doc))
			return nil
		},
		Normalize: normalize,
	}
}

// buildWatchPipeline matches events of a single document.
func buildWatchPipeline(id any) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"documentKey._id": id}}},
	}
}

func normalize(ev ChangeEvent) *Document {
	switch ev.OperationType {
	case "insert", "update", "replace":
	default:
		return nil
	}
	// Update lookups come back empty when the document was deleted since.
	if ev.FullDocument == nil {
		return nil
	}
	return &Document{ID: ev.DocumentKey["_id"], Fields: ev.FullDocument}
}

// eventStream adapts a change stream to watcher.Stream.
type eventStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	cs     ChangeStream
	logger *slog.Logger

	// mu serializes access to cs, which is not safe for concurrent use.
	mu        sync.Mutex
	closeOnce sync.Once
}

func newEventStream(ctx context.Context, cs ChangeStream, logger *slog.Logger) *eventStream {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &eventStream{ctx: ctx, cancel: cancel, cs: cs, logger: logger}
}

func (s *eventStream) Recv() (watcher.Item[ChangeEvent], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.cs.Next(s.ctx) {
		var ev ChangeEvent
		if err := s.cs.Decode(&ev); err != nil {
			s.logger.Error("failed to decode event", "error", err)
			continue
		}
		return watcher.Enveloped(SlotOf(ev.ClusterTime), ev), nil
	}
	if s.ctx.Err() != nil {
		return watcher.Item[ChangeEvent]{}, io.EOF
	}
	if err := s.cs.Err(); err != nil {
		return watcher.Item[ChangeEvent]{}, fmt.Errorf("change stream error: %w", err)
	}
	return watcher.Item[ChangeEvent]{}, io.EOF
}

// Close cancels a pending Next and closes the change stream.
func (s *eventStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		defer s.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.cs.Close(ctx)
	})
	return err
}
