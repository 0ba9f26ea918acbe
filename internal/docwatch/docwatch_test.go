package docwatch

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/syntrixbase/slotwatch/internal/watcher"
)

// fakeChangeStream replays events pushed on a channel.
type fakeChangeStream struct {
	events  chan any
	current bson.Raw
	err     error

	mu     sync.Mutex
	closed bool
}

func newFakeChangeStream() *fakeChangeStream {
	return &fakeChangeStream{events: make(chan any, 16)}
}

func (f *fakeChangeStream) Next(ctx context.Context) bool {
	select {
	case ev, ok := <-f.events:
		if !ok {
			return false
		}
		if err, isErr := ev.(error); isErr {
			f.err = err
			return false
		}
		raw, err := bson.Marshal(ev)
		if err != nil {
			f.err = err
			return false
		}
		f.current = raw
		return true
	case <-ctx.Done():
		return false
	}
}

func (f *fakeChangeStream) Decode(v interface{}) error { return bson.Unmarshal(f.current, v) }
func (f *fakeChangeStream) Err() error                 { return f.err }

func (f *fakeChangeStream) Close(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeChangeStream) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeSource serves one document and one change stream.
type fakeSource struct {
	mu       sync.Mutex
	stream   *fakeChangeStream
	watchErr error
	pipeline mongo.Pipeline
	doc      bson.M
	opTime   *primitive.Timestamp
	findErr  error
	finds    int
}

func (f *fakeSource) Watch(_ context.Context, pipeline mongo.Pipeline) (ChangeStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pipeline = pipeline
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	return f.stream, nil
}

func (f *fakeSource) FindOne(_ context.Context, _ any) (bson.M, *primitive.Timestamp, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	return f.doc, f.opTime, f.findErr
}

func (f *fakeSource) findCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finds
}

type docRecorder struct {
	mu    sync.Mutex
	slots []watcher.Slot
	docs  []*Document
	errs  []error
}

func (r *docRecorder) options(cfg watcher.Config) watcher.Options[Document] {
	return watcher.Options[Document]{
		Config: cfg,
		OnUpdate: func(slot watcher.Slot, d *Document) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.slots = append(r.slots, slot)
			r.docs = append(r.docs, d)
		},
		OnError: func(err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.errs = append(r.errs, err)
		},
	}
}

func (r *docRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

func event(op string, t, i uint32, doc bson.M) bson.M {
	ev := bson.M{
		"operationType": op,
		"clusterTime":    primitive.Timestamp{T: t, I: i},
		"documentKey":    bson.M{"_id": "doc-1"},
	}
	if doc != nil {
		ev["fullDocument"] = doc
	}
	return ev
}

func TestSlotOf(t *testing.T) {
	assert.Equal(t, watcher.Slot(0), SlotOf(primitive.Timestamp{}))
	assert.Equal(t, watcher.Slot(1<<32|7), SlotOf(primitive.Timestamp{T: 1, I: 7}))
	assert.Less(t, SlotOf(primitive.Timestamp{T: 100, I: 9}), SlotOf(primitive.Timestamp{T: 101, I: 0}))
	assert.Less(t, SlotOf(primitive.Timestamp{T: 100, I: 1}), SlotOf(primitive.Timestamp{T: 100, I: 2}))
}

func TestNormalize(t *testing.T) {
	doc := bson.M{"_id": "doc-1", "n": int32(1)}

	for _, op := range []string{"insert", "update", "replace"} {
		got := normalize(ChangeEvent{OperationType: op, FullDocument: doc, DocumentKey: bson.M{"_id": "doc-1"}})
		require.NotNil(t, got, op)
		assert.Equal(t, "doc-1", got.ID)
		assert.Equal(t, doc, got.Fields)
	}

	assert.Nil(t, normalize(ChangeEvent{OperationType: "delete", DocumentKey: bson.M{"_id": "doc-1"}}))
	assert.Nil(t, normalize(ChangeEvent{OperationType: "update"}), "update lookup of a deleted document")
	assert.Nil(t, normalize(ChangeEvent{OperationType: "invalidate"}))
}

func TestBuildWatchPipeline(t *testing.T) {
	p := buildWatchPipeline("doc-1")
	require.Len(t, p, 1)
	assert.Equal(t, "$match", p[0][0].Key)
	assert.Equal(t, bson.M{"documentKey._id": "doc-1"}, p[0][0].Value)
}

func TestStrategy_PollUsesOperationTime(t *testing.T) {
	src := &fakeSource{doc: bson.M{"n": int32(5)}, opTime: &primitive.Timestamp{T: 10, I: 2}}
	s := NewStrategy(src, "doc-1", nil)

	var got []watcher.Item[*Document]
	require.NoError(t, s.Poll(context.Background(), func(item watcher.Item[*Document]) { got = append(got, item) }))

	require.Len(t, got, 1)
	slot, ok := got[0].Slot()
	assert.True(t, ok)
	assert.Equal(t, SlotOf(primitive.Timestamp{T: 10, I: 2}), slot)
	assert.Equal(t, "doc-1", got[0].Value().ID)
}

func TestStrategy_PollWithoutOperationTimeIsBare(t *testing.T) {
	src := &fakeSource{}
	s := NewStrategy(src, "doc-1", nil)

	var got []watcher.Item[*Document]
	require.NoError(t, s.Poll(context.Background(), func(item watcher.Item[*Document]) { got = append(got, item) }))

	require.Len(t, got, 1)
	_, ok := got[0].Slot()
	assert.False(t, ok)
	assert.Nil(t, got[0].Value(), "a missing document is absent")
}

func TestStrategy_PollError(t *testing.T) {
	src := &fakeSource{findErr: errors.New("server selection timeout")}
	s := NewStrategy(src, "doc-1", nil)

	err := s.Poll(context.Background(), func(watcher.Item[*Document]) {})
	assert.EqualError(t, err, "failed to read document: server selection timeout")
}

func TestEventStream(t *testing.T) {
	cs := newFakeChangeStream()
	s := newEventStream(context.Background(), cs, nil)

	cs.events <- event("insert", 5, 1, bson.M{"_id": "doc-1"})
	item, err := s.Recv()
	require.NoError(t, err)
	slot, _ := item.Slot()
	assert.Equal(t, SlotOf(primitive.Timestamp{T: 5, I: 1}), slot)
	assert.Equal(t, "insert", item.Value().OperationType)

	cs.events <- errors.New("cursor killed")
	_, err = s.Recv()
	assert.EqualError(t, err, "change stream error: cursor killed")
}

func TestEventStream_CloseUnblocksRecv(t *testing.T) {
	cs := newFakeChangeStream()
	s := newEventStream(context.Background(), cs, nil)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = s.Close()
	}()

	_, err := s.Recv()
	assert.ErrorIs(t, err, io.EOF)
	assert.Eventually(t, cs.isClosed, time.Second, 5*time.Millisecond)
	assert.NoError(t, s.Close())
}

func TestEventStream_EndOfStream(t *testing.T) {
	cs := newFakeChangeStream()
	close(cs.events)
	s := newEventStream(context.Background(), cs, nil)

	_, err := s.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWatcher_SeedThenChanges(t *testing.T) {
	cs := newFakeChangeStream()
	src := &fakeSource{
		stream: cs,
		doc:    bson.M{"n": int32(1)},
		opTime: &primitive.Timestamp{T: 100, I: 1},
	}

	r := &docRecorder{}
	h, err := watcher.Start(context.Background(), NewStrategy(src, "doc-1", nil), r.options(watcher.Config{}))
	require.NoError(t, err)
	defer h.Stop()

	require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, 5*time.Millisecond)

	cs.events <- event("update", 99, 9, bson.M{"n": int32(0)})
	cs.events <- event("update", 100, 2, bson.M{"n": int32(2)})
	cs.events <- event("delete", 101, 0, nil)

	require.Eventually(t, func() bool { return r.count() == 3 }, time.Second, 5*time.Millisecond)

	r.mu.Lock()
	assert.Equal(t, []watcher.Slot{
		SlotOf(primitive.Timestamp{T: 100, I: 1}),
		SlotOf(primitive.Timestamp{T: 100, I: 2}),
		SlotOf(primitive.Timestamp{T: 101, I: 0}),
	}, r.slots)
	assert.Equal(t, int32(2), r.docs[1].Fields["n"])
	assert.Nil(t, r.docs[2])
	assert.Empty(t, r.errs)
	r.mu.Unlock()

	src.mu.Lock()
	assert.Equal(t, buildWatchPipeline("doc-1"), src.pipeline)
	src.mu.Unlock()

	h.Stop()
	<-h.Done()
	assert.True(t, cs.isClosed())
}

func TestWatcher_StreamErrorFallsBackToPolling(t *testing.T) {
	cs := newFakeChangeStream()
	src := &fakeSource{stream: cs, doc: bson.M{"n": int32(1)}}

	r := &docRecorder{}
	h, err := watcher.Start(context.Background(), NewStrategy(src, "doc-1", nil), r.options(watcher.Config{
		PollInterval: 10 * time.Millisecond,
	}))
	require.NoError(t, err)
	defer h.Stop()

	require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, 5*time.Millisecond)
	cs.events <- errors.New("not primary")

	require.Eventually(t, func() bool { return h.State() == watcher.StatePolling }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return src.findCount() >= 3 }, time.Second, 5*time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.errs)
	var werr *watcher.Error
	require.ErrorAs(t, r.errs[0], &werr)
	assert.Equal(t, watcher.KindStream, werr.Kind)

	// Without an operation time every poll synthesizes the next slot.
	assert.GreaterOrEqual(t, len(r.slots), 3)
	for i, slot := range r.slots {
		assert.Equal(t, watcher.Slot(i), slot)
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, "mongodb://localhost:27017", cfg.URI)
	assert.Equal(t, "slotwatch", cfg.Database)
	assert.NoError(t, cfg.Validate())

	cfg.Timeout = -time.Second
	assert.Error(t, cfg.Validate())
}
