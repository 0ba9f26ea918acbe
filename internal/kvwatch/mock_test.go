package kvwatch

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of Store for testing.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(jetstream.KeyValueEntry), args.Error(1)
}

func (m *MockStore) Watch(ctx context.Context, keys string, opts ...jetstream.WatchOpt) (jetstream.KeyWatcher, error) {
	args := m.Called(ctx, keys)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(jetstream.KeyWatcher), args.Error(1)
}

func (m *MockStore) History(ctx context.Context, key string, opts ...jetstream.WatchOpt) ([]jetstream.KeyValueEntry, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]jetstream.KeyValueEntry), args.Error(1)
}

// fakeEntry implements jetstream.KeyValueEntry.
type fakeEntry struct {
	jetstream.KeyValueEntry // Embed to avoid implementing all methods
	key                     string
	value                   []byte
	revision                uint64
	op                      jetstream.KeyValueOp
	created                 time.Time
}

func (e *fakeEntry) Bucket() string                  { return "test" }
func (e *fakeEntry) Key() string                     { return e.key }
func (e *fakeEntry) Value() []byte                   { return e.value }
func (e *fakeEntry) Revision() uint64                { return e.revision }
func (e *fakeEntry) Created() time.Time              { return e.created }
func (e *fakeEntry) Operation() jetstream.KeyValueOp { return e.op }

func put(key string, rev uint64, value string) *fakeEntry {
	return &fakeEntry{key: key, value: []byte(value), revision: rev, op: jetstream.KeyValuePut}
}

func del(key string, rev uint64) *fakeEntry {
	return &fakeEntry{key: key, revision: rev, op: jetstream.KeyValueDelete}
}

// fakeWatcher implements jetstream.KeyWatcher on a channel.
type fakeWatcher struct {
	updates chan jetstream.KeyValueEntry

	mu      sync.Mutex
	stopped bool
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{updates: make(chan jetstream.KeyValueEntry, 16)}
}

func (w *fakeWatcher) Updates() <-chan jetstream.KeyValueEntry { return w.updates }

func (w *fakeWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
	return nil
}

func (w *fakeWatcher) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}
