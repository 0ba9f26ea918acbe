package logging

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// AsyncWriter moves writes off the logging goroutine. Entries are queued and
// a background loop coalesces them into one underlying Write per batch.
type AsyncWriter struct {
	w        io.Writer
	queue    chan []byte
	flushReq chan chan struct{}
	done     chan struct{}

	// mu guards closed; writers hold it shared while enqueuing so Close
	// never closes the queue under them.
	mu     sync.RWMutex
	closed bool

	maxBatch int
	interval time.Duration
}

// AsyncWriterConfig holds configuration for AsyncWriter
type AsyncWriterConfig struct {
	// QueueSize is the number of entries buffered before Write blocks.
	QueueSize int
	// MaxBatchBytes triggers a write once this many bytes are pending.
	MaxBatchBytes int
	// FlushInterval bounds how long an entry waits for its batch.
	FlushInterval time.Duration
}

// DefaultAsyncWriterConfig returns default configuration
func DefaultAsyncWriterConfig() AsyncWriterConfig {
	return AsyncWriterConfig{
		QueueSize:     4096,
		MaxBatchBytes: 64 << 10,
		FlushInterval: 100 * time.Millisecond,
	}
}

// NewAsyncWriter wraps w with the default configuration.
func NewAsyncWriter(w io.Writer) *AsyncWriter {
	return NewAsyncWriterWithConfig(w, DefaultAsyncWriterConfig())
}

func NewAsyncWriterWithConfig(w io.Writer, cfg AsyncWriterConfig) *AsyncWriter {
	defaults := DefaultAsyncWriterConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.MaxBatchBytes <= 0 {
		cfg.MaxBatchBytes = defaults.MaxBatchBytes
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}

	a := &AsyncWriter{
		w:        w,
		queue:    make(chan []byte, cfg.QueueSize),
		flushReq: make(chan chan struct{}),
		done:     make(chan struct{}),
		maxBatch: cfg.MaxBatchBytes,
		interval: cfg.FlushInterval,
	}
	go a.run()
	return a
}

// Write queues a copy of p. It blocks only while the queue is full.
func (a *AsyncWriter) Write(p []byte) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return 0, io.ErrClosedPipe
	}
	a.queue <- append([]byte(nil), p...)
	return len(p), nil
}

// Flush blocks until everything queued before the call has been written.
func (a *AsyncWriter) Flush() error {
	reply := make(chan struct{})
	select {
	case a.flushReq <- reply:
		<-reply
	case <-a.done:
	}
	return nil
}

// Close drains the queue, stops the loop and closes the underlying writer
// when it is an io.Closer. Further writes fail with io.ErrClosedPipe.
func (a *AsyncWriter) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	close(a.queue)
	a.mu.Unlock()

	<-a.done
	if c, ok := a.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *AsyncWriter) run() {
	defer close(a.done)

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	var pending bytes.Buffer
	write := func() {
		if pending.Len() == 0 {
			return
		}
		_, _ = a.w.Write(pending.Bytes())
		pending.Reset()
	}

	for {
		select {
		case entry, ok := <-a.queue:
			if !ok {
				write()
				return
			}
			pending.Write(entry)
			if pending.Len() >= a.maxBatch {
				write()
			}
		case reply := <-a.flushReq:
			for n := len(a.queue); n > 0; n-- {
				entry, ok := <-a.queue
				if !ok {
					break
				}
				pending.Write(entry)
			}
			write()
			close(reply)
		case <-ticker.C:
			write()
		}
	}
}
