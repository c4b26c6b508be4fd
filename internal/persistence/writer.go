package persistence

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	defaultWriterCapacity = 256
	writerMaxAttempts     = 3
	writerRetryStep       = 300 * time.Millisecond
	writerDrainTimeout    = 5 * time.Second
)

type writeCmd struct {
	name string
	fn   func(context.Context) error
}

// WriterQueue serializes database writes off the sampling path. When the
// queue is full new writes are dropped: the sampler must never block on disk.
type WriterQueue struct {
	logger  *slog.Logger
	queue   chan writeCmd
	done    chan struct{}
	dropped atomic.Int64
}

func NewWriterQueue(logger *slog.Logger, capacity int) *WriterQueue {
	if capacity <= 0 {
		capacity = defaultWriterCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WriterQueue{
		logger: logger,
		queue:  make(chan writeCmd, capacity),
		done:   make(chan struct{}),
	}
}

// Enqueue schedules fn. It reports false when the write was dropped.
func (w *WriterQueue) Enqueue(name string, fn func(context.Context) error) bool {
	select {
	case w.queue <- writeCmd{name: name, fn: fn}:
		return true
	default:
		w.dropped.Add(1)
		w.logger.Warn("db write dropped, queue full", "cmd", name, "dropped_total", w.dropped.Load())
		return false
	}
}

// Dropped returns the number of writes discarded because the queue was full.
func (w *WriterQueue) Dropped() int64 {
	return w.dropped.Load()
}

// Start runs the queue until ctx is cancelled, then drains what is already
// queued. Done is closed once the drain has finished.
func (w *WriterQueue) Start(ctx context.Context) {
	go func() {
		defer close(w.done)
		for {
			select {
			case <-ctx.Done():
				w.drain()
				return
			case cmd := <-w.queue:
				w.runWithRetry(ctx, cmd)
			}
		}
	}()
}

func (w *WriterQueue) Done() <-chan struct{} {
	return w.done
}

func (w *WriterQueue) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), writerDrainTimeout)
	defer cancel()
	for {
		select {
		case cmd := <-w.queue:
			w.runWithRetry(ctx, cmd)
		default:
			return
		}
	}
}

func (w *WriterQueue) runWithRetry(ctx context.Context, cmd writeCmd) {
	for attempt := 1; attempt <= writerMaxAttempts; attempt++ {
		err := cmd.fn(ctx)
		if err == nil {
			return
		}
		w.logger.Error("db write failed", "cmd", cmd.name, "attempt", attempt, "error", err)
		if attempt == writerMaxAttempts {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * writerRetryStep):
		}
	}
}
