package intake

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const persistTimeout = 2 * time.Second

// writer applies persistence jobs one at a time, in enqueue order, so later
// snapshots of the same submission always land last. Jobs never block the
// caller; a full queue drops the write.
type writer struct {
	logger *zap.Logger
	jobs   chan writeJob
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

type writeJob struct {
	kind string
	fn   func(ctx context.Context) error
}

func newWriter(logger *zap.Logger, size int) *writer {
	w := &writer{
		logger: logger,
		jobs:   make(chan writeJob, size),
		done:   make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *writer) run() {
	defer close(w.done)
	for job := range w.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := job.fn(ctx); err != nil {
			w.logger.Warn("persist failed", zap.String("kind", job.kind), zap.Error(err))
		}
		cancel()
	}
}

func (w *writer) enqueue(kind string, fn func(ctx context.Context) error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.jobs <- writeJob{kind: kind, fn: fn}:
	default:
		w.logger.Warn("persist queue full; dropping write", zap.String("kind", kind))
	}
}

// close drains queued jobs and stops the worker.
func (w *writer) close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	w.mu.Unlock()
	<-w.done
}

// flush waits until every job enqueued before the call has been applied.
func (w *writer) flush(ctx context.Context) error {
	reached := make(chan struct{})
	w.mu.RLock()
	if w.closed {
		w.mu.RUnlock()
		return nil
	}
	select {
	case w.jobs <- writeJob{kind: "flush", fn: func(context.Context) error { close(reached); return nil }}:
	case <-ctx.Done():
		w.mu.RUnlock()
		return ctx.Err()
	}
	w.mu.RUnlock()

	select {
	case <-reached:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
