package audit

import (
	"context"
	"time"

	"github.com/sraphaz/araponga/pkg/async"
)

// AsyncLogger decouples audit writes from the mutation path by pushing them
// through a worker pool. Log never blocks the caller beyond the queue send;
// Close drains queued events before returning.
type AsyncLogger struct {
	inner Logger
	pool  *async.WorkerPool
}

// NewAsyncLogger wraps inner with a worker pool of the given size.
func NewAsyncLogger(inner Logger, workers int) *AsyncLogger {
	if workers <= 0 {
		workers = 2
	}
	return &AsyncLogger{
		inner: inner,
		pool:  async.NewWorkerPool(context.Background(), workers, "audit-writer", 10*time.Second),
	}
}

// Log queues the event for the inner logger.
func (l *AsyncLogger) Log(ctx context.Context, event *Event) error {
	return l.pool.Submit(func(ctx context.Context) error {
		return l.inner.Log(ctx, event)
	})
}

// Close drains the queue and closes the inner logger.
func (l *AsyncLogger) Close() error {
	drainErr := l.pool.Shutdown(30 * time.Second)
	if err := l.inner.Close(); err != nil {
		return err
	}
	return drainErr
}
