package events

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/sraphaz/araponga/pkg/observability"
)

// Handler processes a single event. Handlers must tolerate duplicate
// delivery of the same logical event.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event Event) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus delivers published events to registered handlers.
type Bus interface {
	// Publish delivers event to every handler registered for its name.
	// With the in-process bus, all handlers have run when Publish returns.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for the named event.
	Subscribe(eventName string, handler Handler)
}

// InProcessBus is a synchronous dispatcher. Handlers run in registration
// order on the publisher's goroutine; a panicking handler is isolated and
// reported as an error rather than crashing the publisher.
type InProcessBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewInProcessBus creates an empty bus. Logger and metrics may be nil.
func NewInProcessBus(logger *observability.Logger, metrics *observability.Metrics) *InProcessBus {
	return &InProcessBus{
		handlers: make(map[string][]Handler),
		logger:   logger,
		metrics:  metrics,
	}
}

// Subscribe registers a handler for the named event.
func (b *InProcessBus) Subscribe(eventName string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventName] = append(b.handlers[eventName], handler)
}

// Publish delivers event to every registered handler. Every handler runs
// even when an earlier one fails; the first error is returned.
func (b *InProcessBus) Publish(ctx context.Context, event Event) error {
	name := event.EventName()

	b.mu.RLock()
	handlers := b.handlers[name]
	b.mu.RUnlock()

	if b.metrics != nil {
		b.metrics.EventsPublished.WithLabelValues(name).Inc()
	}

	var firstErr error
	for _, h := range handlers {
		if err := b.dispatch(ctx, h, event); err != nil {
			if b.logger != nil {
				b.logger.WithError(err).WithField("event", name).Error("event handler failed")
			}
			if b.metrics != nil {
				b.metrics.EventHandlerErrors.WithLabelValues(name).Inc()
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if b.metrics != nil {
			b.metrics.EventsHandled.WithLabelValues(name).Inc()
		}
	}
	return firstErr
}

func (b *InProcessBus) dispatch(ctx context.Context, h Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
		}
	}()
	return h.Handle(ctx, event)
}
