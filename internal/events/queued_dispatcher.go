package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// QueuedDispatcher decouples publishers from subscribers through a bounded queue
// drained by a single consumer goroutine. Publish never blocks; events are dropped
// with a warning when the queue is full.
type QueuedDispatcher struct {
	inner  *inMemoryDispatcher
	queue  chan Event
	logger *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	done    chan struct{}
}

// NewQueuedDispatcher builds a dispatcher with the given queue capacity.
func NewQueuedDispatcher(size int, logger *zap.Logger) *QueuedDispatcher {
	if size <= 0 {
		size = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueuedDispatcher{
		inner:  newInMemoryDispatcher(logger),
		queue:  make(chan Event, size),
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start launches the consumer goroutine.
func (d *QueuedDispatcher) Start() {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	go func() {
		defer close(d.done)
		for event := range d.queue {
			_ = d.inner.Publish(context.Background(), event)
		}
	}()
}

// Publish enqueues the event.
func (d *QueuedDispatcher) Publish(_ context.Context, event Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.logger.Warn("event dropped after shutdown", zap.String("event_type", string(event.Type)))
		return nil
	}
	select {
	case d.queue <- event:
	default:
		d.logger.Warn("event queue full; dropping event",
			zap.String("event_type", string(event.Type)),
			zap.Int64("ticket_id", event.TicketID))
	}
	return nil
}

// Subscribe registers a handler for the given event type.
func (d *QueuedDispatcher) Subscribe(eventType EventType, handler EventHandler) {
	d.inner.Subscribe(eventType, handler)
}

// SubscribeAll registers a handler for every event type.
func (d *QueuedDispatcher) SubscribeAll(handler EventHandler) {
	d.inner.SubscribeAll(handler)
}

// Close stops accepting events and waits until queued events are handled.
func (d *QueuedDispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	started := d.started
	d.mu.Unlock()

	if !started {
		for event := range d.queue {
			_ = d.inner.Publish(context.Background(), event)
		}
		return
	}
	<-d.done
}
