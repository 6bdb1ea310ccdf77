package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/erp/pricesync/internal/domain/shared"
	"go.uber.org/zap"
)

const defaultBufferSize = 1024

var (
	// ErrBusStopped is returned by Publish once Stop has been called
	ErrBusStopped = errors.New("event bus stopped")
	// ErrBusFull is returned when the dispatch queue has no room
	ErrBusFull = errors.New("event bus queue full")
)

type envelope struct {
	ctx   context.Context
	event shared.DomainEvent
}

// InMemoryEventBus implements EventBus with in-memory pub/sub.
// Before Start, Publish dispatches synchronously on the caller's goroutine.
// After Start, events are queued and delivered by a single dispatcher
// goroutine in publish order.
type InMemoryEventBus struct {
	registry   *HandlerRegistry
	logger     *zap.Logger
	bufferSize int

	mu      sync.RWMutex
	queue   chan envelope
	running atomic.Bool
	stopped atomic.Bool
	dropped atomic.Int64
	done    chan struct{}
}

// BusOption configures an InMemoryEventBus
type BusOption func(*InMemoryEventBus)

// WithBufferSize sets the dispatch queue capacity
func WithBufferSize(n int) BusOption {
	return func(b *InMemoryEventBus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger, opts ...BusOption) *InMemoryEventBus {
	b := &InMemoryEventBus{
		registry:   NewHandlerRegistry(),
		logger:     logger,
		bufferSize: defaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Publish hands events to the registered handlers. Handler errors are
// logged, never returned.
func (b *InMemoryEventBus) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	if b.stopped.Load() {
		return ErrBusStopped
	}
	if !b.running.Load() {
		for _, event := range events {
			b.dispatch(ctx, event)
		}
		return nil
	}

	// Handlers outlive the publishing request.
	detached := context.WithoutCancel(ctx)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.queue == nil {
		return ErrBusStopped
	}
	for _, event := range events {
		select {
		case b.queue <- envelope{ctx: detached, event: event}:
		default:
			b.dropped.Add(1)
			b.logger.Warn("event dropped, queue full",
				zap.String("event_type", event.EventType()),
				zap.String("event_id", event.EventID().String()),
			)
			return ErrBusFull
		}
	}
	return nil
}

// Subscribe registers a handler for specific event types
func (b *InMemoryEventBus) Subscribe(handler shared.EventHandler, eventTypes ...string) {
	if len(eventTypes) == 0 {
		eventTypes = handler.EventTypes()
	}
	b.registry.Register(handler, eventTypes...)
	b.logger.Debug("handler subscribed",
		zap.Strings("event_types", eventTypes),
	)
}

// Unsubscribe removes a handler
func (b *InMemoryEventBus) Unsubscribe(handler shared.EventHandler) {
	b.registry.Unregister(handler)
	b.logger.Debug("handler unsubscribed")
}

// Start launches the dispatcher goroutine
func (b *InMemoryEventBus) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running.Load() {
		return nil
	}
	b.queue = make(chan envelope, b.bufferSize)
	b.done = make(chan struct{})
	b.stopped.Store(false)
	b.running.Store(true)

	go b.loop(b.queue, b.done)

	b.logger.Info("event bus started", zap.Int("buffer_size", b.bufferSize))
	return nil
}

// Stop rejects new events and waits for queued ones to be delivered, or for
// ctx to expire.
func (b *InMemoryEventBus) Stop(ctx context.Context) error {
	b.mu.Lock()
	b.stopped.Store(true)
	if !b.running.Load() {
		b.mu.Unlock()
		return nil
	}
	b.running.Store(false)
	queue, done := b.queue, b.done
	b.queue = nil
	close(queue)
	b.mu.Unlock()

	select {
	case <-done:
		b.logger.Info("event bus stopped", zap.Int64("dropped", b.dropped.Load()))
		return nil
	case <-ctx.Done():
		b.logger.Warn("event bus stop timed out", zap.Int("pending", len(queue)))
		return ctx.Err()
	}
}

// Dropped reports how many events were rejected because the queue was full
func (b *InMemoryEventBus) Dropped() int64 {
	return b.dropped.Load()
}

func (b *InMemoryEventBus) loop(queue <-chan envelope, done chan<- struct{}) {
	defer close(done)
	for env := range queue {
		b.dispatch(env.ctx, env.event)
	}
}

func (b *InMemoryEventBus) dispatch(ctx context.Context, event shared.DomainEvent) {
	for _, handler := range b.registry.HandlersFor(event.EventType()) {
		if err := b.dispatchToHandler(ctx, handler, event); err != nil {
			b.logger.Error("handler failed to process event",
				zap.String("event_type", event.EventType()),
				zap.String("event_id", event.EventID().String()),
				zap.Error(err),
			)
		}
	}
}

// dispatchToHandler safely dispatches an event to a handler
func (b *InMemoryEventBus) dispatchToHandler(ctx context.Context, handler shared.EventHandler, event shared.DomainEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("handler panicked",
				zap.String("event_type", event.EventType()),
				zap.Any("panic", r),
			)
		}
	}()

	return handler.Handle(ctx, event)
}

// Ensure InMemoryEventBus implements EventBus
var _ shared.EventBus = (*InMemoryEventBus)(nil)
