package events

import (
	"context"
	"sync"

	obsmetrics "github.com/smallbiznis/tally/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Handler consumes one event. Returned errors are logged, never propagated
// to the publisher.
type Handler func(ctx context.Context, event Event) error

// Bus is an in-process fan-out of ledger transitions to side-effect
// listeners (email, in-app notifications). Publish never blocks on or
// fails because of a listener.
type Bus struct {
	log *zap.Logger

	mu          sync.RWMutex
	subscribers map[string][]Handler
	wildcard    []Handler

	wg   sync.WaitGroup
	sync bool
}

func NewBus(log *zap.Logger) *Bus {
	return &Bus{
		log:         log.Named("events.bus"),
		subscribers: make(map[string][]Handler),
	}
}

// NewSyncBus delivers inline on the publisher goroutine. Test helper.
func NewSyncBus(log *zap.Logger) *Bus {
	bus := NewBus(log)
	bus.sync = true
	return bus
}

// Subscribe registers a handler for one event type. An empty eventType
// subscribes to every event.
func (b *Bus) Subscribe(eventType string, handler Handler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if eventType == "" {
		b.wildcard = append(b.wildcard, handler)
		return
	}
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish fans out the event to matching subscribers. Delivery runs off
// the caller's goroutine and uses a detached context so request
// cancellation does not drop notifications.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[event.Type])+len(b.wildcard))
	handlers = append(handlers, b.subscribers[event.Type]...)
	handlers = append(handlers, b.wildcard...)
	b.mu.RUnlock()

	obsmetrics.Billing().IncEventPublished(event.Type)

	if len(handlers) == 0 {
		return
	}

	deliver := func() {
		for _, handler := range handlers {
			b.dispatch(context.WithoutCancel(ctx), handler, event)
		}
	}

	if b.sync {
		deliver()
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		deliver()
	}()
}

// Drain waits for in-flight deliveries. Used on shutdown and in tests.
func (b *Bus) Drain() {
	b.wg.Wait()
}

func (b *Bus) dispatch(ctx context.Context, handler Handler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked",
				zap.String("type", event.Type),
				zap.String("entity_id", event.EntityID),
				zap.Any("panic", r),
			)
		}
	}()

	if err := handler(ctx, event); err != nil {
		b.log.Warn("event handler failed",
			zap.String("type", event.Type),
			zap.String("entity_id", event.EntityID),
			zap.Error(err),
		)
	}
}

func registerHooks(lc fx.Lifecycle, bus *Bus) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			_ = ctx
			bus.Drain()
			return nil
		},
	})
}

// Module wires the in-process event bus.
var Module = fx.Module("events",
	fx.Provide(NewBus),
	fx.Invoke(registerHooks),
)
