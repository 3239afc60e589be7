package events

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPublishDeliversToSubscribers(t *testing.T) {
	bus := NewSyncBus(zap.NewNop())

	var got []Event
	bus.Subscribe(EventBillingPaid, func(ctx context.Context, event Event) error {
		got = append(got, event)
		return nil
	})
	bus.Subscribe(EventBillingFailed, func(ctx context.Context, event Event) error {
		t.Fatal("wrong subscriber invoked")
		return nil
	})

	bus.Publish(context.Background(), Event{
		Type:     EventBillingPaid,
		Entity:   "billing",
		EntityID: "42",
		Data:     map[string]any{"amount": "27.50"},
	})

	assert.Len(t, got, 1)
	assert.Equal(t, "42", got[0].EntityID)
	assert.Equal(t, "27.50", got[0].Data["amount"])
}

func TestWildcardSubscriberSeesEverything(t *testing.T) {
	bus := NewSyncBus(zap.NewNop())

	var types []string
	bus.Subscribe("", func(ctx context.Context, event Event) error {
		types = append(types, event.Type)
		return nil
	})

	bus.Publish(context.Background(), Event{Type: EventBillingCreated, Entity: "billing", EntityID: "1"})
	bus.Publish(context.Background(), Event{Type: EventOrderSuccess, Entity: "order", EntityID: "2"})

	assert.Equal(t, []string{EventBillingCreated, EventOrderSuccess}, types)
}

func TestHandlerErrorDoesNotReachPublisher(t *testing.T) {
	bus := NewSyncBus(zap.NewNop())

	called := false
	bus.Subscribe(EventBillingCreated, func(ctx context.Context, event Event) error {
		return errors.New("smtp down")
	})
	bus.Subscribe(EventBillingCreated, func(ctx context.Context, event Event) error {
		called = true
		return nil
	})

	bus.Publish(context.Background(), Event{Type: EventBillingCreated, Entity: "billing", EntityID: "1"})

	// The failing handler never stops the others.
	assert.True(t, called)
}

func TestHandlerPanicIsContained(t *testing.T) {
	bus := NewSyncBus(zap.NewNop())

	bus.Subscribe(EventBillingDeleted, func(ctx context.Context, event Event) error {
		panic("listener bug")
	})

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), Event{Type: EventBillingDeleted, Entity: "billing", EntityID: "9"})
	})
}

func TestPublishSurvivesCanceledContext(t *testing.T) {
	bus := NewSyncBus(zap.NewNop())

	var delivered context.Context
	bus.Subscribe(EventBillingPaid, func(ctx context.Context, event Event) error {
		delivered = ctx
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, Event{Type: EventBillingPaid, Entity: "billing", EntityID: "7"})

	assert.NoError(t, delivered.Err())
}

func TestAsyncPublishAndDrain(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var mu sync.Mutex
	count := 0
	bus.Subscribe(EventSubscriptionNew, func(ctx context.Context, event Event) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		bus.Publish(context.Background(), Event{Type: EventSubscriptionNew, Entity: "subscription", EntityID: "s"})
	}
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, count)
}

func TestNilHandlerIgnored(t *testing.T) {
	bus := NewSyncBus(zap.NewNop())
	bus.Subscribe(EventBillingPaid, nil)

	assert.NotPanics(t, func() {
		bus.Publish(context.Background(), Event{Type: EventBillingPaid, Entity: "billing", EntityID: "1"})
	})
}
