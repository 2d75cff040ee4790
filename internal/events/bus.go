package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus is an asynchronous publish-subscribe bus. Publishers never wait
// for observers: Emit hands each handler its own goroutine.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopped  bool
	wg       sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

// NewEventBus creates a new EventBus instance.
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]handlerEntry),
	}
}

// Subscribe registers a handler function for a specific event type.
// The name identifies the handler in logs and in Unsubscribe.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

// SubscribeMany registers the same handler for several event types.
func (eb *EventBus) SubscribeMany(eventTypes []EventType, name string, handler HandlerFunc) {
	for _, t := range eventTypes {
		eb.Subscribe(t, name, handler)
	}
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers, exists := eb.handlers[eventType]
	if !exists {
		return
	}

	filtered := make([]handlerEntry, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	eb.handlers[eventType] = filtered
}

// UnsubscribeMany removes a named handler from several event types.
func (eb *EventBus) UnsubscribeMany(eventTypes []EventType, name string) {
	for _, t := range eventTypes {
		eb.Unsubscribe(t, name)
	}
}

// snapshot returns the handlers for t, or nil when the bus is stopped.
func (eb *EventBus) snapshot(t EventType) []handlerEntry {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped || len(eb.handlers[t]) == 0 {
		return nil
	}
	out := make([]handlerEntry, len(eb.handlers[t]))
	copy(out, eb.handlers[t])
	return out
}

func stamp(event *Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
}

// Emit publishes an event to all subscribed handlers asynchronously.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	handlers := eb.snapshot(event.Type)
	if len(handlers) == 0 {
		return
	}
	stamp(&event)

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("emitting event")

	for _, h := range handlers {
		h := h // per-iteration copy; go.mod targets go 1.21 (pre-1.22 loop semantics)
		eb.wg.Add(1)
		go func() {
			defer eb.wg.Done()
			_ = eb.run(ctx, h, event)
		}()
	}
}

// EmitSync publishes an event and waits for all handlers to complete.
// Returns the first error encountered, if any.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	handlers := eb.snapshot(event.Type)
	if len(handlers) == 0 {
		return nil
	}
	stamp(&event)

	var firstErr error
	var errOnce sync.Once
	var wg sync.WaitGroup

	for _, h := range handlers {
		h := h // per-iteration copy; go.mod targets go 1.21 (pre-1.22 loop semantics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := eb.run(ctx, h, event); err != nil {
				errOnce.Do(func() { firstErr = err })
			}
		}()
	}

	wg.Wait()
	return firstErr
}

func (eb *EventBus) run(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Interface("panic", r).
				Msg("handler panicked")
		}
	}()

	if err = h.handler(ctx, event); err != nil {
		log.Error().
			Err(err).
			Str("event", string(event.Type)).
			Str("handler", h.name).
			Msg("handler returned error")
	}
	return err
}

// Stop makes the bus drop new events and waits for in-flight handlers.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	already := eb.stopped
	eb.stopped = true
	eb.mu.Unlock()

	eb.wg.Wait()
	if !already {
		log.Info().Msg("event bus stopped")
	}
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
