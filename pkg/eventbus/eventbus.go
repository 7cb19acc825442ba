package eventbus

import (
	"reflect"
	"sync"
)

// Handler handles one published event.
type Handler func(event interface{})

// EventBus is an in-process pub/sub keyed on event type. The poller publishes
// readings onto it; the websocket hub and metrics subscribe without the
// publisher knowing either exists.
type EventBus struct {
	handlers map[reflect.Type][]Handler
	mu       sync.RWMutex
}

// New creates an empty EventBus.
func New() *EventBus {
	return &EventBus{
		handlers: make(map[reflect.Type][]Handler),
	}
}

// Subscribe registers a handler for the concrete type of eventType.
func (e *EventBus) Subscribe(eventType interface{}, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := reflect.TypeOf(eventType)
	e.handlers[t] = append(e.handlers[t], handler)
}

// Publish delivers event to all subscribers asynchronously. Pointer events
// also reach subscribers of the element type, and vice versa.
func (e *EventBus) Publish(event interface{}) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	eventType := reflect.TypeOf(event)

	if handlers, ok := e.handlers[eventType]; ok {
		for _, handler := range handlers {
			go handler(event)
		}
	}

	if eventType.Kind() == reflect.Ptr {
		if handlers, ok := e.handlers[eventType.Elem()]; ok {
			for _, handler := range handlers {
				go handler(reflect.ValueOf(event).Elem().Interface())
			}
		}
		return
	}

	if handlers, ok := e.handlers[reflect.PtrTo(eventType)]; ok {
		ptr := reflect.New(eventType)
		ptr.Elem().Set(reflect.ValueOf(event))
		for _, handler := range handlers {
			go handler(ptr.Interface())
		}
	}
}

// PublishSync delivers event to all subscribers on the calling goroutine.
func (e *EventBus) PublishSync(event interface{}) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	eventType := reflect.TypeOf(event)

	if handlers, ok := e.handlers[eventType]; ok {
		for _, handler := range handlers {
			handler(event)
		}
	}

	if eventType.Kind() == reflect.Ptr {
		if handlers, ok := e.handlers[eventType.Elem()]; ok {
			for _, handler := range handlers {
				handler(reflect.ValueOf(event).Elem().Interface())
			}
		}
	}
}

// HasSubscribers reports whether any handler is registered for the event type.
func (e *EventBus) HasSubscribers(eventType interface{}) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()

	handlers, ok := e.handlers[reflect.TypeOf(eventType)]
	return ok && len(handlers) > 0
}
