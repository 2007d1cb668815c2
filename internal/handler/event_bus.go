// internal/handler/event_bus.go
package handler

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"obd-service/internal/service"
)

// Adapter event types
const (
	EventAdapterConnected    = "adapter.connected"
	EventAdapterDisconnected = "adapter.disconnected"
	EventAdapterError        = "adapter.error"
)

// EventBus manages event distribution
type EventBus struct {
	subscribers map[string][]chan Event
	events      chan Event
	mutex       sync.RWMutex
	logger      *zap.Logger
	closed      bool
}

// Event represents a system event
type Event struct {
	Type      string                 `json:"type"`
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
}

// NewEventBus creates a new event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]chan Event),
		events:      make(chan Event, 1000),
		logger:      logger,
	}
}

// Start distributes published events until Stop is called
func (eb *EventBus) Start() {
	for event := range eb.events {
		eb.distributeEvent(event)
	}

	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	// a subscriber listed under several types is closed once
	unique := make(map[chan Event]struct{})
	for _, subscribers := range eb.subscribers {
		for _, subscriber := range subscribers {
			unique[subscriber] = struct{}{}
		}
	}
	for subscriber := range unique {
		close(subscriber)
	}
	eb.subscribers = make(map[string][]chan Event)
}

// Stop ends distribution and closes every subscriber channel
func (eb *EventBus) Stop() {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	if !eb.closed {
		eb.closed = true
		close(eb.events)
	}
}

// Publish publishes an event without blocking
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mutex.RLock()
	defer eb.mutex.RUnlock()

	if eb.closed {
		return
	}

	select {
	case eb.events <- event:
	default:
		eb.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", event.Type),
		)
	}
}

// Subscribe subscribes to events of the given types
func (eb *EventBus) Subscribe(eventTypes ...string) <-chan Event {
	eb.mutex.Lock()
	defer eb.mutex.Unlock()

	subscriber := make(chan Event, 100)
	for _, eventType := range eventTypes {
		eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
	}
	return subscriber
}

// distributeEvent distributes an event to subscribers
func (eb *EventBus) distributeEvent(event Event) {
	eb.mutex.RLock()
	subscribers := eb.subscribers[event.Type]
	eb.mutex.RUnlock()

	for _, subscriber := range subscribers {
		select {
		case subscriber <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

// AdapterEventHandler turns adapter session changes into bus events
type AdapterEventHandler struct {
	bus    *EventBus
	logger *zap.Logger
}

// NewAdapterEventHandler creates a handler publishing to bus
func NewAdapterEventHandler(bus *EventBus, logger *zap.Logger) *AdapterEventHandler {
	return &AdapterEventHandler{
		bus:    bus,
		logger: logger,
	}
}

// OnAdapterConnected handles adapter connected events
func (h *AdapterEventHandler) OnAdapterConnected(status service.Status) {
	h.bus.Publish(Event{
		Type:   EventAdapterConnected,
		Source: status.DevicePath,
		Data: map[string]interface{}{
			"status":     "online",
			"session_id": status.SessionID,
		},
	})

	h.logger.Info("Adapter connected event published", zap.String("device_path", status.DevicePath))
}

// OnAdapterDisconnected handles adapter disconnected events
func (h *AdapterEventHandler) OnAdapterDisconnected(path string, reason string) {
	h.bus.Publish(Event{
		Type:   EventAdapterDisconnected,
		Source: path,
		Data: map[string]interface{}{
			"status": "offline",
			"reason": reason,
		},
	})

	h.logger.Info("Adapter disconnected event published",
		zap.String("device_path", path),
		zap.String("reason", reason),
	)
}

// OnAdapterError handles adapter error events
func (h *AdapterEventHandler) OnAdapterError(path string, err error) {
	h.bus.Publish(Event{
		Type:   EventAdapterError,
		Source: path,
		Data: map[string]interface{}{
			"status": "error",
			"error":  err.Error(),
		},
	})

	h.logger.Error("Adapter error event published",
		zap.String("device_path", path),
		zap.Error(err),
	)
}
