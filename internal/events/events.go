// Package events fans slot changes out to live watchers: an in-process bus,
// a WebSocket hub, and a Redis channel for multi-instance deployments.
package events

import (
	"context"
	"sync"
	"time"

	"parking-status-backend/internal/model"
)

const (
	TopicSlotUpdated   = "slot_updated"
	TopicSlotAvailable = "slot_available"
)

// SlotPayload is the plain snapshot of a slot carried by every event.
type SlotPayload struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Occupied  bool   `json:"occupied"`
	Active    bool   `json:"active"`
	UpdatedAt string `json:"updatedAt"`
}

// PayloadFor snapshots slot.
func PayloadFor(slot *model.Slot) SlotPayload {
	return SlotPayload{
		ID:        slot.ID,
		Name:      slot.Name,
		Occupied:  slot.Occupied,
		Active:    slot.Active,
		UpdatedAt: slot.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Event is a topic plus its payload. It is also the wire format on Redis
// and WebSocket connections.
type Event struct {
	Topic   string      `json:"topic"`
	Payload SlotPayload `json:"payload"`
}

// Sink receives slot events. Publishing never fails the caller; sinks log
// their own delivery problems.
type Sink interface {
	Publish(ctx context.Context, topic string, payload SlotPayload)
}

// Handler reacts to an event.
type Handler func(ctx context.Context, ev Event)

// Bus provides in-process pub/sub for slot events.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]Handler
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]Handler)}
}

// Subscribe registers a handler for a topic. An empty topic receives all.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], h)
}

// Publish runs the handlers synchronously; handlers choose their own
// concurrency.
func (b *Bus) Publish(ctx context.Context, topic string, payload SlotPayload) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.subscribers[topic]...)
	handlers = append(handlers, b.subscribers[""]...)
	b.mu.RUnlock()

	ev := Event{Topic: topic, Payload: payload}
	for _, h := range handlers {
		h(ctx, ev)
	}
}

// Recorder is a Sink that keeps every event, for tests and dry runs.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, topic string, payload SlotPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Topic: topic, Payload: payload})
}

// Events returns a copy of what was recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Topics returns the recorded topics in order.
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Topic
	}
	return out
}
