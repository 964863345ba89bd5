package events

import (
	"fmt"
	"sync"
	"time"
)

// DefaultHistorySize bounds the in-memory tail kept for late subscribers.
const DefaultHistorySize = 1000

// Handler observes emitted events. Handlers run synchronously on the
// emitting goroutine, in subscription order.
type Handler func(Event)

// Bus is the per-conversation event bus. Exactly one bus exists per
// conversation; there is no cross-conversation routing.
type Bus struct {
	conversationID string

	mu      sync.Mutex
	seq     int64
	byType  map[string][]Handler
	all     []Handler
	history []Event
	sink    *JSONLSink
	closed  bool
}

// NewBus creates a bus for one conversation. sink may be nil for buses that
// only fan out in process (tests, dry runs).
func NewBus(conversationID string, sink *JSONLSink) *Bus {
	return &Bus{
		conversationID: conversationID,
		byType:         make(map[string][]Handler),
		sink:           sink,
	}
}

// ConversationID returns the owning conversation.
func (b *Bus) ConversationID() string { return b.conversationID }

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[eventType] = append(b.byType[eventType], h)
}

// SubscribeAll registers a handler for every event.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Replay delivers the retained in-memory tail to a late subscriber. Older
// events are only on disk.
func (b *Bus) Replay(h Handler) {
	b.mu.Lock()
	tail := make([]Event, len(b.history))
	copy(tail, b.history)
	b.mu.Unlock()
	for _, ev := range tail {
		h(ev)
	}
}

// Seq returns the next sequence number to be assigned.
func (b *Bus) Seq() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Emit stamps the event with the next sequence number and the current time,
// appends it to the JSONL sink, and delivers it to subscribers in
// subscription order. Emit is the only place events are mutated.
func (b *Bus) Emit(ev Event) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("event bus for %s is closed", b.conversationID)
	}

	env := ev.Env()
	env.Type = ev.EventType()
	env.ConversationID = b.conversationID
	env.Timestamp = time.Now().UTC()
	env.Seq = b.seq
	b.seq++

	b.history = append(b.history, ev)
	if len(b.history) > DefaultHistorySize {
		b.history = b.history[len(b.history)-DefaultHistorySize:]
	}

	typed := b.byType[ev.EventType()]
	all := b.all
	sink := b.sink
	b.mu.Unlock()

	// Disk before subscribers: a consumer must never observe an event
	// that could be lost on crash.
	if sink != nil {
		if err := sink.Append(ev); err != nil {
			return fmt.Errorf("append event to log: %w", err)
		}
	}

	for _, h := range typed {
		h(ev)
	}
	for _, h := range all {
		h(ev)
	}
	return nil
}

// Close flushes and closes the sink. Emit fails afterwards.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	sink := b.sink
	b.mu.Unlock()

	if sink != nil {
		return sink.Close()
	}
	return nil
}
