package events

import (
	"sync"

	"cipherlend/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer collects events emitted during a state transition so they can be
// published only once the transition commits.
type Buffer struct {
	mu     sync.Mutex
	events []*types.Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	payload := evt.Event()
	if payload == nil {
		return
	}
	b.mu.Lock()
	b.events = append(b.events, payload)
	b.mu.Unlock()
}

// Drain returns the buffered events and resets the buffer.
func (b *Buffer) Drain() []*types.Event {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.events
	b.events = nil
	return out
}

// Reset discards any buffered events.
func (b *Buffer) Reset() {
	if b == nil {
		return
	}
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}

// Static wraps a prebuilt payload so it satisfies Event.
type Static struct {
	Payload *types.Event
}

// EventType implements Event.
func (s Static) EventType() string {
	if s.Payload == nil {
		return ""
	}
	return s.Payload.Type
}

// Event implements Event.
func (s Static) Event() *types.Event { return s.Payload }
