package core

import (
	"sync"
	"time"
)

// DefaultBufferCapacity is used when no capacity is configured.
const DefaultBufferCapacity = 100000

// EventBuffer is a fixed-capacity ring of the most recent normalized events,
// insertion-ordered, overwriting the oldest entry when full. Append is safe
// against concurrent appenders; Snapshot copies under the same lock so a
// reader never observes a partially-updated buffer.
type EventBuffer struct {
	mu     sync.Mutex
	events []*Event
	start  int // index of the oldest event
	size   int
}

// NewEventBuffer creates a buffer holding at most capacity events.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferCapacity
	}
	return &EventBuffer{
		events: make([]*Event, capacity),
	}
}

// Append adds an event, evicting the oldest one when the buffer is full.
func (b *EventBuffer) Append(event *Event) {
	if event == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size < len(b.events) {
		b.events[(b.start+b.size)%len(b.events)] = event
		b.size++
		return
	}
	// Full: overwrite the oldest slot and advance the start marker.
	b.events[b.start] = event
	b.start = (b.start + 1) % len(b.events)
}

// Snapshot returns the buffered events with Timestamp >= since, oldest first.
// The returned slice is a copy; the events themselves are treated as
// immutable after buffer entry.
func (b *EventBuffer) Snapshot(since time.Time) []*Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Event, 0, b.size)
	for i := 0; i < b.size; i++ {
		ev := b.events[(b.start+i)%len(b.events)]
		if !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	return out
}

// Len returns the number of buffered events.
func (b *EventBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity returns the fixed capacity of the buffer.
func (b *EventBuffer) Capacity() int {
	return len(b.events)
}
