package memory

import "context"

// EventTopic names one of the three topics a [MemoryStore] publishes to.
type EventTopic string

const (
	TopicMemoryCreated     EventTopic = "memory.created"
	TopicMemoryUpdated     EventTopic = "memory.updated"
	TopicMemoryInactivated EventTopic = "memory.inactivated"
)

// Event is published by a [MemoryStore] after a write commits (spec §4.11,
// §5: "commit happens-before the memory.created event publish"). Payload
// carries at minimum the fields memory.created needs to drive async
// enrichment: MemoryID, Project, MemoryType, and Enrich.
type Event struct {
	Topic     EventTopic
	MemoryID  int64
	Project   string
	Type      MemoryType

	// Enrich is false when the caller has opted the memory out of async
	// knowledge extraction (e.g. a memory_type that never carries
	// extractable facts).
	Enrich bool
}

// EventPublisher is the narrow interface a [MemoryStore] depends on to emit
// events. It is satisfied by internal/cairn/eventbus.Bus; kept here (rather
// than importing the bus package) so pkg/memory has no dependency on
// Cairn's internal orchestration packages — only the bus depends on this
// interface being implemented by something it can call.
type EventPublisher interface {
	Publish(ctx context.Context, event Event)
}

// NopPublisher discards every event. Useful for tests and for callers that
// don't need async enrichment.
type NopPublisher struct{}

// Publish implements [EventPublisher] by doing nothing.
func (NopPublisher) Publish(context.Context, Event) {}
