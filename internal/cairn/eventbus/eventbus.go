// Package eventbus dispatches memory.* events to subscribed listeners with
// at-least-once delivery and exponential-backoff retries.
//
// spec.md §9's design notes flag "event-bus wildcard subscribers" as a
// pattern to avoid, in favor of "an explicit topic predicate ... a static
// routing table." Bus implements exactly that: a fixed map from
// [memory.EventTopic] to one ordered list of [Listener]s built at
// construction time (via [New]), not a mutable subscribe-at-runtime
// registry. Each topic is served by exactly one goroutine reading from a
// buffered channel — spec.md §5's "single-threaded cooperative per
// subscription" — so graph writes triggered by enrichment within a project
// never race with themselves.
package eventbus

import (
	"context"
	"log/slog"
	"time"

	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
)

// Listener handles one event. Handlers must be idempotent: delivery is
// at-least-once (spec.md §4.11) and a listener may see the same event more
// than once after a retry.
type Listener func(ctx context.Context, event memory.Event) error

const (
	maxAttempts  = 5
	backoffBase  = 500 * time.Millisecond
	queueDepth   = 256
)

// Bus implements [memory.EventPublisher] by fanning events out to a static,
// per-topic routing table of listeners.
type Bus struct {
	logger    *slog.Logger
	queues    map[memory.EventTopic]chan memory.Event
	listeners map[memory.EventTopic][]Listener
	done      chan struct{}
}

// New builds a Bus with the given routing table and starts one dispatch
// goroutine per topic present in routes. ctx bounds the lifetime of those
// goroutines — cancel it to stop dispatching (in-flight deliveries finish
// their current retry attempt first).
func New(ctx context.Context, logger *slog.Logger, routes map[memory.EventTopic][]Listener) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		logger:    logger,
		queues:    make(map[memory.EventTopic]chan memory.Event, len(routes)),
		listeners: routes,
		done:      make(chan struct{}),
	}
	for topic := range routes {
		ch := make(chan memory.Event, queueDepth)
		b.queues[topic] = ch
		go b.dispatchLoop(ctx, topic, ch)
	}
	return b
}

// Publish implements [memory.EventPublisher]. It enqueues event on its
// topic's queue, blocking only if that queue is full. Publish never blocks
// on delivery or retries — those happen asynchronously in dispatchLoop. If
// the queue is full and ctx is cancelled before room frees up, the event is
// dropped and logged — events are recovery hints, not the source of truth
// (spec §4.3, §5), so Publish itself must never fail a Store/Modify call.
func (b *Bus) Publish(ctx context.Context, event memory.Event) {
	ch, ok := b.queues[event.Topic]
	if !ok {
		// No listener registered for this topic.
		return
	}
	select {
	case ch <- event:
	case <-ctx.Done():
		b.logger.Warn("dropped event: context cancelled while queue full",
			"topic", event.Topic, "memory_id", event.MemoryID)
	}
}

// dispatchLoop serializes delivery of every event on one topic to every
// listener registered for that topic, retrying a failing listener up to
// maxAttempts times with exponential backoff before giving up and logging.
func (b *Bus) dispatchLoop(ctx context.Context, topic memory.EventTopic, ch chan memory.Event) {
	listeners := b.listeners[topic]
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			for _, listen := range listeners {
				b.deliver(ctx, topic, event, listen)
			}
		}
	}
}

func (b *Bus) deliver(ctx context.Context, topic memory.EventTopic, event memory.Event, listen Listener) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		if err := listen(ctx, event); err != nil {
			lastErr = err
			b.logger.Warn("enrichment listener failed, will retry",
				"topic", topic, "memory_id", event.MemoryID, "attempt", attempt, "error", err)
			select {
			case <-time.After(backoffBase * time.Duration(1<<uint(attempt-1))):
			case <-ctx.Done():
				return
			}
			continue
		}
		return
	}
	b.logger.Error("enrichment listener exhausted retries, dropping event",
		"topic", topic, "memory_id", event.MemoryID, "error", lastErr)
}
