package eventbus

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jasondostal/cairn-mcp-sub001/pkg/memory"
)

func newTestEvent(topic memory.EventTopic, memoryID int64) memory.Event {
	return memory.Event{Topic: topic, MemoryID: memoryID}
}

func TestBus_DeliversToRegisteredListener(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var received []memory.Event

	listener := func(_ context.Context, event memory.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, event)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := New(ctx, slog.Default(), map[memory.EventTopic][]Listener{
		memory.TopicMemoryCreated: {listener},
	})

	bus.Publish(ctx, newTestEvent(memory.TopicMemoryCreated, 1))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 1 {
		t.Fatalf("received %d events, want 1", len(received))
	}
	if received[0].MemoryID != 1 {
		t.Errorf("MemoryID = %d, want 1", received[0].MemoryID)
	}
}

func TestBus_UnroutedTopicIsDropped(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := New(ctx, slog.Default(), map[memory.EventTopic][]Listener{
		memory.TopicMemoryCreated: {func(context.Context, memory.Event) error { return nil }},
	})

	// Publish should not block or panic for a topic with no queue.
	bus.Publish(ctx, newTestEvent(memory.TopicMemoryUpdated, 1))
}

func TestBus_RetriesFailingListenerThenSucceeds(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{})

	listener := func(_ context.Context, _ memory.Event) error {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 2 {
			return errors.New("transient failure")
		}
		close(done)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := New(ctx, slog.Default(), map[memory.EventTopic][]Listener{
		memory.TopicMemoryCreated: {listener},
	})
	bus.Publish(ctx, newTestEvent(memory.TopicMemoryCreated, 42))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("listener never succeeded after retry")
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestBus_MultipleListenersOnSameTopic(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var calls []string

	first := func(context.Context, memory.Event) error {
		mu.Lock()
		calls = append(calls, "first")
		mu.Unlock()
		return nil
	}
	second := func(context.Context, memory.Event) error {
		mu.Lock()
		calls = append(calls, "second")
		mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := New(ctx, slog.Default(), map[memory.EventTopic][]Listener{
		memory.TopicMemoryCreated: {first, second},
	})
	bus.Publish(ctx, newTestEvent(memory.TopicMemoryCreated, 1))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(calls)
		mu.Unlock()
		if n == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 || calls[0] != "first" || calls[1] != "second" {
		t.Errorf("calls = %v, want [first second] in order", calls)
	}
}

func TestBus_CancelledContextStopsDispatch(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	called := make(chan struct{}, 1)

	bus := New(ctx, slog.Default(), map[memory.EventTopic][]Listener{
		memory.TopicMemoryCreated: {func(context.Context, memory.Event) error {
			called <- struct{}{}
			return nil
		}},
	})

	cancel()
	// Publish with an already-cancelled context: either the event is dropped
	// immediately, or it's delivered before the loop observes cancellation.
	// Either way this must not block or panic.
	bus.Publish(ctx, newTestEvent(memory.TopicMemoryCreated, 1))

	select {
	case <-called:
	case <-time.After(200 * time.Millisecond):
	}
}
