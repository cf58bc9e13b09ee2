package orchestration

import (
	"sync"
	"testing"
	"time"
)

func TestRuntimeHandlesEventsQueuedBeforeStartInOrder(t *testing.T) {
	runtime := newConversationRuntime()
	for i := 0; i < 5; i++ {
		if !runtime.enqueue(i) {
			t.Fatalf("expected enqueue to succeed before start")
		}
	}

	var mu sync.Mutex
	var handled []int
	if !runtime.start(func(event any, _ time.Time) {
		mu.Lock()
		handled = append(handled, event.(int))
		mu.Unlock()
	}) {
		t.Fatalf("expected runtime to start")
	}
	runtime.enqueue(5)

	waitForCondition(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(handled) == 6
	}, "all events should be handled")

	mu.Lock()
	defer mu.Unlock()
	for i, value := range handled {
		if value != i {
			t.Fatalf("expected events in order, got %v", handled)
		}
	}
}

func TestRuntimeStartsOnceAndRejectsEventsAfterEnd(t *testing.T) {
	runtime := newConversationRuntime()
	handle := func(any, time.Time) {}

	if !runtime.start(handle) {
		t.Fatalf("expected first start to succeed")
	}
	if runtime.start(handle) {
		t.Fatalf("expected second start to be ignored")
	}

	runtime.end()
	runtime.end()
	runtime.waitUntilEnded()

	if runtime.enqueue("late") {
		t.Fatalf("expected enqueue after end to fail")
	}
	if runtime.start(handle) {
		t.Fatalf("expected start after end to fail")
	}
}

func TestRuntimeHandlerCanEnqueue(t *testing.T) {
	runtime := newConversationRuntime()
	done := make(chan struct{})

	runtime.start(func(event any, _ time.Time) {
		switch event.(string) {
		case "first":
			runtime.enqueue("second")
		case "second":
			close(done)
		}
	})
	runtime.enqueue("first")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected event enqueued by the handler to be handled")
	}
	runtime.end()
	runtime.waitUntilEnded()
}

func TestOrderedNotifierDeliversInOrder(t *testing.T) {
	notifier := newOrderedNotifier[int]()
	defer notifier.close()

	var mu sync.Mutex
	var first, second []int
	notifier.subscribe(func(value int) {
		mu.Lock()
		first = append(first, value)
		mu.Unlock()
	})
	unsubscribe := notifier.subscribe(func(value int) {
		mu.Lock()
		second = append(second, value)
		mu.Unlock()
	})

	for i := 0; i < 50; i++ {
		notifier.publish(i)
	}
	waitForCondition(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(first) == 50 && len(second) == 50
	}, "every subscriber should receive every value")

	mu.Lock()
	for i := range first {
		if first[i] != i || second[i] != i {
			mu.Unlock()
			t.Fatalf("expected values in publish order")
		}
	}
	mu.Unlock()

	unsubscribe()
	notifier.publish(50)
	waitForCondition(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(first) == 51
	}, "remaining subscriber should receive new values")

	mu.Lock()
	defer mu.Unlock()
	if len(second) != 50 {
		t.Fatalf("expected unsubscribed callback to receive nothing more, got %d", len(second))
	}
}
