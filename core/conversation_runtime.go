package orchestration

import (
	"sync"
	"sync/atomic"
	"time"
)

type queuedEvent struct {
	event    any
	queuedAt time.Time
}

// conversationRuntime is the orchestrator's event queue and the single
// goroutine draining it. The queue is unbounded so producers such as
// recognizer callbacks and timers never block.
type conversationRuntime struct {
	mu      sync.Mutex
	pending []queuedEvent
	notify  chan struct{}

	closeCh chan struct{}
	done    chan struct{}

	startOnce sync.Once
	endOnce   sync.Once

	started atomic.Bool
}

func newConversationRuntime() *conversationRuntime {
	return &conversationRuntime{
		notify:  make(chan struct{}, 1),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// start runs handle for every queued event, in order, until end is called.
func (runtime *conversationRuntime) start(handle func(event any, queuedAt time.Time)) (started bool) {
	if runtime.isClosed() {
		return false
	}

	runtime.startOnce.Do(func() {
		if runtime.isClosed() {
			return
		}

		started = true
		runtime.started.Store(true)
		go func() {
			defer close(runtime.done)

			for {
				item, ok := runtime.next()
				if !ok {
					select {
					case <-runtime.closeCh:
						return
					case <-runtime.notify:
						continue
					}
				}
				if runtime.isClosed() {
					return
				}
				handle(item.event, item.queuedAt)
			}
		}()
	})

	return started
}

func (runtime *conversationRuntime) next() (queuedEvent, bool) {
	runtime.mu.Lock()
	defer runtime.mu.Unlock()

	if len(runtime.pending) == 0 {
		return queuedEvent{}, false
	}
	item := runtime.pending[0]
	runtime.pending[0] = queuedEvent{}
	runtime.pending = runtime.pending[1:]
	return item, true
}

// enqueue appends event to the queue. Events enqueued before start are kept
// and handled once the runtime starts.
func (runtime *conversationRuntime) enqueue(event any) bool {
	if runtime.isClosed() {
		return false
	}

	runtime.mu.Lock()
	runtime.pending = append(runtime.pending, queuedEvent{event: event, queuedAt: time.Now()})
	runtime.mu.Unlock()

	select {
	case runtime.notify <- struct{}{}:
	default:
	}
	return true
}

func (runtime *conversationRuntime) end() {
	runtime.endOnce.Do(func() {
		close(runtime.closeCh)
	})
}

func (runtime *conversationRuntime) waitUntilEnded() {
	if runtime.started.Load() {
		<-runtime.done
	}
}

func (runtime *conversationRuntime) isClosed() bool {
	select {
	case <-runtime.closeCh:
		return true
	default:
		return false
	}
}

func (runtime *conversationRuntime) queuedEventCount() int {
	runtime.mu.Lock()
	defer runtime.mu.Unlock()
	return len(runtime.pending)
}
