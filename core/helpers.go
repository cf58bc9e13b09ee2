package orchestration

import (
	"context"
	"fmt"
	"sync"
)

func withContextCancelHook(ctx context.Context, onContextDone func()) chan struct{} {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			onContextDone()
		case <-done:
		}
	}()
	return done
}

type workerRun func(context.Context) error

func panicSafeNamedWorker(name string, run func(context.Context) error) workerRun {
	return func(ctx context.Context) (err error) {
		defer func() {
			if recovered := recover(); recovered != nil {
				err = fmt.Errorf("%s worker panicked: %v", name, recovered)
			}
		}()

		if err = run(ctx); err != nil {
			return fmt.Errorf("%s worker failed: %w", name, err)
		}

		return nil
	}
}

// orderedNotifier delivers published values to every subscriber on its own
// goroutine, in publish order. Publishing never blocks on a subscriber.
type orderedNotifier[T any] struct {
	mu          sync.Mutex
	cond        *sync.Cond
	pending     []T
	subscribers map[int]func(T)
	nextID      int
	closed      bool
	done        chan struct{}
}

func newOrderedNotifier[T any]() *orderedNotifier[T] {
	n := &orderedNotifier[T]{
		subscribers: map[int]func(T){},
		done:        make(chan struct{}),
	}
	n.cond = sync.NewCond(&n.mu)
	go n.run()
	return n
}

func (n *orderedNotifier[T]) subscribe(subscriber func(T)) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.subscribers[id] = subscriber

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subscribers, id)
			n.mu.Unlock()
		})
	}
}

func (n *orderedNotifier[T]) publish(value T) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.pending = append(n.pending, value)
	n.cond.Signal()
}

// close drops undelivered values and waits for the delivery goroutine.
func (n *orderedNotifier[T]) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	n.pending = nil
	n.subscribers = map[int]func(T){}
	n.cond.Broadcast()
	n.mu.Unlock()
	<-n.done
}

func (n *orderedNotifier[T]) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		for len(n.pending) == 0 && !n.closed {
			n.cond.Wait()
		}
		if n.closed {
			n.mu.Unlock()
			return
		}
		value := n.pending[0]
		n.pending = n.pending[1:]
		subscribers := make([]func(T), 0, len(n.subscribers))
		for id := 0; id < n.nextID; id++ {
			if subscriber, ok := n.subscribers[id]; ok {
				subscribers = append(subscribers, subscriber)
			}
		}
		n.mu.Unlock()

		for _, subscriber := range subscribers {
			subscriber(value)
		}
	}
}
