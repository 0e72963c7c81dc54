package service

import (
	"sync"

	"github.com/flotilla-dev/flotilla/pkg/trigger"
)

// eventQueue is an unbounded FIFO of trigger events. Many producers
// (triggers, the sink router) push; only the owning service goroutine
// pops. Push never blocks, which is what keeps a slow downstream
// service from stalling its upstream — a Go channel is always bounded,
// so this is a mutex+cond list instead.
type eventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	events []trigger.Event
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an event. Returns false once the queue is closed.
func (q *eventQueue) Push(event trigger.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.events = append(q.events, event)
	q.cond.Signal()
	return true
}

// Pop blocks until an event is available or the queue is closed. After
// close, remaining events are discarded and ok is false.
func (q *eventQueue) Pop() (trigger.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.events) == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.closed {
		return trigger.Event{}, false
	}
	event := q.events[0]
	q.events = q.events[1:]
	return event, true
}

// Close stops intake and wakes the consumer. Idempotent.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.events = nil
	q.cond.Broadcast()
}

// Len reports the number of queued events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
