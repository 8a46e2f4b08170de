package document

import "sync"

// eventQueue is a thread-safe FIFO of committed events awaiting delivery.
//
// Delivery is re-entrancy safe: a handler that commits a transaction only
// enqueues its event, and whoever currently holds the drain delivers it
// after the event being handled. This keeps every subscriber on commit
// order without recursion.
type eventQueue struct {
	mu       sync.Mutex
	events   []Event
	draining bool
}

func newEventQueue() *eventQueue {
	return &eventQueue{events: make([]Event, 0, 16)}
}

// Enqueue adds an event to the back of the queue.
func (q *eventQueue) Enqueue(e Event) {
	q.mu.Lock()
	q.events = append(q.events, e)
	q.mu.Unlock()
}

// acquire claims the drain. It returns false when another caller (possibly
// further up this goroutine's stack) is already draining.
func (q *eventQueue) acquire() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.draining {
		return false
	}
	q.draining = true
	return true
}

// next pops the front event. When the queue is empty it releases the drain
// in the same critical section, so an event enqueued concurrently is never
// stranded.
func (q *eventQueue) next() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		q.draining = false
		return Event{}, false
	}
	e := q.events[0]
	// Drop the slot's references so delivered trees can be collected.
	q.events[0] = Event{}
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	return e, true
}

// Len returns the number of undelivered events.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}
