package agent

import (
	"sync"
	"time"

	"github.com/odvcencio/pilot/pkg/observability"
)

// EventQueue is the unbounded FIFO between event producers (hooks,
// poller, supervisor) and the single drain loop. Push never blocks.
// Pop waits up to its timeout and may return ok=false with no event,
// which callers treat as a cue to re-check run state, not an error.
type EventQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []Event
	closed bool
}

func NewEventQueue() *EventQueue {
	q := &EventQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends the event. Events pushed after Close are dropped.
func (q *EventQueue) Push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, ev)
	observability.EventQueueDepth.Set(float64(len(q.items)))
	q.cond.Signal()
}

// Pop removes and returns the oldest event. It waits up to timeout for
// one to arrive; ok is false on timeout or when the queue is closed and
// empty.
func (q *EventQueue) Pop(timeout time.Duration) (Event, bool) {
	deadline := time.Now().Add(timeout)
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return Event{}, false
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Event{}, false
		}
		// Cond has no timed wait, so arrange our own wakeup.
		timer := time.AfterFunc(remaining, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		q.cond.Wait()
		timer.Stop()
	}

	ev := q.items[0]
	q.items = q.items[1:]
	observability.EventQueueDepth.Set(float64(len(q.items)))
	return ev, true
}

// Len reports how many events are waiting.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close wakes all waiting consumers. Later pushes are dropped.
func (q *EventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
