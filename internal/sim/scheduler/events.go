package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/signalsfoundry/starlight/timectrl"
)

// EventQueue runs callbacks once simulation time reaches their due time.
// The simulator uses it for periodic work that is not part of the
// per-tick evaluation, such as saving vehicle states.
type EventQueue struct {
	clock timectrl.SimClock

	mu      sync.Mutex
	counter uint64
	events  []*queuedEvent // ordered by due time, earliest first
	index   map[string]*queuedEvent
}

type queuedEvent struct {
	id        string
	due       time.Time
	fn        func(simTime time.Time)
	every     time.Duration
	cancelled bool
}

// NewEventQueue creates a queue reading time from clock.
func NewEventQueue(clock timectrl.SimClock) *EventQueue {
	return &EventQueue{clock: clock, index: make(map[string]*queuedEvent)}
}

// Schedule runs fn once at simulation time at. It returns an ID usable
// with Cancel.
func (q *EventQueue) Schedule(at time.Time, fn func(simTime time.Time)) string {
	return q.add(at, 0, fn)
}

// ScheduleEvery runs fn every interval of simulation time, starting one
// interval from now. Non-positive intervals are rejected.
func (q *EventQueue) ScheduleEvery(interval time.Duration, fn func(simTime time.Time)) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("schedule every %s: interval must be positive", interval)
	}
	return q.add(q.clock.Now().Add(interval), interval, fn), nil
}

func (q *EventQueue) add(at time.Time, every time.Duration, fn func(time.Time)) string {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.counter++
	ev := &queuedEvent{
		id:    fmt.Sprintf("ev-%d", q.counter),
		due:   at,
		fn:    fn,
		every: every,
	}
	q.insertLocked(ev)
	q.index[ev.id] = ev
	return ev.id
}

func (q *EventQueue) insertLocked(ev *queuedEvent) {
	idx := sort.Search(len(q.events), func(i int) bool {
		return q.events[i].due.After(ev.due)
	})
	q.events = append(q.events, nil)
	copy(q.events[idx+1:], q.events[idx:])
	q.events[idx] = ev
}

// Cancel drops a scheduled event. Unknown IDs are ignored.
func (q *EventQueue) Cancel(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if ev, ok := q.index[id]; ok {
		ev.cancelled = true
		delete(q.index, id)
	}
}

// Len returns the number of pending events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.index)
}

// RunDue runs every event due at the current simulation time and returns
// how many ran. Callbacks run outside the lock and may schedule more
// events. A recurring event runs at most once per call.
func (q *EventQueue) RunDue() int {
	now := q.clock.Now()
	var due []*queuedEvent

	q.mu.Lock()
	for len(q.events) > 0 && !q.events[0].due.After(now) {
		ev := q.events[0]
		q.events = q.events[1:]
		if ev.cancelled {
			continue
		}
		due = append(due, ev)
	}
	for _, ev := range due {
		if ev.every > 0 {
			// Skip missed periods so a large warp does not queue a burst.
			for !ev.due.After(now) {
				ev.due = ev.due.Add(ev.every)
			}
			q.insertLocked(ev)
			continue
		}
		delete(q.index, ev.id)
	}
	q.mu.Unlock()

	for _, ev := range due {
		if ev.fn != nil {
			ev.fn(now)
		}
	}
	return len(due)
}
