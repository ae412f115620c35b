package scheduler

import (
	"testing"
	"time"

	"github.com/signalsfoundry/starlight/timectrl"
)

func TestEventQueueRunsDueEventsInOrder(t *testing.T) {
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tc := timectrl.NewTimeController(start, time.Second, timectrl.Accelerated)
	q := NewEventQueue(tc)

	var ran []string
	q.Schedule(start.Add(2*time.Second), func(time.Time) { ran = append(ran, "late") })
	q.Schedule(start.Add(time.Second), func(time.Time) { ran = append(ran, "early") })
	cancelled := q.Schedule(start.Add(time.Second), func(time.Time) { ran = append(ran, "cancelled") })
	q.Cancel(cancelled)

	if n := q.RunDue(); n != 0 {
		t.Fatalf("RunDue before due = %d, want 0", n)
	}
	tc.SetTime(start.Add(3 * time.Second))
	if n := q.RunDue(); n != 2 {
		t.Fatalf("RunDue = %d, want 2", n)
	}
	if len(ran) != 2 || ran[0] != "early" || ran[1] != "late" {
		t.Fatalf("ran = %v", ran)
	}
	if q.Len() != 0 {
		t.Fatalf("Len = %d, want 0", q.Len())
	}
}

func TestEventQueueRecurring(t *testing.T) {
	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tc := timectrl.NewTimeController(start, time.Second, timectrl.Accelerated)
	q := NewEventQueue(tc)

	runs := 0
	id, err := q.ScheduleEvery(10*time.Second, func(time.Time) { runs++ })
	if err != nil {
		t.Fatalf("ScheduleEvery error: %v", err)
	}

	tc.SetTime(start.Add(10 * time.Second))
	q.RunDue()
	// A long jump runs the recurring event once, not once per missed period.
	tc.SetTime(start.Add(55 * time.Second))
	q.RunDue()
	tc.SetTime(start.Add(59 * time.Second))
	q.RunDue()
	if runs != 2 {
		t.Fatalf("runs = %d, want 2", runs)
	}

	tc.SetTime(start.Add(60 * time.Second))
	q.RunDue()
	if runs != 3 {
		t.Fatalf("runs = %d, want 3", runs)
	}

	q.Cancel(id)
	tc.SetTime(start.Add(120 * time.Second))
	q.RunDue()
	if runs != 3 || q.Len() != 0 {
		t.Fatalf("cancelled event ran: runs=%d len=%d", runs, q.Len())
	}

	if _, err := q.ScheduleEvery(0, func(time.Time) {}); err == nil {
		t.Fatalf("expected error for zero interval")
	}
}
