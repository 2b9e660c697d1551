package agent

import (
	"testing"
	"time"
)

func TestEventQueueOrdering(t *testing.T) {
	q := NewEventQueue()
	q.Push(newEvent(KindStatus, "s1", nil))
	q.Push(newEvent(KindStepStart, "s1", nil))
	q.Push(newEvent(KindThinking, "s1", nil))

	want := []EventKind{KindStatus, KindStepStart, KindThinking}
	for i, kind := range want {
		ev, ok := q.Pop(time.Second)
		if !ok {
			t.Fatalf("pop %d: queue unexpectedly empty", i)
		}
		if ev.Kind != kind {
			t.Fatalf("pop %d: got %s, want %s", i, ev.Kind, kind)
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, have %d items", q.Len())
	}
}

func TestEventQueuePopTimesOut(t *testing.T) {
	q := NewEventQueue()

	start := time.Now()
	_, ok := q.Pop(30 * time.Millisecond)
	elapsed := time.Since(start)

	if ok {
		t.Fatal("pop on an empty queue should report ok=false")
	}
	if elapsed < 20*time.Millisecond {
		t.Fatalf("pop returned after %v, before the timeout", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("pop took %v, far past the timeout", elapsed)
	}
}

func TestEventQueuePushWakesWaiter(t *testing.T) {
	q := NewEventQueue()

	got := make(chan Event, 1)
	go func() {
		ev, ok := q.Pop(5 * time.Second)
		if ok {
			got <- ev
		}
		close(got)
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(newEvent(KindComplete, "s1", nil))

	select {
	case ev, ok := <-got:
		if !ok {
			t.Fatal("waiter timed out instead of receiving the push")
		}
		if ev.Kind != KindComplete {
			t.Fatalf("got %s, want %s", ev.Kind, KindComplete)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never woke up")
	}
}

func TestEventQueueClose(t *testing.T) {
	q := NewEventQueue()
	q.Push(newEvent(KindStatus, "s1", nil))
	q.Close()

	// Events queued before Close stay poppable.
	if ev, ok := q.Pop(time.Second); !ok || ev.Kind != KindStatus {
		t.Fatalf("expected queued event after close, got ok=%v kind=%v", ok, ev.Kind)
	}

	// Pushes after Close are dropped.
	q.Push(newEvent(KindThinking, "s1", nil))
	if q.Len() != 0 {
		t.Fatalf("push after close should be dropped, have %d items", q.Len())
	}

	// A closed empty queue returns immediately.
	start := time.Now()
	if _, ok := q.Pop(5 * time.Second); ok {
		t.Fatal("closed empty queue should report ok=false")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("pop on closed queue blocked for %v", elapsed)
	}
}
