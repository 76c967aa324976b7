package events

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNotifySubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(10, TopicTask)

	bus.Notify(TaskStartedEvent{
		Phase:     "phase-1",
		ID:        "requirements",
		Kind:      "requirements",
		Timestamp: time.Now(),
	})

	select {
	case received := <-ch:
		if received.TaskID() != "requirements" {
			t.Errorf("expected task ID 'requirements', got '%s'", received.TaskID())
		}
		if received.EventType() != EventTypeTaskStarted {
			t.Errorf("expected event type '%s', got '%s'", EventTypeTaskStarted, received.EventType())
		}
		if received.PhaseName() != "phase-1" {
			t.Errorf("expected phase 'phase-1', got '%s'", received.PhaseName())
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch1 := bus.Subscribe(10, TopicTask)
	ch2 := bus.Subscribe(10, TopicTask)

	bus.Notify(TaskCompletedEvent{
		ID:        "charter",
		Content:   "# Charter",
		Attempts:  2,
		Duration:  100 * time.Millisecond,
		Timestamp: time.Now(),
	})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case received := <-ch:
			if received.TaskID() != "charter" {
				t.Errorf("subscriber %d: expected task ID 'charter', got '%s'", i+1, received.TaskID())
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("subscriber %d: timeout waiting for event", i+1)
		}
	}
}

// A full subscriber must never stall the publisher.
func TestNonBlockingSend(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(1, TopicTask)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			bus.Notify(TaskStartedEvent{ID: fmt.Sprintf("task-%d", i), Timestamp: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("publisher blocked (expected non-blocking behavior)")
	}

	select {
	case received := <-ch:
		if received.TaskID() != "task-0" {
			t.Errorf("expected first event to be kept, got %s", received.TaskID())
		}
	default:
		t.Error("expected at least one event in buffer")
	}

	if got := bus.Dropped(); got != 9 {
		t.Errorf("expected 9 dropped events, got %d", got)
	}
}

func TestCloseSignalsSubscribers(t *testing.T) {
	bus := NewEventBus()

	ch := bus.Subscribe(10, TopicTask)
	all := bus.Subscribe(10)

	bus.Close()
	bus.Close() // idempotent

	for _, c := range []<-chan Event{ch, all} {
		received := 0
		for range c {
			received++
		}
		if received != 0 {
			t.Errorf("expected 0 events after close, got %d", received)
		}
	}
}

func TestSubscribeAfterClose(t *testing.T) {
	bus := NewEventBus()
	bus.Close()

	ch := bus.Subscribe(1, TopicTask)
	if _, ok := <-ch; ok {
		t.Error("expected closed channel from subscribe after close")
	}
}

func TestNotifyAfterClose(t *testing.T) {
	bus := NewEventBus()
	ch := bus.Subscribe(10, TopicTask)

	bus.Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("publishing after close caused panic: %v", r)
		}
	}()

	bus.Notify(TaskStartedEvent{ID: "requirements", Timestamp: time.Now()})

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("received event after bus was closed")
		}
	default:
	}
}

func TestNotifyRoutesByTopic(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	taskCh := bus.Subscribe(10, TopicTask)
	dagCh := bus.Subscribe(10, TopicDAG)
	phaseCh := bus.Subscribe(10, TopicPhase)
	runCh := bus.Subscribe(10, TopicRun)

	bus.Notify(PhaseStartedEvent{Phase: "phase-1", TaskIDs: []string{"requirements"}})
	bus.Notify(TaskScoredEvent{Phase: "phase-1", ID: "requirements", Score: 85, Threshold: 80, Passed: true})
	bus.Notify(DAGProgressEvent{Phase: "phase-1", Total: 1, Completed: 1})
	bus.Notify(RunFinishedEvent{RunID: "run-1", State: "completed"})

	tests := []struct {
		name string
		ch   <-chan Event
		want string
	}{
		{"phase", phaseCh, EventTypePhaseStarted},
		{"task", taskCh, EventTypeTaskScored},
		{"dag", dagCh, EventTypeDAGProgress},
		{"run", runCh, EventTypeRunFinished},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			select {
			case received := <-tt.ch:
				if received.EventType() != tt.want {
					t.Errorf("expected %s, got %s", tt.want, received.EventType())
				}
			case <-time.After(100 * time.Millisecond):
				t.Fatal("timeout waiting for event")
			}

			select {
			case extra := <-tt.ch:
				t.Errorf("unexpected extra event %s", extra.EventType())
			case <-time.After(10 * time.Millisecond):
			}
		})
	}
}

func TestSubscribeWithoutTopicsReceivesEverything(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	allCh := bus.Subscribe(20)

	bus.Notify(TaskStartedEvent{ID: "requirements", Timestamp: time.Now()})
	bus.Notify(DAGProgressEvent{Total: 10, Completed: 5, Running: 2, Pending: 3, Timestamp: time.Now()})

	receivedTypes := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case received := <-allCh:
			receivedTypes[received.EventType()] = true
		case <-time.After(100 * time.Millisecond):
			t.Fatal("timeout waiting for event")
		}
	}

	if !receivedTypes[EventTypeTaskStarted] {
		t.Error("did not receive task event")
	}
	if !receivedTypes[EventTypeDAGProgress] {
		t.Error("did not receive DAG event")
	}

	select {
	case <-allCh:
		t.Error("received unexpected third event")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestSubscribeToSeveralTopics(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	ch := bus.Subscribe(10, TopicTask, TopicRun)

	bus.Notify(PhaseStartedEvent{Phase: "phase-1"})
	bus.Notify(TaskStartedEvent{ID: "requirements"})
	bus.Notify(DAGProgressEvent{Total: 1})
	bus.Notify(RunFinishedEvent{RunID: "run-1"})
	bus.Close()

	var got []string
	for e := range ch {
		got = append(got, e.EventType())
	}
	if len(got) != 2 || got[0] != EventTypeTaskStarted || got[1] != EventTypeRunFinished {
		t.Errorf("received %v, want task.started then run.finished", got)
	}
	if bus.Dropped() != 0 {
		t.Errorf("filtered events must not count as dropped, got %d", bus.Dropped())
	}
}

func TestAttachDeliversUntilClose(t *testing.T) {
	bus := NewEventBus()

	var got []string
	done := bus.Attach(SinkFunc(func(e Event) {
		got = append(got, e.TaskID())
	}), 10, TopicTask)

	bus.Notify(TaskStartedEvent{ID: "requirements"})
	bus.Notify(PhaseCompletedEvent{Phase: "phase-1"})
	bus.Notify(TaskCompletedEvent{ID: "requirements"})
	bus.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("attached sink did not finish after close")
	}
	if len(got) != 2 || got[0] != "requirements" || got[1] != "requirements" {
		t.Errorf("attached sink received %v", got)
	}
}

func TestFanout(t *testing.T) {
	var a, b []string
	sink := Fanout{
		SinkFunc(func(e Event) { a = append(a, e.EventType()) }),
		nil,
		SinkFunc(func(e Event) { b = append(b, e.EventType()) }),
		Discard,
	}

	sink.Notify(TaskFailedEvent{ID: "charter", Err: errors.New("boom")})
	sink.Notify(RunFinishedEvent{RunID: "run-1"})

	for name, got := range map[string][]string{"a": a, "b": b} {
		if len(got) != 2 || got[0] != EventTypeTaskFailed || got[1] != EventTypeRunFinished {
			t.Errorf("sink %s received %v", name, got)
		}
	}
}
