package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
	PhaseName() string
}

// Topic constants
const (
	TopicRun   = "run"
	TopicPhase = "phase"
	TopicTask  = "task"
	TopicDAG   = "dag"
)

// Event type constants
const (
	EventTypePhaseStarted   = "phase.started"
	EventTypePhaseCompleted = "phase.completed"
	EventTypeTaskStarted    = "task.started"
	EventTypeTaskScored     = "task.scored"
	EventTypeTaskCompleted  = "task.completed"
	EventTypeTaskFailed     = "task.failed"
	EventTypeDAGProgress    = "dag.progress"
	EventTypeRunFinished    = "run.finished"
)

// TopicFor returns the topic an event is published on.
func TopicFor(e Event) string {
	switch e.(type) {
	case PhaseStartedEvent, PhaseCompletedEvent:
		return TopicPhase
	case DAGProgressEvent:
		return TopicDAG
	case RunFinishedEvent:
		return TopicRun
	default:
		return TopicTask
	}
}

// PhaseStartedEvent is published before a phase's first task is admitted.
type PhaseStartedEvent struct {
	Phase     string
	Index     int
	TaskIDs   []string
	Timestamp time.Time
}

func (e PhaseStartedEvent) EventType() string { return EventTypePhaseStarted }
func (e PhaseStartedEvent) TaskID() string    { return "" }
func (e PhaseStartedEvent) PhaseName() string { return e.Phase }

// PhaseCompletedEvent is published once every task of a phase is terminal.
type PhaseCompletedEvent struct {
	Phase     string
	Index     int
	Succeeded int
	Failed    int
	Duration  time.Duration
	Timestamp time.Time
}

func (e PhaseCompletedEvent) EventType() string { return EventTypePhaseCompleted }
func (e PhaseCompletedEvent) TaskID() string    { return "" }
func (e PhaseCompletedEvent) PhaseName() string { return e.Phase }

// TaskStartedEvent is published when a task begins execution.
type TaskStartedEvent struct {
	Phase     string
	ID        string
	Name      string
	Kind      string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }
func (e TaskStartedEvent) PhaseName() string { return e.Phase }

// TaskScoredEvent is published after every quality scoring pass.
type TaskScoredEvent struct {
	Phase     string
	ID        string
	Kind      string
	Attempt   int
	Score     float64
	Threshold float64
	Passed    bool
	Issues    []string
	Timestamp time.Time
}

func (e TaskScoredEvent) EventType() string { return EventTypeTaskScored }
func (e TaskScoredEvent) TaskID() string    { return e.ID }
func (e TaskScoredEvent) PhaseName() string { return e.Phase }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	Phase     string
	ID        string
	Kind      string
	Content   string
	Attempts  int
	Score     float64 // Last score, 0 for ungated tasks
	Passed    bool    // False when accepted below threshold
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }
func (e TaskCompletedEvent) PhaseName() string { return e.Phase }

// TaskFailedEvent is published when a task fails, is blocked, or is aborted.
type TaskFailedEvent struct {
	Phase     string
	ID        string
	Kind      string
	Err       error
	Blocked   bool
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }
func (e TaskFailedEvent) PhaseName() string { return e.Phase }

// DAGProgressEvent is published when phase progress changes.
type DAGProgressEvent struct {
	Phase     string
	Total     int
	Completed int
	Running   int
	Failed    int
	Pending   int
	Timestamp time.Time
}

func (e DAGProgressEvent) EventType() string { return EventTypeDAGProgress }
func (e DAGProgressEvent) TaskID() string    { return "" }
func (e DAGProgressEvent) PhaseName() string { return e.Phase }

// RunFinishedEvent is the last event of a run.
type RunFinishedEvent struct {
	RunID     string
	State     string
	Documents int
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) TaskID() string    { return "" }
func (e RunFinishedEvent) PhaseName() string { return "" }
