package scheduler

import (
	"context"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskPending   TaskStatus = iota // Waiting for prerequisites or a free worker
	TaskRunning                     // Capability in flight
	TaskSucceeded                   // Finished with accepted content
	TaskFailed                      // Finished with error (including blocked and aborted)
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// Capability produces a document from the content of its upstream tasks.
// inputs is keyed by upstream task ID.
type Capability interface {
	Produce(ctx context.Context, inputs map[string]string) (string, error)
}

// CapabilityFunc adapts an ordinary function to the Capability interface.
type CapabilityFunc func(ctx context.Context, inputs map[string]string) (string, error)

// Produce calls f(ctx, inputs).
func (f CapabilityFunc) Produce(ctx context.Context, inputs map[string]string) (string, error) {
	return f(ctx, inputs)
}

// Task describes one unit of content production. Tasks are built fresh for
// every phase and must not be modified once handed to an Executor.
type Task struct {
	ID               string     // Unique within a phase
	Name             string     // Human-readable name
	Kind             string     // Rubric key handed to the Scorer
	Capability       Capability // Produces the first draft
	DependsOn        []string   // Prerequisite task IDs (this phase or earlier phases)
	QualityThreshold *float64   // Minimum score in [0,100]; nil disables the quality gate
	Required         bool       // Failure aborts the remaining phases
}

// Threshold returns a pointer to v for use as Task.QualityThreshold.
func Threshold(v float64) *float64 {
	return &v
}

// Gated reports whether the task runs through the quality gate.
func (t *Task) Gated() bool {
	return t.QualityThreshold != nil
}

// TaskResult is the outcome of one task within a phase.
type TaskResult struct {
	TaskID      string
	Status      TaskStatus
	Content     string       // Accepted content (succeeded only)
	Err         error        // Failure cause (failed only)
	Attempts    int          // Quality-loop iterations consumed
	Assessments []Assessment // One entry per scoring pass, oldest first
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Assessment returns the last quality assessment, if any.
func (r TaskResult) Assessment() (Assessment, bool) {
	if len(r.Assessments) == 0 {
		return Assessment{}, false
	}
	return r.Assessments[len(r.Assessments)-1], true
}

// Duration returns the wall-clock time between start and finish.
// Tasks that never started report zero.
func (r TaskResult) Duration() time.Duration {
	if r.StartedAt.IsZero() || r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

func cloneResult(r *TaskResult) TaskResult {
	cp := *r
	if r.Assessments != nil {
		cp.Assessments = append([]Assessment(nil), r.Assessments...)
	}
	return cp
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}

	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	if task.QualityThreshold != nil {
		cp.QualityThreshold = Threshold(*task.QualityThreshold)
	}
	return &cp
}
