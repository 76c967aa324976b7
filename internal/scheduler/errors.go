package scheduler

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRequiredTaskFailed is wrapped by the fatal error of a run in which a
	// task flagged as required did not succeed.
	ErrRequiredTaskFailed = errors.New("required task failed")

	// ErrAborted marks tasks that were never started because the run was aborted.
	ErrAborted = errors.New("run aborted")
)

// Capability operations reported by CapabilityError.
const (
	OpProduce = "produce"
	OpImprove = "improve"
)

// CycleError reports tasks that depend on themselves, directly or transitively.
type CycleError struct {
	IDs []string // Tasks left unsorted, in insertion order
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle among tasks: %s", strings.Join(e.IDs, ", "))
}

// UnknownDependencyError reports a dependency that is neither a task of the
// phase nor supplied by an earlier phase or the shared context.
type UnknownDependencyError struct {
	TaskID       string
	DependencyID string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("task %q depends on unknown task %q", e.TaskID, e.DependencyID)
}

// CapabilityError wraps a failed or timed-out produce/improve call.
type CapabilityError struct {
	TaskID string
	Op     string
	Err    error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("task %q: %s failed: %v", e.TaskID, e.Op, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }

// BlockedByDependencyError is assigned to a task whose prerequisite failed.
// The blocked task's capability is never invoked.
type BlockedByDependencyError struct {
	TaskID       string
	DependencyID string
}

func (e *BlockedByDependencyError) Error() string {
	return fmt.Sprintf("task %q blocked by failed dependency %q", e.TaskID, e.DependencyID)
}

// IsBlocked reports whether err is (or wraps) a BlockedByDependencyError.
func IsBlocked(err error) bool {
	var blocked *BlockedByDependencyError
	return errors.As(err, &blocked)
}
