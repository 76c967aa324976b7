package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/aristath/docflow/internal/scheduler"
)

// RunSaver binds a Store to one run so it can serve as the scheduler's
// persistence hook.
type RunSaver struct {
	store Store
	runID string
}

// NewRunSaver creates a saver that writes into runID.
func NewRunSaver(store Store, runID string) *RunSaver {
	return &RunSaver{store: store, runID: runID}
}

// Save stores accepted content without phase or scoring details.
func (s *RunSaver) Save(ctx context.Context, taskID, content string) error {
	return s.store.SaveDocument(ctx, s.runID, "", scheduler.TaskResult{
		TaskID:  taskID,
		Status:  scheduler.TaskSucceeded,
		Content: content,
	})
}

// SaveResult stores any terminal result with its assessments.
func (s *RunSaver) SaveResult(ctx context.Context, phase string, result scheduler.TaskResult) error {
	return s.store.SaveDocument(ctx, s.runID, phase, result)
}

// MultiSaver hands every result to each of its savers in order. All savers
// are attempted; their errors are joined.
type MultiSaver []scheduler.Saver

// Save calls Save on every saver.
func (m MultiSaver) Save(ctx context.Context, taskID, content string) error {
	var errs []error
	for _, s := range m {
		if err := s.Save(ctx, taskID, content); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SaveResult calls SaveResult on savers that implement it and Save, for
// succeeded results only, on the others.
func (m MultiSaver) SaveResult(ctx context.Context, phase string, result scheduler.TaskResult) error {
	var errs []error
	for i, s := range m {
		var err error
		if rs, ok := s.(scheduler.ResultSaver); ok {
			err = rs.SaveResult(ctx, phase, result)
		} else if result.Status == scheduler.TaskSucceeded {
			err = s.Save(ctx, result.TaskID, result.Content)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("saver %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
