package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrency is used when ExecutorConfig.MaxConcurrency is not positive.
const DefaultMaxConcurrency = 4

// Listener receives task lifecycle callbacks. Calls arrive from worker
// goroutines and from the dispatcher, so implementations must be safe for
// concurrent use and must return quickly.
type Listener interface {
	TaskStarted(task *Task)
	TaskScored(task *Task, assessment Assessment)
	TaskFinished(task *Task, result TaskResult)
}

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	MaxConcurrency int           // Worker pool size (default 4)
	TaskTimeout    time.Duration // Bound on each produce/improve call; 0 disables
}

// Executor runs the tasks of one phase, starting each task once all of its
// in-phase prerequisites have succeeded. Execute must not be called
// concurrently on the same Executor.
type Executor struct {
	cfg    ExecutorConfig
	gate   *QualityGate
	logger *slog.Logger

	mu      sync.RWMutex
	results map[string]*TaskResult
}

// NewExecutor creates an executor that runs tasks through gate.
func NewExecutor(cfg ExecutorConfig, gate *QualityGate, logger *slog.Logger) *Executor {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if logger == nil {
		logger = slog.Default()
	}
	if gate == nil {
		gate = NewQualityGate(nil, nil, cfg.TaskTimeout, logger)
	}
	return &Executor{
		cfg:    cfg,
		gate:   gate,
		logger: logger,
	}
}

// Execute runs every task in graph and returns one terminal result per task.
//
// shared holds content produced outside the phase; tasks receive the entries
// named in their DependsOn. A failed task fails all of its transitive
// dependents with BlockedByDependencyError without invoking them, while
// unrelated branches keep running. Cancelling ctx stops admission of new
// tasks: running capabilities finish normally and tasks that never started
// fail with ErrAborted.
func (e *Executor) Execute(ctx context.Context, tasks []*Task, graph *Graph, shared map[string]string, l Listener) map[string]TaskResult {
	if l == nil {
		l = nopListener{}
	}

	byID := make(map[string]*Task, len(tasks))
	for _, task := range tasks {
		byID[task.ID] = task
	}

	e.mu.Lock()
	e.results = make(map[string]*TaskResult, len(tasks))
	for _, task := range tasks {
		e.results[task.ID] = &TaskResult{TaskID: task.ID, Status: TaskPending}
	}
	e.mu.Unlock()

	// Dispatcher-owned bookkeeping; workers never touch these.
	remaining := make(map[string]int, len(tasks))
	queued := make(map[string]bool, len(tasks))
	for _, id := range graph.Order() {
		remaining[id] = len(graph.Prerequisites(id))
	}

	readyCh := make(chan *Task, len(tasks))
	doneCh := make(chan string, len(tasks))
	var stopped atomic.Bool

	// Running capabilities are not interrupted by an abort.
	runCtx := context.WithoutCancel(ctx)
	if ctx.Err() != nil {
		stopped.Store(true)
	}

	workers := min(e.cfg.MaxConcurrency, len(tasks))
	var g errgroup.Group
	g.SetLimit(max(workers, 1))
	for i := 0; i < workers; i++ {
		workerID := i
		g.Go(func() error {
			e.worker(runCtx, workerID, readyCh, doneCh, &stopped, shared, l)
			return nil
		})
	}

	// inFlight counts queued or running tasks. It grows on enqueue, never
	// from len(readyCh): workers drain the channel concurrently.
	inFlight := 0
	enqueue := func(id string) {
		queued[id] = true
		inFlight++
		readyCh <- byID[id]
	}

	for _, id := range graph.Order() {
		if remaining[id] == 0 {
			enqueue(id)
		}
	}

	terminal := 0
	ctxDone := ctx.Done()
	if stopped.Load() {
		ctxDone = nil
		terminal += e.abortPending(byID, queued, l)
	}

	for terminal < len(tasks) {
		if inFlight == 0 {
			// Only possible after an abort drained the queue.
			break
		}

		select {
		case id := <-doneCh:
			inFlight--
			terminal++

			result := e.snapshot(id)
			if result.Status == TaskSucceeded {
				for _, dependent := range graph.Dependents(id) {
					remaining[dependent]--
					if remaining[dependent] == 0 && !stopped.Load() && e.status(dependent) == TaskPending {
						enqueue(dependent)
					}
				}
				continue
			}
			terminal += e.blockDependents(id, graph, byID, queued, l)

		case <-ctxDone:
			ctxDone = nil
			stopped.Store(true)
			e.logger.Warn("abort requested, no new tasks will be admitted", "in_flight", inFlight)
			terminal += e.abortPending(byID, queued, l)
		}
	}

	close(readyCh)
	_ = g.Wait()

	// Anything still pending here was never reachable (abort raced completion).
	e.abortPending(byID, queued, l)

	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]TaskResult, len(e.results))
	for id, r := range e.results {
		out[id] = cloneResult(r)
	}
	return out
}

// worker pulls ready tasks until the queue is closed.
func (e *Executor) worker(ctx context.Context, workerID int, readyCh <-chan *Task, doneCh chan<- string, stopped *atomic.Bool, shared map[string]string, l Listener) {
	logger := e.logger.With("worker", workerID)

	for task := range readyCh {
		if stopped.Load() {
			e.finish(task, func(r *TaskResult) {
				r.Status = TaskFailed
				r.Err = fmt.Errorf("task %q not started: %w", task.ID, ErrAborted)
			}, l)
			doneCh <- task.ID
			continue
		}

		inputs := e.collectInputs(task, shared)

		e.mu.Lock()
		r := e.results[task.ID]
		r.Status = TaskRunning
		r.StartedAt = time.Now()
		e.mu.Unlock()
		l.TaskStarted(task)

		logger.Debug("task started", "task", task.ID)

		outcome, err := e.gate.Run(ctx, task, inputs, func(a Assessment) {
			e.mu.Lock()
			e.results[task.ID].Assessments = append(e.results[task.ID].Assessments, a)
			e.mu.Unlock()
			l.TaskScored(task, a)
		})

		e.finish(task, func(r *TaskResult) {
			r.Attempts = outcome.Attempts
			if err != nil {
				r.Status = TaskFailed
				r.Err = err
				return
			}
			r.Status = TaskSucceeded
			r.Content = outcome.Content
		}, l)

		if err != nil {
			logger.Debug("task failed", "task", task.ID, "error", err)
		} else {
			logger.Debug("task succeeded", "task", task.ID, "attempts", outcome.Attempts)
		}
		doneCh <- task.ID
	}
}

// collectInputs gathers the content of a task's prerequisites. Out-of-band
// prerequisites missing from shared are omitted.
func (e *Executor) collectInputs(task *Task, shared map[string]string) map[string]string {
	inputs := make(map[string]string, len(task.DependsOn))

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, depID := range task.DependsOn {
		if r, ok := e.results[depID]; ok {
			if r.Status == TaskSucceeded {
				inputs[depID] = r.Content
			}
			continue
		}
		if content, ok := shared[depID]; ok {
			inputs[depID] = content
		}
	}
	return inputs
}

// blockDependents fails every pending transitive dependent of failedID and
// returns how many tasks became terminal.
func (e *Executor) blockDependents(failedID string, graph *Graph, byID map[string]*Task, queued map[string]bool, l Listener) int {
	count := 0
	stack := []string{failedID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, dependent := range graph.Dependents(id) {
			if queued[dependent] || e.status(dependent) != TaskPending {
				continue
			}
			cause := id
			e.finish(byID[dependent], func(r *TaskResult) {
				r.Status = TaskFailed
				r.Err = &BlockedByDependencyError{TaskID: dependent, DependencyID: cause}
			}, l)
			e.logger.Debug("task blocked", "task", dependent, "dependency", cause)
			count++
			stack = append(stack, dependent)
		}
	}
	return count
}

// abortPending fails every task that is still pending and not queued.
func (e *Executor) abortPending(byID map[string]*Task, queued map[string]bool, l Listener) int {
	count := 0
	for id, task := range byID {
		if queued[id] || e.status(id) != TaskPending {
			continue
		}
		e.finish(task, func(r *TaskResult) {
			r.Status = TaskFailed
			r.Err = fmt.Errorf("task %q not started: %w", id, ErrAborted)
		}, l)
		count++
	}
	return count
}

// finish applies a terminal mutation and notifies the listener with a copy.
func (e *Executor) finish(task *Task, mutate func(*TaskResult), l Listener) {
	e.mu.Lock()
	r := e.results[task.ID]
	mutate(r)
	r.FinishedAt = time.Now()
	snapshot := cloneResult(r)
	e.mu.Unlock()

	l.TaskFinished(task, snapshot)
}

func (e *Executor) status(id string) TaskStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.results[id].Status
}

func (e *Executor) snapshot(id string) TaskResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return cloneResult(e.results[id])
}

// Results returns a copy of the current results. Safe to call while Execute runs.
func (e *Executor) Results() map[string]TaskResult {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]TaskResult, len(e.results))
	for id, r := range e.results {
		out[id] = cloneResult(r)
	}
	return out
}

type nopListener struct{}

func (nopListener) TaskStarted(*Task)              {}
func (nopListener) TaskScored(*Task, Assessment)   {}
func (nopListener) TaskFinished(*Task, TaskResult) {}
